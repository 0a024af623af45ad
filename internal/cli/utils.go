// Package cli provides output formatting for the kenkyu command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/storage"
	"github.com/hyperjump/kenkyu/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
}

// SearchOutput is the result of one search command.
type SearchOutput struct {
	Query     string                `json:"query"`
	QueryTime int64                 `json:"query_time_ms"`
	Results   []models.RankedResult `json:"results"`
}

// StatusOutput combines index statistics with registry counts.
type StatusOutput struct {
	Index          *models.IndexStats `json:"index"`
	Engine         string             `json:"engine"`
	Documents      int64              `json:"documents"`
	Segments       int64              `json:"segments"`
	DiskUsageBytes *int64             `json:"disk_usage_bytes,omitempty"`
}

// StatsSource reports statistics for a vector collection.
type StatsSource interface {
	Stats(ctx context.Context) (*models.IndexStats, error)
}

// CollectStatus gathers index statistics, registry counts and, when diskPaths are given, their
// combined disk usage. A disk usage failure leaves DiskUsageBytes nil.
func CollectStatus(ctx context.Context, index StatsSource, store storage.Storage, engine string, diskPaths ...string) (*StatusOutput, error) {
	stats, err := index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := store.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	segs, err := store.CountSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count segments: %w", err)
	}
	out := &StatusOutput{Index: stats, Engine: engine, Documents: docs, Segments: segs}
	if len(diskPaths) > 0 {
		if usage, err := storage.DiskUsageBytes(diskPaths...); err == nil {
			out.DiskUsageBytes = &usage
		}
	}
	return out, nil
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, out *SearchOutput, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "\nFound %d results for %q in %dms\n\n", len(out.Results), out.Query, out.QueryTime)
	for _, r := range out.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", r.Position, r.Similarity)
		fmt.Fprintf(w, "ID: %s\n", r.ID)
		fmt.Fprintf(w, "Source: %s\n", r.SourceID)
		if title, ok := r.Metadata["title"].(string); ok && title != "" {
			fmt.Fprintf(w, "Title: %s\n", title)
		}
		if r.Reasoning != "" {
			fmt.Fprintf(w, "Why: %s\n", r.Reasoning)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, 200))
	}
	return nil
}

// WriteStatus writes collection status to w in the given format.
func WriteStatus(w io.Writer, out *StatusOutput, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "Collection:      %s (%s)\n", out.Index.Collection, out.Engine)
	fmt.Fprintf(w, "Documents:       %d\n", out.Documents)
	fmt.Fprintf(w, "Segments:        %d indexed, %d registered\n", out.Index.TotalSegments, out.Segments)
	fmt.Fprintf(w, "Sources:         %d\n", out.Index.UniqueSources)
	fmt.Fprintf(w, "Models:          %s\n", strings.Join(out.Index.ModelsUsed, ", "))
	fmt.Fprintf(w, "Avg text length: %.1f\n", out.Index.AvgTextLength)
	fmt.Fprintf(w, "Characters:      %d\n", out.Index.TotalCharacters)
	if out.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(*out.DiskUsageBytes))
	}
	return nil
}

// WriteHealth writes a health status to w in the given format.
func WriteHealth(w io.Writer, status models.HealthStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	state := "healthy"
	if !status.Healthy {
		state = "unhealthy"
	}
	fmt.Fprintf(w, "Collection %s is %s (%d segments)\n", status.Collection, state, status.Segments)
	writeComponent(w, "engine", status.Engine)
	writeComponent(w, "embedder", status.Embedder)
	return nil
}

func writeComponent(w io.Writer, name string, s models.ComponentStatus) {
	if s.OK {
		fmt.Fprintf(w, "  %-9s ok (%s)\n", name, s.Latency)
		return
	}
	fmt.Fprintf(w, "  %-9s FAILED: %s\n", name, s.Error)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
