package index

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/vector"
)

// Storage keys owned by the index. Caller metadata never lands on these names.
const (
	KeySourceID    = "sourceId"
	KeyModelID     = "modelId"
	KeyStartOffset = "startOffset"
	KeyEndOffset   = "endOffset"
	KeyStoredAt    = "storedAt"
	KeyTextLength  = "text_length"

	// MetaPrefix is prepended to every caller metadata key in storage.
	MetaPrefix = "meta_"
)

var reservedKeys = map[string]bool{
	KeySourceID:    true,
	KeyModelID:     true,
	KeyStartOffset: true,
	KeyEndOffset:   true,
	KeyStoredAt:    true,
	KeyTextLength:  true,
}

// IsReserved reports whether key is a system field of stored segments.
func IsReserved(key string) bool {
	return reservedKeys[key]
}

// encodeMetadata flattens a segment into storage metadata: system fields under reserved keys and
// caller metadata under MetaPrefix. Non-scalar caller values are stored as JSON strings.
func encodeMetadata(seg *models.EmbeddedSegment, storedAt time.Time) map[string]any {
	out := make(map[string]any, len(seg.Metadata)+len(reservedKeys))
	for k, v := range seg.Metadata {
		if v == nil {
			continue
		}
		out[MetaPrefix+k] = scalar(v)
	}
	out[KeySourceID] = seg.SourceID
	out[KeyModelID] = seg.ModelID
	out[KeyStartOffset] = seg.StartOffset
	out[KeyEndOffset] = seg.EndOffset
	out[KeyStoredAt] = storedAt.UTC().Format(time.RFC3339Nano)
	out[KeyTextLength] = utf8.RuneCountInString(seg.Text)
	return out
}

func scalar(v any) any {
	switch x := v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// restoreMetadata returns the caller metadata held in stored, with prefixes removed.
func restoreMetadata(stored map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range stored {
		if name, ok := strings.CutPrefix(k, MetaPrefix); ok {
			out[name] = v
		}
	}
	return out
}

// translateFilter maps caller filter keys to storage keys. Reserved keys pass through unprefixed.
func translateFilter(filter map[string]any) vector.Where {
	if len(filter) == 0 {
		return nil
	}
	where := make(vector.Where, len(filter))
	for k, v := range filter {
		if IsReserved(k) {
			where[k] = v
			continue
		}
		where[MetaPrefix+k] = scalar(v)
	}
	return where
}

func stringField(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func intField(meta map[string]any, key string) int {
	switch x := meta[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	case float32:
		return int(x)
	}
	return 0
}

// toStoredSegment rebuilds a StoredSegment from an engine record.
func toStoredSegment(r vector.Record) *models.StoredSegment {
	seg := &models.StoredSegment{}
	seg.SegmentID = r.ID
	seg.Text = r.Document
	seg.SourceID = stringField(r.Metadata, KeySourceID)
	seg.ModelID = stringField(r.Metadata, KeyModelID)
	seg.StartOffset = intField(r.Metadata, KeyStartOffset)
	seg.EndOffset = intField(r.Metadata, KeyEndOffset)
	seg.Metadata = restoreMetadata(r.Metadata)
	seg.Vector = r.Vector
	if ts := stringField(r.Metadata, KeyStoredAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			seg.StoredAt = t
		}
	}
	return seg
}
