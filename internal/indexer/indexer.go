package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kenkyu/internal/embedding"
	"github.com/hyperjump/kenkyu/internal/models"
	"github.com/hyperjump/kenkyu/internal/storage"
	"github.com/hyperjump/kenkyu/pkg/utils"
)

// DefaultConcurrency bounds IndexDocuments when no WithConcurrency option is given.
const DefaultConcurrency = 4

// Caller metadata keys the indexer adds to segments.
const (
	MetaTitle       = "title"
	MetaSourcePath  = "source_path"
	MetaSourceMtime = "source_mtime"
	MetaSourceSize  = "source_size"
)

// SegmentIndex is the part of the vector index the indexer writes to.
type SegmentIndex interface {
	Add(ctx context.Context, segments []*models.EmbeddedSegment) error
	GetByID(ctx context.Context, id string) (*models.StoredSegment, error)
	DeleteBySource(ctx context.Context, sourceID string) bool
}

// Indexer registers documents, chunks them, embeds the segments, and writes them to the index.
type Indexer struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	index       SegmentIndex
	chunker     *Chunker
	concurrency int
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithConcurrency bounds how many documents IndexDocuments processes at once.
func WithConcurrency(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.concurrency = n
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(store storage.Storage, embedder embedding.Embedder, index SegmentIndex, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:     store,
		embedder:    embedder,
		index:       index,
		chunker:     chunker,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexDocument indexes the document's segments and stores or updates the document, returning
// its id and the number of segments written. An empty input id is replaced by a generated one;
// input itself is not modified. The document id is the segments' source id.
//
// Segments are embedded before anything is written and the document record is saved last. A
// failed run leaves the stored record and any file fingerprint at the previous version.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (string, int, error) {
	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}
	doc := &models.Document{
		ID:       id,
		Title:    input.Title,
		Content:  Preprocess(input.Content),
		Metadata: input.Metadata,
	}
	n, err := idx.indexContent(ctx, doc)
	if err != nil {
		return id, 0, err
	}
	if err := idx.upsertDocument(ctx, doc); err != nil {
		return id, 0, err
	}
	return id, n, nil
}

func (idx *Indexer) upsertDocument(ctx context.Context, doc *models.Document) error {
	_, err := idx.storage.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if err := idx.storage.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := idx.storage.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}
	default:
		return fmt.Errorf("failed to look up document: %w", err)
	}
	return nil
}

func (idx *Indexer) indexContent(ctx context.Context, doc *models.Document) (int, error) {
	embedded, refs, err := idx.embedSegments(ctx, doc)
	if err != nil {
		return 0, err
	}
	if !idx.index.DeleteBySource(ctx, doc.ID) {
		return 0, fmt.Errorf("%w: failed to remove previous segments of %s", models.ErrEngine, doc.ID)
	}
	if err := idx.index.Add(ctx, embedded); err != nil {
		return 0, fmt.Errorf("failed to index segments: %w", err)
	}
	if err := idx.storage.ReplaceSegments(ctx, doc.ID, refs); err != nil {
		return 0, fmt.Errorf("failed to store segments: %w", err)
	}
	idx.logger.Debug("indexer document indexed", zap.String("id", doc.ID), zap.Int("segments", len(embedded)))
	return len(embedded), nil
}

// embedSegments chunks and embeds doc without writing anything.
func (idx *Indexer) embedSegments(ctx context.Context, doc *models.Document) ([]*models.EmbeddedSegment, []*models.SegmentRef, error) {
	meta := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	if doc.Title != "" {
		meta[MetaTitle] = doc.Title
	}
	segments := idx.chunker.Chunk(doc.Content, doc.ID, meta)
	if len(segments) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to generate embeddings: %v", models.ErrEmbedding, err)
	}
	if len(vectors) != len(segments) {
		return nil, nil, fmt.Errorf("%w: got %d embeddings for %d segments", models.ErrEmbedding, len(vectors), len(segments))
	}

	modelID := idx.embedder.ModelID()
	embedded := make([]*models.EmbeddedSegment, len(segments))
	refs := make([]*models.SegmentRef, len(segments))
	for i, s := range segments {
		embedded[i] = &models.EmbeddedSegment{Segment: *s, Vector: vectors[i], ModelID: modelID}
		refs[i] = &models.SegmentRef{
			ID:          s.SegmentID,
			Index:       i,
			StartOffset: s.StartOffset,
			EndOffset:   s.EndOffset,
			ModelID:     modelID,
		}
	}
	return embedded, refs, nil
}

// IndexDocuments indexes inputs concurrently and returns the total number of segments written.
// It stops at the first failure.
func (idx *Indexer) IndexDocuments(ctx context.Context, inputs []*models.DocumentInput) (int, error) {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for _, input := range inputs {
		g.Go(func() error {
			id, n, err := idx.IndexDocument(gctx, input)
			if err != nil {
				return fmt.Errorf("document %s: %w", id, err)
			}
			total.Add(int64(n))
			return nil
		})
	}
	err := g.Wait()
	return int(total.Load()), err
}

// ReindexDocument re-chunks and re-embeds a stored document, for example after the chunking or
// embedding configuration changed.
func (idx *Indexer) ReindexDocument(ctx context.Context, id string) (int, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to load document: %w", err)
	}
	return idx.indexContent(ctx, doc)
}

// DeleteDocument removes a document's segments from the index and the document from storage.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.logger.Debug("indexer deleting document", zap.String("id", id))
	if !idx.index.DeleteBySource(ctx, id) {
		return fmt.Errorf("%w: failed to delete segments of %s", models.ErrEngine, id)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// IndexFile reads a text file and indexes it under FileSourceID of its absolute path. If
// allowedExts is non-empty, the file's extension must be in it (case-insensitive). A file already
// indexed with the same mtime and size is skipped and reports skipped=true.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (n int, skipped bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, false, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return 0, false, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, fmt.Errorf("not a regular file: %s", absPath)
	}
	sourceID := FileSourceID(absPath)
	if idx.unchanged(ctx, sourceID, absPath, info) {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return 0, true, nil
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return 0, false, fmt.Errorf("read file: %w", err)
	}
	_, n, err = idx.IndexDocument(ctx, &models.DocumentInput{
		ID:      sourceID,
		Title:   filepath.Base(absPath),
		Content: string(content),
		Metadata: map[string]any{
			MetaSourcePath: absPath,
			// Strings, since UnixNano exceeds float64 precision after a JSON round trip.
			MetaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			MetaSourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
	return n, false, err
}

// RemoveFile deletes the document indexed for path, if any.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, FileSourceID(absPath))
}

// IndexDirectory walks dir and indexes each regular file whose extension is in allowedExts (all
// files when empty). Unchanged files are skipped and not counted. Stops at the first error or
// when ctx is done.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (files, segments int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// Follows symlinks; only regular targets are indexed.
		if finfo, statErr := os.Stat(path); statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		n, skipped, indexErr := idx.IndexFile(ctx, path, allowedExts)
		if indexErr != nil {
			return fmt.Errorf("%s: %w", path, indexErr)
		}
		if !skipped {
			files++
			segments += n
		}
		return nil
	})
	idx.logger.Info("indexer directory done", zap.String("dir", absDir), zap.Int("files", files), zap.Int("segments", segments))
	return files, segments, err
}

// unchanged reports whether the stored fingerprint matches the file and the index still holds the
// segments the registry lists for it. The second check catches an index that lost data the
// registry kept, such as a memory engine closed without saving.
func (idx *Indexer) unchanged(ctx context.Context, sourceID, absPath string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, sourceID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[MetaSourcePath] != absPath ||
		doc.Metadata[MetaSourceMtime] != strconv.FormatInt(info.ModTime().UnixNano(), 10) ||
		doc.Metadata[MetaSourceSize] != strconv.FormatInt(info.Size(), 10) {
		return false
	}
	refs, err := idx.storage.GetSegmentsByDocumentID(ctx, sourceID)
	if err != nil {
		return false
	}
	if len(refs) == 0 {
		return true
	}
	for _, ref := range []*models.SegmentRef{refs[0], refs[len(refs)-1]} {
		if seg, err := idx.index.GetByID(ctx, ref.ID); err != nil || seg == nil {
			return false
		}
	}
	return true
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
