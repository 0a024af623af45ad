// Package storage persists the registry of source documents and the segments indexed from them.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kenkyu/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document and segment registry operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Segment operations
	ReplaceSegments(ctx context.Context, docID string, refs []*models.SegmentRef) error
	GetSegmentsByDocumentID(ctx context.Context, docID string) ([]*models.SegmentRef, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountSegments(ctx context.Context) (int64, error)

	Close() error
}
