package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded Markdown document. The JSON form is the persisted
// record layout of the key/value backend.
type Document struct {
	ID        string    `json:"-"`
	Content   string    `json:"content"`
	Template  string    `json:"template"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is zero for documents that never expire.
	ExpiresAt time.Time `json:"-"`
}

// Generation is one article generation run.
type Generation struct {
	ID         string
	Title      string
	Style      string
	Context    string
	Source     string // "upstream" or "mock"
	Status     string // "completed", "failed" or "canceled"
	Attempts   int
	Content    string
	Error      string
	DurationMs int64
	CreatedAt  time.Time
}

// DocumentStore persists documents by ID.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	Close() error
}

// NewDocumentID returns a random 16 character lowercase hex ID.
func NewDocumentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
