package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a document id is unknown.
var ErrNotFound = errors.New("document not found")

// Kind of a stored document. Reports are always text.
const KindText = "text"

// Document is a persisted artifact such as a final report.
type Document struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Kind      string    `json:"kind" db:"kind"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Store persists documents.
type Store interface {
	Create(ctx context.Context, title, content string) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
}

func newDocument(title, content string) (Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Document{}, fmt.Errorf("title is required")
	}
	return Document{
		ID:        uuid.NewString(),
		Title:     title,
		Kind:      KindText,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// MemoryStore keeps documents in process. Used by the CLI and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) Create(ctx context.Context, title, content string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	doc, err := newDocument(title, content)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	m.docs[doc.ID] = doc
	m.mu.Unlock()
	return doc, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}
