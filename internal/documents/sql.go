package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS research_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

// SQLStore keeps documents in Postgres or SQLite.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

// EnsureSchema creates the documents table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsSchema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, title, content string) (Document, error) {
	doc, err := newDocument(title, content)
	if err != nil {
		return Document{}, err
	}
	query := s.db.Rebind(`INSERT INTO research_documents (id, title, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, doc.ID, doc.Title, doc.Kind, doc.Content, doc.CreatedAt); err != nil {
		metrics.DocumentsStored.WithLabelValues("sql", "error").Inc()
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	metrics.DocumentsStored.WithLabelValues("sql", "success").Inc()
	s.logger.Debug("Stored document", zap.String("id", doc.ID), zap.Int("bytes", len(doc.Content)))
	return doc, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	query := s.db.Rebind(`SELECT id, title, kind, content, created_at FROM research_documents WHERE id = ?`)
	if err := s.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}
