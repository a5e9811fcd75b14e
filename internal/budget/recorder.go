package budget

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS research_cost_ledger (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	model_id TEXT,
	label TEXT,
	api_name TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cached_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

const insertLedgerEntry = `INSERT INTO research_cost_ledger (
		id, run_id, seq, kind, model_id, label, api_name,
		input_tokens, output_tokens, cached_tokens, cost_usd, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Recorder persists run ledgers for auditing.
type Recorder struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRecorder returns a recorder writing through db. A nil db disables persistence.
func NewRecorder(db *sqlx.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// EnsureSchema creates the ledger table when missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Record writes every entry of a run in one transaction.
func (r *Recorder) Record(ctx context.Context, runID string, entries []Entry) error {
	if r.db == nil || len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	query := tx.Rebind(insertLedgerEntry)
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, query,
			uuid.NewString(), runID, i, string(e.Kind), e.ModelID, e.Label, e.APIName,
			e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CachedTokens, e.CostUSD, e.At,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert ledger entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	r.logger.Debug("Recorded cost ledger",
		zap.String("run_id", runID),
		zap.Int("entries", len(entries)),
	)
	return nil
}
