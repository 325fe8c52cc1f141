// Package history keeps a record of composition passes: which subgraphs were
// included or excluded and what was published. PostgreSQL is used when
// configured; otherwise a bounded in-memory ring serves the admin endpoint.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/postgres"
)

// Record describes one composition pass.
type Record struct {
	ID        int64             `json:"id,omitempty"`
	Outcome   string            `json:"outcome"`
	Version   int64             `json:"version"`
	Digest    string            `json:"digest,omitempty"`
	Included  []string          `json:"included"`
	Excluded  map[string]string `json:"excluded,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store persists composition records.
type Store interface {
	Save(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore keeps the most recent records in memory.
type MemoryStore struct {
	mu       sync.Mutex
	records  []Record
	capacity int
	nextID   int64
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	s.records = append(s.records, r)
	if len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// PostgresStore persists records in a composition_history table, created on
// first use.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS composition_history (
    id         BIGSERIAL PRIMARY KEY,
    outcome    TEXT        NOT NULL,
    version    BIGINT      NOT NULL,
    digest     TEXT        NOT NULL DEFAULT '',
    included   JSONB       NOT NULL,
    excluded   JSONB       NOT NULL,
    reason     TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS composition_history_created_at_idx
    ON composition_history (created_at DESC);`

// NewPostgresStore ensures the table exists.
func NewPostgresStore(ctx context.Context, db *postgres.Client) (*PostgresStore, error) {
	if _, err := db.DB.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("creating composition_history table: %w", err)
	}
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "history-store"),
	}, nil
}

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	included, err := json.Marshal(r.Included)
	if err != nil {
		return fmt.Errorf("marshaling included subgraphs: %w", err)
	}
	excluded, err := json.Marshal(r.Excluded)
	if err != nil {
		return fmt.Errorf("marshaling excluded subgraphs: %w", err)
	}
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO composition_history (outcome, version, digest, included, excluded, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.Outcome, r.Version, r.Digest, included, excluded, r.Reason, r.CreatedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving composition record: %w", err)
	}
	s.logger.Debug("composition record saved", "outcome", r.Outcome, "version", r.Version)
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, outcome, version, digest, included, excluded, reason, created_at
		 FROM composition_history ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying composition history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var included, excluded []byte
		if err := rows.Scan(&r.ID, &r.Outcome, &r.Version, &r.Digest, &included, &excluded, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning composition record: %w", err)
		}
		if err := json.Unmarshal(included, &r.Included); err != nil {
			return nil, fmt.Errorf("decoding included subgraphs: %w", err)
		}
		if err := json.Unmarshal(excluded, &r.Excluded); err != nil {
			return nil, fmt.Errorf("decoding excluded subgraphs: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
