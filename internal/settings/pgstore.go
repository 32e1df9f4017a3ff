package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pitabwire/quill/model"
)

// Querier is the subset of *pgxpool.Pool used by PgStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentID = "default"

// PgStore keeps the settings as a JSONB row in PostgreSQL.
type PgStore struct {
	db     Querier
	logger *zap.Logger
}

// NewPgStore creates a PostgreSQL settings store.
func NewPgStore(db Querier, logger *zap.Logger) *PgStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgStore{db: db, logger: logger}
}

// EnsureSchema creates the settings table if it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS quill_ai_settings (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// Load reads the settings row. A missing row or an undecodable document
// yields the defaults; query failures are returned.
func (s *PgStore) Load(ctx context.Context) (model.AISettings, error) {
	var doc []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM quill_ai_settings WHERE id = $1`, documentID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultAISettings(), nil
	}
	if err != nil {
		return model.AISettings{}, fmt.Errorf("query settings: %w", err)
	}

	var out model.AISettings
	if err := json.Unmarshal(doc, &out); err != nil {
		s.logger.Warn("settings row corrupt, using defaults", zap.Error(err))
		return model.DefaultAISettings(), nil
	}
	return out.Normalize(), nil
}

// Save upserts the settings row.
func (s *PgStore) Save(ctx context.Context, settings model.AISettings) error {
	doc, err := json.Marshal(settings.Normalize())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO quill_ai_settings (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		documentID, doc,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("settings db: %w", err)
	}
	return nil
}
