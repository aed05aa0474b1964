package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL. The full record is
// stored as a JSONB document so the archive stays schema-stable as the
// game format evolves.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS game_records (
//	    experiment_id TEXT PRIMARY KEY,
//	    reason        TEXT NOT NULL,
//	    finished_at   TIMESTAMPTZ NOT NULL,
//	    document      JSONB NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO game_records (experiment_id, reason, finished_at, document)
		 VALUES ($1, $2, $3, $4::JSONB)`,
		rec.ExperimentID, rec.Reason, rec.FinishedAt, string(doc),
	)
	if err != nil {
		return fmt.Errorf("store: save record %s: %w", rec.ExperimentID, err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, experimentID string) (*Record, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM game_records WHERE experiment_id = $1`, experimentID).
		Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record %s: %w", experimentID, err)
	}

	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal record %s: %w", experimentID, err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListExperiments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT experiment_id FROM game_records ORDER BY experiment_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan experiment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
