// Package store defines the persistence interface for completed game
// records. Implementations include the filesystem (the canonical
// one-JSON-document-per-experiment layout), PostgreSQL, Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/opentac/controller/internal/game"
)

// ErrNotFound is returned when no record exists for an experiment ID.
var ErrNotFound = errors.New("store: record not found")

// Record is the durable artifact of one competition run: the full game
// document plus the termination reason. It is written once, at game end,
// and never updated.
type Record struct {
	ExperimentID string         `json:"experiment_id"`
	Reason       string         `json:"reason"`
	FinishedAt   time.Time      `json:"finished_at"`
	Game         *game.Document `json:"game,omitempty"` // nil when no game was ever constructed
}

// Store is the persistence interface for game records.
type Store interface {
	// SaveRecord persists a completed game record, keyed by experiment ID.
	SaveRecord(ctx context.Context, rec *Record) error

	// GetRecord retrieves a record by experiment ID.
	GetRecord(ctx context.Context, experimentID string) (*Record, error)

	// ListExperiments returns the IDs of all stored records.
	ListExperiments(ctx context.Context) ([]string, error)
}
