// Package store defines the archive of cleared auction rounds.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (default and testing).
//
// The archive is append-only history. The live round is never restored
// from it.
package store

import (
	"context"
	"errors"

	"github.com/atmx/buyback-auction/internal/model"
)

// ErrNotFound is returned when a round ID is not in the archive.
var ErrNotFound = errors.New("store: round not found")

// Store is the archive interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveRound appends an immutable cleared-round record.
	SaveRound(ctx context.Context, round *model.ArchivedRound) error

	// GetRound retrieves a round by its ID.
	GetRound(ctx context.Context, id string) (*model.ArchivedRound, error)

	// ListRounds returns all rounds, most recently cleared first.
	ListRounds(ctx context.Context) ([]model.ArchivedRound, error)
}
