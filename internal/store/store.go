// Package store persists world state. Every entity carries a version
// counter; writes are conditional on the version the writer last read, so
// the tick pipeline and player actions never overwrite each other silently.
package store

import (
	"context"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// Record is one raw versioned entity as stored.
type Record struct {
	Ref     types.EntityRef
	Version int64
	Schema  int
	Payload []byte
}

// Changeset is the full result of one tick. Every entity carries the
// version that was read at the start of the tick; Commit applies all of it
// or none of it.
type Changeset struct {
	Lease          types.TickLease
	Now            time.Time
	World          types.World
	Players        []*types.PlayerWorldState
	Units          []*types.Unit
	Bases          []*types.Base
	CombatLog      []types.CombatLogEntry
	ConsumedClaims []int64
}

type Store interface {
	// Read and ConditionalWrite are the generic versioned entity access
	// used by player actions. ConditionalWrite returns the new version or
	// ErrVersionConflict.
	Read(ctx context.Context, ref types.EntityRef) (Record, error)
	ConditionalWrite(ctx context.Context, ref types.EntityRef, expectedVersion int64, payload []byte) (int64, error)

	CreateWorld(ctx context.Context, w types.World) error
	World(ctx context.Context, id string) (types.World, error)
	Worlds(ctx context.Context, status types.WorldStatus) ([]types.World, error)
	SetWorldStatus(ctx context.Context, id string, expectedVersion int64, status types.WorldStatus) (types.World, error)
	// ActivateWorld seeds bases and flips a pending world to active atomically.
	ActivateWorld(ctx context.Context, id string, expectedVersion int64, bases []*types.Base) (types.World, error)

	InsertPlayer(ctx context.Context, p *types.PlayerWorldState) error
	InsertUnit(ctx context.Context, u *types.Unit) error
	InsertBases(ctx context.Context, worldID string, bases []*types.Base) error

	Snapshot(ctx context.Context, worldID string) (*types.Snapshot, error)
	SubmitClaim(ctx context.Context, a types.ClaimAttempt) (types.ClaimAttempt, error)
	PendingClaims(ctx context.Context, worldID string) ([]types.ClaimAttempt, error)
	CombatLog(ctx context.Context, worldID string, afterID int64, limit int) ([]types.CombatLogEntry, error)

	AcquireLease(ctx context.Context, worldID, holder string, now time.Time, ttl time.Duration) (types.TickLease, error)
	ReleaseLease(ctx context.Context, lease types.TickLease) error
	Commit(ctx context.Context, cs *Changeset) error

	Close() error
}
