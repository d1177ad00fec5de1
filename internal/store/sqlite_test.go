package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scrimzay/rtsworld/internal/types"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "rts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedWorld(t *testing.T, s *SQLite) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1", Status: types.WorldActive}))
	require.NoError(t, s.InsertPlayer(ctx, &types.PlayerWorldState{
		PlayerID:  1,
		WorldID:   "w1",
		Resources: types.Ledger{Concrete: 100},
		Buildings: map[types.BuildingKind]int{types.ConcretePlant: 1},
	}))
}

func TestConditionalWrite(t *testing.T) {
	s := openTest(t)
	seedWorld(t, s)
	ctx := context.Background()
	ref := types.EntityRef{WorldID: "w1", Kind: types.KindPlayer, ID: 1}

	rec, err := s.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	v, err := s.ConditionalWrite(ctx, ref, 1, rec.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// the second writer still holds version 1
	_, err = s.ConditionalWrite(ctx, ref, 1, rec.Payload)
	assert.True(t, errors.Is(err, types.ErrVersionConflict))

	_, err = s.Read(ctx, types.EntityRef{WorldID: "w1", Kind: types.KindPlayer, ID: 99})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestLeaseIsExclusive(t *testing.T) {
	s := openTest(t)
	seedWorld(t, s)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	l1, err := s.AcquireLease(ctx, "w1", "a", now, 10*time.Second)
	require.NoError(t, err)

	_, err = s.AcquireLease(ctx, "w1", "b", now.Add(time.Second), 10*time.Second)
	assert.True(t, errors.Is(err, types.ErrLeaseUnavailable))

	// expired leases can be taken over
	l2, err := s.AcquireLease(ctx, "w1", "b", now.Add(11*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, l1.Token, l2.Token)

	// releasing a stale lease does not drop the new holder's
	require.NoError(t, s.ReleaseLease(ctx, l1))
	_, err = s.AcquireLease(ctx, "w1", "c", now.Add(12*time.Second), 10*time.Second)
	assert.True(t, errors.Is(err, types.ErrLeaseUnavailable))

	require.NoError(t, s.ReleaseLease(ctx, l2))
	_, err = s.AcquireLease(ctx, "w1", "c", now.Add(12*time.Second), 10*time.Second)
	assert.NoError(t, err)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	s := openTest(t)
	seedWorld(t, s)
	ctx := context.Background()
	now := time.Unix(2000, 0)

	u := &types.Unit{WorldID: "w1", OwnerID: 1, Speed: 1, Health: 10, MaxHealth: 10, Status: types.UnitIdle}
	require.NoError(t, s.InsertUnit(ctx, u))
	claim, err := s.SubmitClaim(ctx, types.ClaimAttempt{WorldID: "w1", PlayerID: 1, BaseID: 7, SubmittedAt: now})
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	lease, err := s.AcquireLease(ctx, "w1", "test", now, time.Minute)
	require.NoError(t, err)

	// a player action sneaks in after the snapshot was read
	ref := types.EntityRef{WorldID: "w1", Kind: types.KindPlayer, ID: 1}
	rec, err := s.Read(ctx, ref)
	require.NoError(t, err)
	_, err = s.ConditionalWrite(ctx, ref, rec.Version, rec.Payload)
	require.NoError(t, err)

	next := snap.Clone()
	next.World.TickCount = 1
	next.Players[1].Resources.Concrete = 500
	next.Units[u.ID].Health = 3
	cs := &Changeset{
		Lease:          lease,
		Now:            now,
		World:          next.World,
		Players:        []*types.PlayerWorldState{next.Players[1]},
		Units:          []*types.Unit{next.Units[u.ID]},
		CombatLog:      []types.CombatLogEntry{{Tick: 1, AttackerKind: types.KindUnit, AttackerID: 5, DefenderKind: types.KindUnit, DefenderID: u.ID, Damage: 7, Outcome: types.OutcomeDamaged, At: now}},
		ConsumedClaims: []int64{claim.ID},
	}
	err = s.Commit(ctx, cs)
	require.True(t, errors.Is(err, types.ErrVersionConflict), "got %v", err)

	after, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.World.TickCount)
	assert.Equal(t, int64(10), after.Units[u.ID].Health)
	log, err := s.CombatLog(ctx, "w1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, log)
	pending, err := s.PendingClaims(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// retry against fresh state succeeds
	cs.Players = []*types.PlayerWorldState{after.Players[1]}
	require.NoError(t, s.Commit(ctx, cs))
	assert.Equal(t, int64(2), cs.World.Version)
	assert.NotZero(t, cs.CombatLog[0].ID)

	final, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), final.World.TickCount)
	assert.Equal(t, int64(3), final.Units[u.ID].Health)
	assert.Equal(t, cs.Units[0].Version, final.Units[u.ID].Version)
	pending, err = s.PendingClaims(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCommitRejectsLostLease(t *testing.T) {
	s := openTest(t)
	seedWorld(t, s)
	ctx := context.Background()
	now := time.Unix(3000, 0)

	snap, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	lease, err := s.AcquireLease(ctx, "w1", "test", now, time.Second)
	require.NoError(t, err)

	err = s.Commit(ctx, &Changeset{Lease: lease, Now: now.Add(2 * time.Second), World: snap.World})
	assert.True(t, errors.Is(err, types.ErrLeaseLost))
}

func TestCombatLogIsAppendOnly(t *testing.T) {
	s := openTest(t)
	seedWorld(t, s)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO combat_log(world_id, tick, attacker_kind, attacker_id, defender_kind, defender_id, damage, outcome, at)
		 VALUES('w1', 1, 'unit', 1, 'unit', 2, 5, 'damaged', 0)`)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE combat_log SET damage = 0`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM combat_log`)
	assert.Error(t, err)
}

func TestLegacyPlayerIsMigratedOnRead(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1"}))

	legacy := `{"player":4,"world":"w1","res":{"concrete":12.0,"steel":"7","fuel":null},"buildings_json":"{\"steel_mill\":2,\"catapult\":9}","last_tick":1700000000}`
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities(world_id, kind, id, version, schema, payload, updated_at) VALUES('w1', 'player', 4, 3, 1, ?, 0)`,
		legacy)
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	p := snap.Players[4]
	require.NotNil(t, p)
	assert.Equal(t, int64(12), p.Resources.Concrete)
	assert.Equal(t, int64(7), p.Resources.Steel)
	assert.Equal(t, int64(0), p.Resources.Fuel)
	assert.Equal(t, map[types.BuildingKind]int{types.SteelMill: 2}, p.Buildings)
	assert.Equal(t, int64(3), p.Version)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.LastTickAt)

	// the next write upgrades the row
	payload, err := EncodePlayer(p)
	require.NoError(t, err)
	_, err = s.ConditionalWrite(ctx, types.EntityRef{WorldID: "w1", Kind: types.KindPlayer, ID: 4}, 3, payload)
	require.NoError(t, err)
	rec, err := s.Read(ctx, types.EntityRef{WorldID: "w1", Kind: types.KindPlayer, ID: 4})
	require.NoError(t, err)
	assert.Equal(t, CurrentSchema, rec.Schema)
}

func TestInsertBasesRejectsSharedTile(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1"}))

	err := s.InsertBases(ctx, "w1", []*types.Base{{X: 1, Y: 1}, {X: 1, Y: 1}})
	assert.Error(t, err)

	snap, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Empty(t, snap.Bases)
}

func TestActivateWorldIsAllOrNothing(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1"}))

	_, err := s.ActivateWorld(ctx, "w1", 1, []*types.Base{{X: 1, Y: 1}, {X: 1, Y: 1}})
	require.Error(t, err)
	w, err := s.World(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, types.WorldPending, w.Status)
	assert.Equal(t, int64(1), w.Version)

	// nothing was left behind, so the same tiles can be seeded again
	w, err = s.ActivateWorld(ctx, "w1", 1, []*types.Base{{X: 1, Y: 1}, {X: 2, Y: 1}})
	require.NoError(t, err)
	assert.Equal(t, types.WorldActive, w.Status)
	snap, err := s.Snapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, snap.Bases, 2)

	_, err = s.ActivateWorld(ctx, "w1", w.Version, []*types.Base{{X: 3, Y: 3}})
	assert.True(t, errors.Is(err, types.ErrVersionConflict), "already active")
}

func TestInsertUnitNeedsOwner(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.CreateWorld(ctx, types.World{ID: "w1"}))

	err := s.InsertUnit(ctx, &types.Unit{WorldID: "w1", OwnerID: 3})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}
