package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// AcquireLease takes the world's tick lease if nobody holds it or the
// previous holder let it expire. A live lease held by anyone, including
// holder itself, yields ErrLeaseUnavailable.
func (s *SQLite) AcquireLease(ctx context.Context, worldID, holder string, now time.Time, ttl time.Duration) (types.TickLease, error) {
	lease := types.TickLease{
		WorldID:   worldID,
		Holder:    holder,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tick_leases(world_id, holder, token, expires_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(world_id) DO UPDATE SET holder = excluded.holder, token = excluded.token, expires_at = excluded.expires_at
		 WHERE tick_leases.expires_at <= ?`,
		worldID, holder, lease.Token, lease.ExpiresAt.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return types.TickLease{}, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.TickLease{}, unavailable(err)
	}
	if n == 0 {
		return types.TickLease{}, fmt.Errorf("world %s: %w", worldID, types.ErrLeaseUnavailable)
	}
	return lease, nil
}

// ReleaseLease drops the lease if it is still the one we were given.
func (s *SQLite) ReleaseLease(ctx context.Context, lease types.TickLease) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tick_leases WHERE world_id = ? AND token = ?`, lease.WorldID, lease.Token)
	return unavailable(err)
}

// Commit applies a tick's changeset in one transaction. Any version
// mismatch rolls everything back and returns ErrVersionConflict. On
// success the versions inside cs are advanced to the stored ones and
// combat log entries get their ids.
func (s *SQLite) Commit(ctx context.Context, cs *Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	if err := checkLease(ctx, tx, cs.Lease, cs.Now); err != nil {
		return err
	}

	w := cs.World
	res, err := tx.ExecContext(ctx,
		`UPDATE worlds SET tick_count = ?, last_tick_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		w.TickCount, nanos(w.LastTickAt), w.ID, w.Version,
	)
	if err := mustAffect(res, err, fmt.Sprintf("world %s v%d", w.ID, w.Version)); err != nil {
		return err
	}

	now := cs.Now.UnixNano()
	for _, p := range cs.Players {
		payload, err := EncodePlayer(p)
		if err != nil {
			return err
		}
		if err := updateEntity(ctx, tx, types.EntityRef{WorldID: w.ID, Kind: types.KindPlayer, ID: p.PlayerID}, p.Version, payload, now); err != nil {
			return err
		}
	}
	for _, u := range cs.Units {
		payload, err := EncodeUnit(u)
		if err != nil {
			return err
		}
		if err := updateEntity(ctx, tx, types.EntityRef{WorldID: w.ID, Kind: types.KindUnit, ID: u.ID}, u.Version, payload, now); err != nil {
			return err
		}
	}
	for _, b := range cs.Bases {
		payload, err := EncodeBase(b)
		if err != nil {
			return err
		}
		if err := updateEntity(ctx, tx, types.EntityRef{WorldID: w.ID, Kind: types.KindBase, ID: b.ID}, b.Version, payload, now); err != nil {
			return err
		}
	}

	ids := make([]int64, len(cs.CombatLog))
	for i, e := range cs.CombatLog {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO combat_log(world_id, tick, attacker_kind, attacker_id, defender_kind, defender_id, damage, outcome, at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			w.ID, e.Tick, string(e.AttackerKind), e.AttackerID, string(e.DefenderKind), e.DefenderID,
			e.Damage, string(e.Outcome), nanos(e.At),
		).Scan(&ids[i])
		if err != nil {
			return unavailable(err)
		}
	}

	for _, id := range cs.ConsumedClaims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM claim_attempts WHERE id = ? AND world_id = ?`, id, w.ID); err != nil {
			return unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}

	cs.World.Version++
	for _, p := range cs.Players {
		p.Version++
	}
	for _, u := range cs.Units {
		u.Version++
	}
	for _, b := range cs.Bases {
		b.Version++
	}
	for i := range cs.CombatLog {
		cs.CombatLog[i].ID = ids[i]
		cs.CombatLog[i].WorldID = w.ID
	}
	return nil
}

func checkLease(ctx context.Context, tx *sql.Tx, lease types.TickLease, now time.Time) error {
	var token string
	var expires int64
	err := tx.QueryRowContext(ctx,
		`SELECT token, expires_at FROM tick_leases WHERE world_id = ?`, lease.WorldID,
	).Scan(&token, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("world %s: %w", lease.WorldID, types.ErrLeaseLost)
	}
	if err != nil {
		return unavailable(err)
	}
	if token != lease.Token || expires <= now.UnixNano() {
		return fmt.Errorf("world %s: %w", lease.WorldID, types.ErrLeaseLost)
	}
	return nil
}

func updateEntity(ctx context.Context, tx *sql.Tx, ref types.EntityRef, version int64, payload []byte, now int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE entities SET version = version + 1, schema = ?, payload = ?, updated_at = ?
		 WHERE world_id = ? AND kind = ? AND id = ? AND version = ?`,
		CurrentSchema, payload, now, ref.WorldID, string(ref.Kind), ref.ID, version,
	)
	return mustAffect(res, err, fmt.Sprintf("%s %d v%d", ref.Kind, ref.ID, version))
}

func mustAffect(res sql.Result, err error, what string) error {
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, types.ErrVersionConflict)
	}
	return nil
}

func (s *SQLite) SubmitClaim(ctx context.Context, a types.ClaimAttempt) (types.ClaimAttempt, error) {
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO claim_attempts(world_id, player_id, base_id, submitted_at) VALUES(?, ?, ?, ?) RETURNING id`,
		a.WorldID, a.PlayerID, a.BaseID, a.SubmittedAt.UnixNano(),
	).Scan(&a.ID)
	return a, unavailable(err)
}

func (s *SQLite) PendingClaims(ctx context.Context, worldID string) ([]types.ClaimAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, player_id, base_id, submitted_at FROM claim_attempts WHERE world_id = ? ORDER BY id`, worldID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []types.ClaimAttempt
	for rows.Next() {
		a := types.ClaimAttempt{WorldID: worldID}
		var at int64
		if err := rows.Scan(&a.ID, &a.PlayerID, &a.BaseID, &at); err != nil {
			return nil, unavailable(err)
		}
		a.SubmittedAt = fromNanos(at)
		out = append(out, a)
	}
	return out, unavailable(rows.Err())
}

// CombatLog pages through a world's log in append order.
func (s *SQLite) CombatLog(ctx context.Context, worldID string, afterID int64, limit int) ([]types.CombatLogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tick, attacker_kind, attacker_id, defender_kind, defender_id, damage, outcome, at
		 FROM combat_log WHERE world_id = ? AND id > ? ORDER BY id LIMIT ?`,
		worldID, afterID, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []types.CombatLogEntry
	for rows.Next() {
		e := types.CombatLogEntry{WorldID: worldID}
		var ak, dk, outcome string
		var at int64
		if err := rows.Scan(&e.ID, &e.Tick, &ak, &e.AttackerID, &dk, &e.DefenderID, &e.Damage, &outcome, &at); err != nil {
			return nil, unavailable(err)
		}
		e.AttackerKind = types.EntityKind(ak)
		e.DefenderKind = types.EntityKind(dk)
		e.Outcome = types.CombatOutcome(outcome)
		e.At = fromNanos(at)
		out = append(out, e)
	}
	return out, unavailable(rows.Err())
}
