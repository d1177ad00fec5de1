package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

func (s *SQLite) Read(ctx context.Context, ref types.EntityRef) (Record, error) {
	rec := Record{Ref: ref}
	err := s.db.QueryRowContext(ctx,
		`SELECT version, schema, payload FROM entities WHERE world_id = ? AND kind = ? AND id = ?`,
		ref.WorldID, string(ref.Kind), ref.ID,
	).Scan(&rec.Version, &rec.Schema, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("%s %d in %s: %w", ref.Kind, ref.ID, ref.WorldID, types.ErrNotFound)
	}
	return rec, unavailable(err)
}

func (s *SQLite) ConditionalWrite(ctx context.Context, ref types.EntityRef, expectedVersion int64, payload []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET version = version + 1, schema = ?, payload = ?, updated_at = ?
		 WHERE world_id = ? AND kind = ? AND id = ? AND version = ?`,
		CurrentSchema, payload, time.Now().UnixNano(),
		ref.WorldID, string(ref.Kind), ref.ID, expectedVersion,
	)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s %d expected v%d: %w", ref.Kind, ref.ID, expectedVersion, types.ErrVersionConflict)
	}
	return expectedVersion + 1, nil
}

func (s *SQLite) CreateWorld(ctx context.Context, w types.World) error {
	if w.Width == 0 {
		w.Width = types.GridWidth
	}
	if w.Height == 0 {
		w.Height = types.GridHeight
	}
	if w.Status == "" {
		w.Status = types.WorldPending
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO worlds(id, status, width, height, tick_count, last_tick_at, created_at, version)
		 VALUES(?, ?, ?, ?, 0, ?, ?, 1) ON CONFLICT(id) DO NOTHING`,
		w.ID, string(w.Status), w.Width, w.Height, nanos(w.LastTickAt), nanos(w.CreatedAt),
	)
	if err != nil {
		return unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("world %s already exists: %w", w.ID, types.ErrInvalidAction)
	}
	return nil
}

const worldColumns = `id, status, width, height, tick_count, last_tick_at, created_at, version`

func scanWorld(row interface{ Scan(...any) error }) (types.World, error) {
	var w types.World
	var status string
	var last, created int64
	err := row.Scan(&w.ID, &status, &w.Width, &w.Height, &w.TickCount, &last, &created, &w.Version)
	w.Status = types.WorldStatus(status)
	w.LastTickAt = fromNanos(last)
	w.CreatedAt = fromNanos(created)
	return w, err
}

func (s *SQLite) World(ctx context.Context, id string) (types.World, error) {
	w, err := scanWorld(s.db.QueryRowContext(ctx, `SELECT `+worldColumns+` FROM worlds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("world %s: %w", id, types.ErrNotFound)
	}
	return w, unavailable(err)
}

// Worlds lists worlds in id order; an empty status lists all of them.
func (s *SQLite) Worlds(ctx context.Context, status types.WorldStatus) ([]types.World, error) {
	q := `SELECT ` + worldColumns + ` FROM worlds`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []types.World
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, w)
	}
	return out, unavailable(rows.Err())
}

func (s *SQLite) SetWorldStatus(ctx context.Context, id string, expectedVersion int64, status types.WorldStatus) (types.World, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE worlds SET status = ?, version = version + 1 WHERE id = ? AND version = ?`,
		string(status), id, expectedVersion,
	)
	if err != nil {
		return types.World{}, unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.World(ctx, id); err != nil {
			return types.World{}, err
		}
		return types.World{}, fmt.Errorf("world %s expected v%d: %w", id, expectedVersion, types.ErrVersionConflict)
	}
	return s.World(ctx, id)
}

func (s *SQLite) InsertPlayer(ctx context.Context, p *types.PlayerWorldState) error {
	if p.PlayerID <= 0 {
		return fmt.Errorf("player id must be positive: %w", types.ErrInvalidAction)
	}
	payload, err := EncodePlayer(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities(world_id, kind, id, version, schema, payload, updated_at) VALUES(?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(world_id, kind, id) DO NOTHING`,
		p.WorldID, string(types.KindPlayer), p.PlayerID, CurrentSchema, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return unavailable(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("player %d already in %s: %w", p.PlayerID, p.WorldID, types.ErrInvalidAction)
	}
	p.Version = 1
	return nil
}

// InsertUnit assigns u an id. The owning player must already be in the world.
func (s *SQLite) InsertUnit(ctx context.Context, u *types.Unit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE world_id = ? AND kind = ? AND id = ?`,
		u.WorldID, string(types.KindPlayer), u.OwnerID,
	).Scan(&exists)
	if err != nil {
		return unavailable(err)
	}
	if exists == 0 {
		return fmt.Errorf("player %d in %s: %w", u.OwnerID, u.WorldID, types.ErrNotFound)
	}

	id, err := nextID(ctx, tx, "unit")
	if err != nil {
		return unavailable(err)
	}
	u.ID = id
	u.Version = 1
	payload, err := EncodeUnit(u)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entities(world_id, kind, id, version, schema, payload, updated_at) VALUES(?, ?, ?, 1, ?, ?, ?)`,
		u.WorldID, string(types.KindUnit), id, CurrentSchema, payload, time.Now().UnixNano(),
	); err != nil {
		return unavailable(err)
	}
	return unavailable(tx.Commit())
}

// InsertBases stores bases and assigns their ids. A tile already holding a
// base fails the whole batch.
func (s *SQLite) InsertBases(ctx context.Context, worldID string, bases []*types.Base) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	if err := insertBases(ctx, tx, worldID, bases); err != nil {
		return err
	}
	return unavailable(tx.Commit())
}

// ActivateWorld seeds bases and moves a pending world to active in one
// transaction, so a failed activation leaves nothing behind to collide with
// on retry.
func (s *SQLite) ActivateWorld(ctx context.Context, id string, expectedVersion int64, bases []*types.Base) (types.World, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.World{}, unavailable(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE worlds SET status = ?, version = version + 1 WHERE id = ? AND version = ? AND status = ?`,
		string(types.WorldActive), id, expectedVersion, string(types.WorldPending),
	)
	if err := mustAffect(res, err, fmt.Sprintf("world %s v%d", id, expectedVersion)); err != nil {
		return types.World{}, err
	}
	if err := insertBases(ctx, tx, id, bases); err != nil {
		return types.World{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.World{}, unavailable(err)
	}
	return s.World(ctx, id)
}

func insertBases(ctx context.Context, tx *sql.Tx, worldID string, bases []*types.Base) error {
	now := time.Now().UnixNano()
	for _, b := range bases {
		id, err := nextID(ctx, tx, "base")
		if err != nil {
			return unavailable(err)
		}
		b.ID = id
		b.WorldID = worldID
		b.Version = 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO base_tiles(world_id, x, y, base_id) VALUES(?, ?, ?, ?)`,
			worldID, b.X, b.Y, id,
		); err != nil {
			return fmt.Errorf("base tile (%d,%d): %w", b.X, b.Y, unavailable(err))
		}
		payload, err := EncodeBase(b)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities(world_id, kind, id, version, schema, payload, updated_at) VALUES(?, ?, ?, 1, ?, ?, ?)`,
			worldID, string(types.KindBase), id, CurrentSchema, payload, now,
		); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (s *SQLite) Snapshot(ctx context.Context, worldID string) (*types.Snapshot, error) {
	w, err := s.World(ctx, worldID)
	if err != nil {
		return nil, err
	}
	snap := types.NewSnapshot(w)

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id, version, schema, payload FROM entities WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := Record{Ref: types.EntityRef{WorldID: worldID}}
		var kind string
		if err := rows.Scan(&kind, &rec.Ref.ID, &rec.Version, &rec.Schema, &rec.Payload); err != nil {
			return nil, unavailable(err)
		}
		rec.Ref.Kind = types.EntityKind(kind)
		switch rec.Ref.Kind {
		case types.KindPlayer:
			p, err := DecodePlayer(rec)
			if err != nil {
				return nil, err
			}
			snap.Players[p.PlayerID] = p
		case types.KindUnit:
			u, err := DecodeUnit(rec)
			if err != nil {
				return nil, err
			}
			snap.Units[u.ID] = u
		case types.KindBase:
			b, err := DecodeBase(rec)
			if err != nil {
				return nil, err
			}
			snap.Bases[b.ID] = b
		}
	}
	return snap, unavailable(rows.Err())
}
