// Package journal keeps an offline record of committed ticks: a compressed
// per-tick log and a hash-chained series of full world snapshots.
package journal

import (
	"errors"
	"path/filepath"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/world"
)

type Journal struct {
	Ticks   *TickLog
	Archive *Archive
}

// New returns nil when the config turns both outputs off.
func New(cfg config.JournalConfig) *Journal {
	j := &Journal{}
	if cfg.TickLog {
		j.Ticks = NewTickLog(filepath.Join(cfg.Dir, "ticks"))
	}
	if cfg.SnapshotEveryTicks > 0 {
		j.Archive = NewArchive(filepath.Join(cfg.Dir, "snapshots"), cfg.SnapshotEveryTicks)
	}
	if j.Ticks == nil && j.Archive == nil {
		return nil
	}
	return j
}

// Record is called after a tick committed; out.Next carries the stored
// versions and out.Combat.Entries the stored log ids.
func (j *Journal) Record(out *world.Outcome) error {
	var errs []error
	if j.Ticks != nil {
		errs = append(errs, j.Ticks.WriteTick(TickEntry{
			WorldID:   out.Next.World.ID,
			Tick:      out.Tick,
			At:        out.At,
			ElapsedMs: out.Elapsed.Milliseconds(),
			Players:   out.ChangedPlayers,
			Units:     out.ChangedUnits,
			Bases:     out.ChangedBases,
			Combat:    out.Combat.Entries,
			Claims:    out.Claims.Results,
		}))
	}
	if j.Archive != nil && j.Archive.Due(out.Tick) {
		_, err := j.Archive.Save(out.Next, out.At)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *Journal) Close() error {
	if j.Ticks != nil {
		return j.Ticks.Close()
	}
	return nil
}
