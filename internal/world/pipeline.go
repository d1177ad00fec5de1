package world

import (
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// Stage names, in the order a tick runs them.
const (
	StageProduction = "production"
	StageMovement   = "movement"
	StageCombat     = "combat"
	StageClaims     = "claims"
)

// Pipeline runs one world tick over an in-memory copy of the committed
// state. It has no side effects; the caller decides whether to commit.
type Pipeline struct {
	Production *Production
	Combat     *Combat
	Log        *log.Logger
}

// Outcome is everything a tick changed, ready to be committed.
type Outcome struct {
	Prev     *types.Snapshot
	Next     *types.Snapshot
	Tick     int64
	Elapsed  time.Duration
	At       time.Time
	Consumed []types.ClaimAttempt

	Resources map[int64]ResourceDelta
	Movement  MovementResult
	Combat    CombatResult
	Claims    ClaimsResult

	ChangedPlayers []int64
	ChangedUnits   []int64
	ChangedBases   []int64
}

// Run executes production, movement, combat and claims in that order, each
// stage reading what the previous one produced. prev is never modified.
func (p *Pipeline) Run(prev *types.Snapshot, attempts []types.ClaimAttempt, now time.Time) (out *Outcome, err error) {
	next := prev.Clone()
	out = &Outcome{
		Prev:      prev,
		Next:      next,
		Tick:      prev.World.TickCount + 1,
		At:        now,
		Consumed:  attempts,
		Resources: make(map[int64]ResourceDelta, len(next.Players)),
	}
	if !prev.World.LastTickAt.IsZero() {
		out.Elapsed = now.Sub(prev.World.LastTickAt)
	}
	if out.Elapsed < 0 {
		return nil, types.NewStageError("schedule", "clock went backwards by %s", -out.Elapsed)
	}

	err = p.stage(StageProduction, func() error {
		for _, id := range next.PlayerIDs() {
			ps := next.Players[id]
			var elapsed time.Duration
			if !ps.LastTickAt.IsZero() {
				elapsed = now.Sub(ps.LastTickAt)
			}
			// ledgers written outside the tick (legacy rows, refunds) may sit above capacity
			p.Production.Clamp(ps)
			d := p.Production.Apply(ps, elapsed)
			d.ApplyTo(ps)
			if err := p.checkLedger(ps, d); err != nil {
				return err
			}
			ps.LastTickAt = now
			out.Resources[id] = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageMovement, func() error {
		var err error
		out.Movement, err = ResolveMovement(next, out.Elapsed)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageCombat, func() error {
		var err error
		out.Combat, err = p.Combat.Resolve(next, out.Tick, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(StageClaims, func() error {
		var err error
		out.Claims, err = ArbitrateClaims(next, attempts, out.Combat.DestroyedBases)
		return err
	})
	if err != nil {
		return nil, err
	}

	next.World.TickCount = out.Tick
	next.World.LastTickAt = now

	out.ChangedPlayers = next.PlayerIDs()
	out.ChangedUnits = union(out.Movement.Moved, out.Combat.ChangedUnits)
	out.ChangedBases = union(out.Combat.ChangedBases, out.Claims.ChangedBases)
	return out, nil
}

func (p *Pipeline) checkLedger(ps *types.PlayerWorldState, d ResourceDelta) error {
	capacity := p.Production.Capacity(ps)
	for _, k := range types.ResourceKinds {
		v := ps.Resources.Get(k)
		if v < 0 || d.Amounts.Get(k) < 0 {
			return types.NewStageError(StageProduction, "player %d has negative %s", ps.PlayerID, k)
		}
		if v > capacity {
			return types.NewStageError(StageProduction, "player %d overflowed %s", ps.PlayerID, k)
		}
	}
	return nil
}

// stage runs fn and turns a panic into a StageError so one broken world
// cannot take the process down.
func (p *Pipeline) stage(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger().Printf("PANIC in %s stage: %v\nStack trace:\n%s", name, r, debug.Stack())
			err = &types.StageError{Stage: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

func (p *Pipeline) logger() *log.Logger {
	if p.Log != nil {
		return p.Log
	}
	return log.Default()
}

func union(a, b []int64) []int64 {
	set := make(map[int64]bool, len(a)+len(b))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	return sortedIDs(set)
}
