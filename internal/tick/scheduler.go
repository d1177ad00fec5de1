// Package tick drives world ticks: it takes a world's lease, runs the
// simulation pipeline over the committed snapshot and commits the result
// atomically, then hands the deltas to the realtime layer.
package tick

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/realtime"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/types"
	"github.com/Scrimzay/rtsworld/internal/world"
)

type Status string

const (
	Committed Status = "Committed"
	Skipped   Status = "Skipped"
	Conflict  Status = "Conflict"
	Failed    Status = "Failed"
)

type Result struct {
	WorldID string              `json:"world_id"`
	Status  Status              `json:"status"`
	Tick    int64               `json:"tick,omitempty"`
	Claims  []types.ClaimResult `json:"claims,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Publisher receives committed deltas. It must not block.
type Publisher interface {
	Publish(worldID string, msgs []realtime.Message) bool
}

// Recorder is told about every committed tick after the fact.
type Recorder interface {
	Record(out *world.Outcome) error
}

type Scheduler struct {
	store     store.Store
	pipeline  *world.Pipeline
	publisher Publisher
	recorder  Recorder
	log       *log.Logger

	holder       string
	leaseTTL     time.Duration
	commitMargin time.Duration

	// now is the tick clock; replaced in tests.
	now func() time.Time
}

func NewScheduler(st store.Store, p *world.Pipeline, cfg config.TickConfig, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	holder := cfg.Holder
	if holder == "" {
		holder = "runner-" + uuid.NewString()
	}
	return &Scheduler{
		store:        st,
		pipeline:     p,
		log:          logger,
		holder:       holder,
		leaseTTL:     cfg.LeaseTTL,
		commitMargin: cfg.CommitMargin,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) SetPublisher(p Publisher) { s.publisher = p }
func (s *Scheduler) SetRecorder(r Recorder)   { s.recorder = r }
func (s *Scheduler) Holder() string           { return s.holder }

// RunTick advances one world by one tick. A lease held elsewhere gives
// Skipped. A version conflict at commit is retried once against fresh
// state; a second one gives Conflict. Stage and store failures give
// Failed together with the error. Nothing is written unless the whole
// tick commits.
func (s *Scheduler) RunTick(ctx context.Context, worldID string) (Result, error) {
	res := Result{WorldID: worldID}

	lease, err := s.store.AcquireLease(ctx, worldID, s.holder, s.now(), s.leaseTTL)
	if errors.Is(err, types.ErrLeaseUnavailable) {
		res.Status = Skipped
		return res, nil
	}
	if err != nil {
		return s.fail(res, err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.ReleaseLease(rctx, lease); err != nil {
			s.log.Printf("tick: release lease for %s: %v", worldID, err)
		}
	}()

	// the commit must land before the lease can be taken over
	budget := lease.ExpiresAt.Sub(s.now()) - s.commitMargin
	tctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for attempt := 1; attempt <= 2; attempt++ {
		out, err := s.attempt(tctx, lease)
		switch {
		case err == nil:
			res.Status = Committed
			res.Tick = out.Tick
			res.Error = ""
			res.Claims = out.Claims.Results
			s.afterCommit(out)
			return res, nil
		case errors.Is(err, types.ErrVersionConflict):
			s.log.Printf("tick: %s attempt %d: %v", worldID, attempt, err)
			res.Error = err.Error()
		case errors.Is(err, types.ErrLeaseLost), errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// ran past the lease; another runner may own the world now
			s.log.Printf("tick: %s abandoned: %v", worldID, err)
			res.Status = Conflict
			res.Error = err.Error()
			return res, nil
		default:
			return s.fail(res, err)
		}
	}
	res.Status = Conflict
	return res, nil
}

func (s *Scheduler) attempt(ctx context.Context, lease types.TickLease) (*world.Outcome, error) {
	snap, err := s.store.Snapshot(ctx, lease.WorldID)
	if err != nil {
		return nil, err
	}
	if snap.World.Status != types.WorldActive {
		return nil, fmt.Errorf("world %s is %s: %w", lease.WorldID, snap.World.Status, types.ErrWorldNotActive)
	}
	claims, err := s.store.PendingClaims(ctx, lease.WorldID)
	if err != nil {
		return nil, err
	}

	out, err := s.pipeline.Run(snap, claims, s.now())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cs := changeset(out, lease)
	cs.Now = s.now()
	if err := s.store.Commit(ctx, cs); err != nil {
		return nil, err
	}
	out.Next.World = cs.World
	out.Combat.Entries = cs.CombatLog
	return out, nil
}

func changeset(out *world.Outcome, lease types.TickLease) *store.Changeset {
	next := out.Next
	cs := &store.Changeset{
		Lease:     lease,
		World:     next.World,
		CombatLog: out.Combat.Entries,
	}
	for _, id := range out.ChangedPlayers {
		cs.Players = append(cs.Players, next.Players[id])
	}
	for _, id := range out.ChangedUnits {
		cs.Units = append(cs.Units, next.Units[id])
	}
	for _, id := range out.ChangedBases {
		cs.Bases = append(cs.Bases, next.Bases[id])
	}
	for _, a := range out.Consumed {
		cs.ConsumedClaims = append(cs.ConsumedClaims, a.ID)
	}
	return cs
}

func (s *Scheduler) afterCommit(out *world.Outcome) {
	worldID := out.Next.World.ID
	if s.publisher != nil {
		msgs, err := Deltas(out)
		if err != nil {
			s.log.Printf("tick: %s deltas: %v", worldID, err)
		} else {
			s.publisher.Publish(worldID, msgs)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Record(out); err != nil {
			s.log.Printf("tick: %s journal: %v", worldID, err)
		}
	}
}

func (s *Scheduler) fail(res Result, err error) (Result, error) {
	res.Status = Failed
	res.Error = err.Error()
	s.log.Printf("tick: %s failed: %v", res.WorldID, err)
	return res, err
}
