package tick

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// Runner ticks every active world, either on demand or on an interval.
// Worlds tick concurrently; one world's failure never stops another's.
type Runner struct {
	scheduler   *Scheduler
	store       store.Store
	concurrency int
	log         *log.Logger
}

func NewRunner(s *Scheduler, st store.Store, concurrency int, logger *log.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{scheduler: s, store: st, concurrency: concurrency, log: logger}
}

// RunAll ticks every active world once and returns one result per world
// in id order. Only listing the worlds can fail the call as a whole.
func (r *Runner) RunAll(ctx context.Context) ([]Result, error) {
	worlds, err := r.store.Worlds(ctx, types.WorldActive)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(worlds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, w := range worlds {
		i, w := i, w
		g.Go(func() error {
			// the error is already in the result; returning it would cancel the other worlds
			results[i], _ = r.scheduler.RunTick(gctx, w.ID)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Run ticks all active worlds every interval until ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.log.Printf("tick runner %s started, interval %s", r.scheduler.Holder(), interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Println("tick runner stopped")
			return
		case <-ticker.C:
			results, err := r.RunAll(ctx)
			if err != nil {
				r.log.Println("tick runner:", err)
				continue
			}
			counts := make(map[Status]int)
			for _, res := range results {
				counts[res.Status]++
			}
			if counts[Failed] > 0 || counts[Conflict] > 0 {
				r.log.Printf("tick runner: %d committed, %d skipped, %d conflict, %d failed",
					counts[Committed], counts[Skipped], counts[Conflict], counts[Failed])
			}
		}
	}
}
