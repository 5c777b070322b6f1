// Package scheduler drives the periodic work: the fast matching tick,
// the batch planning tick, the offer expiry sweep, and the retention
// purge. Loops run until the context is canceled; a failing tick is
// retried once with backoff and then abandoned until its next interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dispatch"
	"github.com/proofcart/proofcart/go/offers"
)

const (
	// FastInterval paces the min-cost-flow matcher.
	FastInterval = 3 * time.Second
	// BatchInterval paces the clustering planner.
	BatchInterval = 30 * time.Second
	// SweepInterval paces the offer expiry sweep.
	SweepInterval = 15 * time.Second
	// PurgeInterval paces the retention purge.
	PurgeInterval = time.Hour

	// Retention windows.
	IdempotencyTTL = 24 * time.Hour
	EventTTL       = 90 * 24 * time.Hour

	sweepLimit   = 500
	retryBackoff = 500 * time.Millisecond
)

// Scheduler owns the periodic loops for one region.
type Scheduler struct {
	DB         *db.DB
	Dispatcher *dispatch.Dispatcher
	Offers     *offers.Manager

	// tickMu serializes the fast and batch ticks: both mutate the same
	// offer state and must not plan over each other's snapshot.
	tickMu sync.Mutex
}

func New(d *db.DB, dp *dispatch.Dispatcher, mgr *offers.Manager) *Scheduler {
	return &Scheduler{DB: d, Dispatcher: dp, Offers: mgr}
}

// Run blocks until ctx is canceled, driving all loops concurrently.
func (s *Scheduler) Run(ctx context.Context) error {
	var group, groupCtx = errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.loop(groupCtx, "fast_tick", FastInterval, func(ctx context.Context) error {
			s.tickMu.Lock()
			defer s.tickMu.Unlock()
			var _, err = s.Dispatcher.RunFastTick(ctx)
			return err
		})
	})
	group.Go(func() error {
		return s.loop(groupCtx, "batch_tick", BatchInterval, func(ctx context.Context) error {
			s.tickMu.Lock()
			defer s.tickMu.Unlock()
			var _, err = s.Dispatcher.RunBatchTick(ctx)
			return err
		})
	})
	group.Go(func() error {
		return s.loop(groupCtx, "expire_offers", SweepInterval, func(ctx context.Context) error {
			var _, err = s.Offers.ExpireOffers(ctx, sweepLimit)
			return err
		})
	})
	group.Go(func() error {
		return s.loop(groupCtx, "retention_purge", PurgeInterval, func(ctx context.Context) error {
			purged, err := s.DB.PurgeExpired(ctx, time.Now(), IdempotencyTTL, EventTTL)
			if err == nil && purged > 0 {
				log.WithField("rows", purged).Info("purged expired records")
			}
			return err
		})
	})

	return group.Wait()
}

// loop runs fn every interval with one bounded retry per tick.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err = fn(ctx)
		if err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{"loop": name, "err": err}).Warn("tick failed, retrying once")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
			if err = fn(ctx); err != nil && ctx.Err() == nil {
				log.WithFields(log.Fields{"loop": name, "err": err}).Error("tick failed after retry, awaiting next interval")
			}
		}
	}
}
