// Package worker runs sweeps over the tracked collections and supervises
// the resulting check jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwygoda/streamwatch/internal/clock"
	"github.com/cwygoda/streamwatch/internal/domain"
	"github.com/cwygoda/streamwatch/internal/logger"
)

// Queue is the scheduling queue the worker owns.
type Queue interface {
	Scheduler
	Paused() bool
	Run(ctx context.Context) error
	AwaitIdle(ctx context.Context) error
}

// Refresher renews sessions that went stale during the previous sweep.
type Refresher interface {
	RefreshStale(ctx context.Context) error
}

// Config holds the sweep settings.
type Config struct {
	Collections []string
	// Freshness skips items checked less than this long ago.
	Freshness time.Duration
	// Interval is the pause between two sweeps.
	Interval time.Duration
}

// SweepSummary counts what a sweep did with the items it saw.
type SweepSummary struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Scanned     int       `json:"scanned"`
	Enqueued    int       `json:"enqueued"`
	Duplicates  int       `json:"duplicates"`
	Unsupported int       `json:"unsupported"`
	Recent      int       `json:"recent"`
	Disabled    int       `json:"disabled"`
	// Stopped lists collections cut short by their kill-switch row.
	Stopped []string `json:"stopped,omitempty"`
}

// Status is a snapshot of the worker for the status endpoint.
type Status struct {
	QueueSize int           `json:"queue_size"`
	Paused    bool          `json:"paused"`
	LastSweep *SweepSummary `json:"last_sweep,omitempty"`
}

// Worker sweeps collections and feeds eligible items to the queue.
type Worker struct {
	store      domain.ItemStore
	dispatcher Dispatcher
	queue      Queue
	controller *Controller
	clock      clock.Clock
	log        logger.Logger
	metrics    Recorder
	cfg        Config
	refresher  Refresher

	mu   sync.Mutex
	last *SweepSummary
}

// New creates a new worker. The queue must be created paused; the worker
// resumes it for the duration of each sweep.
func New(
	store domain.ItemStore,
	dispatcher Dispatcher,
	q Queue,
	controller *Controller,
	clk clock.Clock,
	log logger.Logger,
	metrics Recorder,
	cfg Config,
) *Worker {
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		queue:      q,
		controller: controller,
		clock:      clk,
		log:        log,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// WithRefresher makes every sweep start by refreshing stale sessions.
func (w *Worker) WithRefresher(r Refresher) *Worker {
	w.refresher = r
	return w
}

// Run sweeps until ctx is cancelled or a sweep fails. It never returns nil.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		logger.Any("collections", w.cfg.Collections),
		logger.Duration("interval", w.cfg.Interval),
	)
	return w.withQueue(ctx, func(ctx context.Context) error {
		for {
			if _, err := w.Sweep(ctx); err != nil {
				return err
			}
			if err := w.clock.Sleep(ctx, w.cfg.Interval); err != nil {
				w.log.Info("worker shutting down")
				return err
			}
		}
	})
}

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary
	err := w.withQueue(ctx, func(ctx context.Context) error {
		var err error
		sum, err = w.Sweep(ctx)
		return err
	})
	return sum, err
}

func (w *Worker) withQueue(ctx context.Context, fn func(context.Context) error) error {
	qctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.queue.Run(qctx)
	}()

	err := fn(ctx)
	cancel()
	<-done
	return err
}

// Sweep scans every collection once, enqueues eligible items and waits
// until their jobs are done. The queue must be running.
func (w *Worker) Sweep(ctx context.Context) (SweepSummary, error) {
	sum := SweepSummary{StartedAt: w.clock.Now()}

	if w.refresher != nil {
		if err := w.refresher.RefreshStale(ctx); err != nil {
			if ctx.Err() != nil {
				return sum, err
			}
			w.log.Warn("session refresh failed", logger.Error(err))
		}
	}

	for _, collection := range w.cfg.Collections {
		items, err := w.store.ListItems(ctx, collection)
		if errors.Is(err, domain.ErrStoreBusy) {
			w.log.Warn("store busy, skipping collection",
				logger.String("collection", collection),
				logger.Error(err),
			)
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("list %s: %w", collection, err)
		}
		w.scan(collection, items, &sum)
	}

	if sum.Enqueued == 0 {
		w.log.Info("nothing to do")
		w.finish(&sum)
		return sum, nil
	}

	w.log.Info("sweep started", logger.Int("enqueued", sum.Enqueued))
	w.queue.Resume()
	err := w.queue.AwaitIdle(ctx)
	w.queue.Pause()
	if err != nil {
		return sum, err
	}

	w.log.Info("finished")
	w.finish(&sum)
	return sum, nil
}

// scan enqueues the eligible items of one collection. Duplicate links are
// detected within the collection only; the same link may be tracked in
// several collections.
func (w *Worker) scan(collection string, items []domain.TrackedItem, sum *SweepSummary) {
	seen := make(map[string]struct{})
	now := w.clock.Now()
	for _, item := range items {
		sum.Scanned++
		log := w.log.With(
			logger.String("collection", collection),
			logger.String("link", item.Link),
		)

		if item.Link != "" {
			key := domain.Canonicalize(item.Link)
			if _, dup := seen[key]; dup {
				log.Info("duplicate link")
				sum.Duplicates++
				continue
			}
			seen[key] = struct{}{}
		}

		if item.IsKillSwitchOff() {
			log.Info("bot disabled, skipping collection")
			sum.Stopped = append(sum.Stopped, collection)
			return
		}
		if item.Link == "" || w.dispatcher.Dispatch(item.Link) == nil {
			sum.Unsupported++
			continue
		}
		if item.CheckedWithin(now, w.cfg.Freshness) {
			log.Info("skipping recently updated")
			sum.Recent++
			continue
		}
		if item.Disabled {
			log.Info("skipping disabled row")
			sum.Disabled++
			continue
		}

		w.controller.Submit(domain.NewCheckJob(item))
		sum.Enqueued++
	}
}

func (w *Worker) finish(sum *SweepSummary) {
	sum.FinishedAt = w.clock.Now()
	w.metrics.SweepFinished(sum.Enqueued, sum.FinishedAt)

	w.mu.Lock()
	defer w.mu.Unlock()
	last := *sum
	w.last = &last
}

// Status returns the queue state and the summary of the last sweep.
func (w *Worker) Status() Status {
	w.mu.Lock()
	var last *SweepSummary
	if w.last != nil {
		cp := *w.last
		last = &cp
	}
	w.mu.Unlock()

	return Status{
		QueueSize: w.queue.Size(),
		Paused:    w.queue.Paused(),
		LastSweep: last,
	}
}
