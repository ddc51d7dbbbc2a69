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
	"github.com/cwygoda/streamwatch/internal/queue"
)

// Scheduler is the part of the scheduling queue the controller drives.
type Scheduler interface {
	Enqueue(t queue.Task)
	Pause()
	Resume()
	Size() int
}

// Dispatcher resolves the strategy for a link. It returns nil when the link
// is unsupported or its platform is disabled.
type Dispatcher interface {
	Dispatch(link string) domain.Strategy
}

// ChallengeWaiter blocks until a platform's challenge has been cleared.
type ChallengeWaiter interface {
	WaitCleared(ctx context.Context, p domain.Platform) error
}

// Recorder receives job and sweep outcomes.
type Recorder interface {
	CheckFinished(platform, outcome string)
	Retried(platform, kind string)
	RateLimited(platform string)
	SweepFinished(enqueued int, at time.Time)
}

// RetryPolicy bounds and spaces retries.
type RetryPolicy struct {
	MaxRetries        int
	Backoff           time.Duration
	RateLimitCooldown time.Duration
	ChallengeDelay    time.Duration
	ChallengeTimeout  time.Duration
}

// Controller runs check jobs on the queue and decides what happens when
// they fail.
type Controller struct {
	queue      Scheduler
	dispatcher Dispatcher
	reconciler *domain.Reconciler
	challenges ChallengeWaiter
	clock      clock.Clock
	log        logger.Logger
	metrics    Recorder
	policy     RetryPolicy

	mu sync.Mutex
	// cooling counts rate-limit cooldowns in progress; the queue stays
	// paused while any is running.
	cooling int
}

// NewController creates a Controller.
func NewController(
	q Scheduler,
	dispatcher Dispatcher,
	reconciler *domain.Reconciler,
	challenges ChallengeWaiter,
	clk clock.Clock,
	log logger.Logger,
	metrics Recorder,
	policy RetryPolicy,
) *Controller {
	return &Controller{
		queue:      q,
		dispatcher: dispatcher,
		reconciler: reconciler,
		challenges: challenges,
		clock:      clk,
		log:        log,
		metrics:    metrics,
		policy:     policy,
	}
}

// Submit enqueues a job.
func (c *Controller) Submit(job domain.CheckJob) {
	c.queue.Enqueue(func(ctx context.Context) error {
		return c.run(ctx, job)
	})
}

// run executes one attempt. Only errors that no failure kind covers are
// returned; they stop the process.
func (c *Controller) run(ctx context.Context, job domain.CheckJob) error {
	log := c.log.With(
		logger.String("job_id", job.ID),
		logger.String("collection", job.Collection),
		logger.Int64("position", job.Position),
		logger.String("link", job.Link),
		logger.Int("attempt", job.Attempt),
	)

	if job.Attempt > 0 {
		if err := c.clock.Sleep(ctx, time.Duration(job.Attempt)*c.policy.Backoff); err != nil {
			return err
		}
	}

	platform, err := c.attempt(ctx, job, log)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.handle(ctx, job, platform, err, log)
}

func (c *Controller) attempt(ctx context.Context, job domain.CheckJob, log logger.Logger) (string, error) {
	item, err := c.reconciler.Load(ctx, job)
	if err != nil {
		return "", err
	}
	if item == nil {
		log.Info("row modified, skipping")
		c.metrics.CheckFinished("", domain.OutcomeSkipped.String())
		return "", nil
	}

	strategy := c.dispatcher.Dispatch(item.Link)
	if strategy == nil {
		log.Debug("no strategy for link")
		return "", nil
	}
	platform := string(strategy.Platform())

	result, err := strategy.Check(ctx, *item)
	if err != nil {
		return platform, err
	}

	outcome, updated, err := c.reconciler.Commit(ctx, job, result)
	if err != nil {
		return platform, err
	}
	c.metrics.CheckFinished(platform, outcome.String())

	switch outcome {
	case domain.OutcomeSkipped:
		log.Info("row modified, skipping")
	case domain.OutcomeExpired:
		log.Info("expiring row", logger.Time("last_live_at", updated.LastLiveAt))
	default:
		log.Info("updated",
			logger.String("status", string(updated.Status)),
			logger.Int("remaining", c.queue.Size()-1),
		)
	}
	return platform, nil
}

func (c *Controller) handle(ctx context.Context, job domain.CheckJob, platform string, err error, log logger.Logger) error {
	kind, ok := domain.KindOf(err)
	if !ok {
		return fmt.Errorf("job %s: unclassified failure: %w", job.ID, err)
	}
	log = log.With(logger.Error(err), logger.String("kind", kind.String()))

	if domain.IsRateLimited(err) {
		log.Warn("rate limited, pausing queue", logger.Duration("cooldown", c.policy.RateLimitCooldown))
		c.metrics.RateLimited(platform)
		return c.cooldown(ctx, c.policy.RateLimitCooldown)
	}

	switch kind {
	case domain.KindFatal:
		log.Error("abandoning row")
		c.metrics.CheckFinished(platform, "fatal")
		return nil
	case domain.KindChallenge:
		if err := c.awaitChallenge(ctx, domain.Platform(platform), log); err != nil {
			return err
		}
	default:
		log.Warn("error updating row")
	}

	if !job.CanRetry(c.policy.MaxRetries) {
		log.Warn("giving up on row")
		c.metrics.CheckFinished(platform, "exhausted")
		return nil
	}
	c.metrics.Retried(platform, kind.String())
	c.Submit(job.Next())
	return nil
}

// cooldown pauses the queue for d. Overlapping cooldowns keep it paused
// until the last one ends.
func (c *Controller) cooldown(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.cooling++
	if c.cooling == 1 {
		c.queue.Pause()
	}
	c.mu.Unlock()

	err := c.clock.Sleep(ctx, d)

	c.mu.Lock()
	c.cooling--
	if c.cooling == 0 {
		c.queue.Resume()
	}
	c.mu.Unlock()
	return err
}

// awaitChallenge waits for someone to clear a challenge. Running out of
// time is not an error; the job then goes through the normal retry check.
func (c *Controller) awaitChallenge(ctx context.Context, p domain.Platform, log logger.Logger) error {
	log.Warn("waiting for challenge", logger.Duration("timeout", c.policy.ChallengeTimeout))
	if err := c.clock.Sleep(ctx, c.policy.ChallengeDelay); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.policy.ChallengeTimeout)
	defer cancel()
	err := c.challenges.WaitCleared(wctx, p)
	switch {
	case err == nil:
		log.Info("challenge cleared")
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrChallengeTimeout):
		log.Warn("challenge not cleared", logger.Error(domain.ErrChallengeTimeout))
	default:
		log.Warn("challenge wait failed", logger.Error(err))
	}
	return nil
}
