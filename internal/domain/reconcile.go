package domain

import (
	"context"
	"errors"
	"time"

	"github.com/cwygoda/streamwatch/internal/clock"
)

// Outcome is what a commit did to the store.
type Outcome int

const (
	OutcomeUpdated Outcome = iota + 1
	OutcomeExpired
	// OutcomeSkipped means the slot no longer holds the checked link.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeExpired:
		return "expired"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Reconciler commits check results back into the item store. It never
// caches items: every commit re-reads the slot it is about to write.
type Reconciler struct {
	store   ItemStore
	clock   clock.Clock
	archive string
	expiry  time.Duration
}

// NewReconciler creates a Reconciler. Records stored as Live whose last
// live time is older than expiry are moved to the archive collection. A zero expiry
// disables archiving.
func NewReconciler(store ItemStore, clk clock.Clock, archive string, expiry time.Duration) *Reconciler {
	return &Reconciler{
		store:   store,
		clock:   clk,
		archive: archive,
		expiry:  expiry,
	}
}

// Load reads the item a job points at. It returns nil without error when
// the slot is empty or holds a different link.
func (r *Reconciler) Load(ctx context.Context, job CheckJob) (*TrackedItem, error) {
	item, err := r.store.GetItemAt(ctx, job.Collection, job.Position)
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("read item", err)
	}
	if !item.SameLink(job.Link) {
		return nil, nil
	}
	return item, nil
}

// Commit applies a check result to the slot the job was created for.
// Store failures are returned as CheckErrors: retryable when the store is
// busy, fatal otherwise.
func (r *Reconciler) Commit(ctx context.Context, job CheckJob, result CheckResult) (Outcome, *TrackedItem, error) {
	current, err := r.Load(ctx, job)
	if err != nil {
		return 0, nil, err
	}
	if current == nil {
		return OutcomeSkipped, nil, nil
	}

	// Expiry is judged on the stored record, the result only feeds the
	// archived snapshot.
	now := r.clock.Now()
	expired := r.Expired(*current, now)
	updated := Apply(*current, result, now)

	if expired {
		if err := r.store.AppendItem(ctx, r.archive, updated.Fields()); err != nil {
			return 0, nil, storeError("archive item", err)
		}
		// A crash here leaves the record in both collections; never in neither.
		if err := r.store.DeleteItem(ctx, job.Collection, job.Position); err != nil {
			return 0, nil, storeError("delete expired item", err)
		}
		return OutcomeExpired, &updated, nil
	}

	if err := r.store.UpdateItem(ctx, job.Collection, job.Position, updated.Fields()); err != nil {
		return 0, nil, storeError("update item", err)
	}
	return OutcomeUpdated, &updated, nil
}

// Expired reports whether a stored Live item has not been seen live for
// longer than the expiry window.
func (r *Reconciler) Expired(item TrackedItem, now time.Time) bool {
	if r.expiry <= 0 || r.archive == "" || item.Status != StatusLive || item.LastLiveAt.IsZero() {
		return false
	}
	return item.LastLiveAt.Before(now.Add(-r.expiry))
}

// Apply returns item updated with what result observed at now.
func Apply(item TrackedItem, result CheckResult, now time.Time) TrackedItem {
	item.Status = result.Status()
	item.LastCheckedAt = now
	if result.IsLive || item.LastLiveAt.IsZero() {
		item.LastLiveAt = now
	}
	// Offline pages tend to carry generic titles.
	if result.IsLive && result.Title != "" {
		item.Title = result.Title
	}
	if result.EmbedLink != "" {
		item.EmbedLink = result.EmbedLink
	}
	return item
}
