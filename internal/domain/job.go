package domain

import "github.com/google/uuid"

// CheckJob is one scheduled status check of a collection slot.
type CheckJob struct {
	ID         string
	Collection string
	Position   int64
	// Link is the link observed at the slot when the job was created.
	Link    string
	Attempt int
}

// NewCheckJob creates the first attempt for an item.
func NewCheckJob(item TrackedItem) CheckJob {
	return CheckJob{
		ID:         uuid.NewString(),
		Collection: item.Collection,
		Position:   item.Position,
		Link:       item.Link,
	}
}

// Next returns the job for the following attempt. The ID is kept so that
// log lines of all attempts correlate.
func (j CheckJob) Next() CheckJob {
	j.Attempt++
	return j
}

// CanRetry returns true if another attempt fits in the retry budget.
func (j CheckJob) CanRetry(maxRetries int) bool {
	return j.Attempt < maxRetries
}
