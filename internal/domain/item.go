package domain

import (
	"maps"
	"time"
)

// Status is the last observed state of a tracked link.
type Status string

const (
	StatusLive    Status = "Live"
	StatusOffline Status = "Offline"
	StatusUnknown Status = "Unknown"
)

// ParseStatus maps a stored status string to a Status. Anything
// unrecognised, including the empty string, is StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusLive:
		return StatusLive
	case StatusOffline:
		return StatusOffline
	default:
		return StatusUnknown
	}
}

// killSwitchSource marks the control row that enables the bot for the
// rest of its collection.
const killSwitchSource = "🤖 Bot enabled:"

// TrackedItem is one row of durable state: a stream link and what was
// last observed about it.
type TrackedItem struct {
	Link          string
	Status        Status
	Title         string
	EmbedLink     string
	LastCheckedAt time.Time
	LastLiveAt    time.Time
	Disabled      bool

	// Source and Platform are free-form columns maintained by humans. They
	// are only interpreted for the kill-switch row.
	Source   string
	Platform string
	// Extra holds other non-empty columns by header name, for stores that
	// have them. Archiving carries them along.
	Extra map[string]string

	Collection string
	// Position re-fetches the same slot. It is not an identity: the slot
	// may hold a different link by the time it is read again.
	Position int64
}

// IsKillSwitchOff reports whether the item is the "bot enabled" control row
// switched to anything but YES.
func (it *TrackedItem) IsKillSwitchOff() bool {
	return it.Source == killSwitchSource && it.Platform != "YES"
}

// CheckedWithin reports whether the item was checked less than window ago.
func (it *TrackedItem) CheckedWithin(now time.Time, window time.Duration) bool {
	if it.LastCheckedAt.IsZero() {
		return false
	}
	return it.LastCheckedAt.After(now.Add(-window))
}

// SameLink reports whether link refers to the same stream as the item.
func (it *TrackedItem) SameLink(link string) bool {
	return Canonicalize(it.Link) == Canonicalize(link)
}

// Fields is the writable subset of a TrackedItem handed to ItemStore
// updates and appends.
type Fields struct {
	Link          string
	Status        Status
	Title         string
	EmbedLink     string
	LastCheckedAt time.Time
	LastLiveAt    time.Time
	Disabled      bool
	Source        string
	Platform      string
	Extra         map[string]string
}

// Fields returns the item's writable fields.
func (it *TrackedItem) Fields() Fields {
	return Fields{
		Link:          it.Link,
		Status:        it.Status,
		Title:         it.Title,
		EmbedLink:     it.EmbedLink,
		LastCheckedAt: it.LastCheckedAt,
		LastLiveAt:    it.LastLiveAt,
		Disabled:      it.Disabled,
		Source:        it.Source,
		Platform:      it.Platform,
		Extra:         maps.Clone(it.Extra),
	}
}
