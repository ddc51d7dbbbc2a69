package domain

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrStoreBusy is wrapped by store adapters when the store is
	// transiently overloaded and the operation may succeed later.
	ErrStoreBusy        = errors.New("store busy")
	ErrChallengeTimeout = errors.New("challenge not cleared before timeout")
)

// Kind classifies a check failure.
type Kind int

const (
	// KindRetryable is a transient failure: network blip, odd page shape,
	// rate limit, store overload.
	KindRetryable Kind = iota + 1
	// KindChallenge is an anti-automation wall that needs someone to clear it.
	KindChallenge
	// KindFatal is a failure that retrying cannot fix.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindChallenge:
		return "challenge"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CheckError is the error type strategies and the reconciler return.
type CheckError struct {
	Kind     Kind
	Platform Platform
	Msg      string
	// RateLimited marks a retryable failure caused by a platform-wide throttle.
	RateLimited bool
	Err         error
}

func (e *CheckError) Error() string {
	prefix := e.Kind.String()
	if e.Platform != "" {
		prefix = fmt.Sprintf("%s %s", e.Platform, prefix)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Retryable returns a transient failure.
func Retryable(p Platform, msg string, err error) error {
	return &CheckError{Kind: KindRetryable, Platform: p, Msg: msg, Err: err}
}

// RateLimit returns a retryable failure that signals a global throttle.
func RateLimit(p Platform, msg string, err error) error {
	return &CheckError{Kind: KindRetryable, Platform: p, Msg: msg, RateLimited: true, Err: err}
}

// Challenge returns an interactive-challenge failure.
func Challenge(p Platform, msg string, err error) error {
	return &CheckError{Kind: KindChallenge, Platform: p, Msg: msg, Err: err}
}

// Fatal returns a failure that must not be retried.
func Fatal(p Platform, msg string, err error) error {
	return &CheckError{Kind: KindFatal, Platform: p, Msg: msg, Err: err}
}

// KindOf extracts the failure kind. ok is false for errors that carry no
// classification.
func KindOf(err error) (kind Kind, ok bool) {
	var ce *CheckError
	if !errors.As(err, &ce) {
		return 0, false
	}
	return ce.Kind, true
}

// IsRateLimited reports whether err signals a global rate limit.
func IsRateLimited(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce) && ce.Kind == KindRetryable && ce.RateLimited
}

// storeError classifies an error returned by an ItemStore.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreBusy) {
		return Retryable("", op, err)
	}
	return Fatal("", op, err)
}
