package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name   string
		err    error
		want   Kind
		wantOK bool
	}{
		{"retryable", Retryable(PlatformTwitch, "fetch", base), KindRetryable, true},
		{"rate limit", RateLimit(PlatformYouTube, "quota", nil), KindRetryable, true},
		{"challenge", Challenge(PlatformInstagram, "login wall", nil), KindChallenge, true},
		{"fatal", Fatal(PlatformFacebook, "gone", nil), KindFatal, true},
		{"wrapped", fmt.Errorf("check: %w", Fatal("", "x", nil)), KindFatal, true},
		{"plain", base, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("KindOf() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(RateLimit(PlatformYouTube, "429", nil)) {
		t.Error("RateLimit() not reported as rate limited")
	}
	if IsRateLimited(Retryable(PlatformYouTube, "503", nil)) {
		t.Error("plain retryable reported as rate limited")
	}
	if IsRateLimited(errors.New("429")) {
		t.Error("unclassified error reported as rate limited")
	}
}

func TestCheckError_Unwrap(t *testing.T) {
	err := Retryable(PlatformTwitch, "read", ErrStoreBusy)
	if !errors.Is(err, ErrStoreBusy) {
		t.Error("errors.Is() did not reach the wrapped error")
	}
	want := "Twitch retryable: read: store busy"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestStoreError(t *testing.T) {
	if k, _ := KindOf(storeError("update", fmt.Errorf("x: %w", ErrStoreBusy))); k != KindRetryable {
		t.Errorf("busy store error kind = %v, want retryable", k)
	}
	if k, _ := KindOf(storeError("update", errors.New("disk full"))); k != KindFatal {
		t.Errorf("other store error kind = %v, want fatal", k)
	}
}
