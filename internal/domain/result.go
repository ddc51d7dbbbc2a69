package domain

// CheckResult is what a platform strategy observed for one URL. It is
// consumed by reconciliation and then discarded.
type CheckResult struct {
	URL      string
	Platform Platform
	IsLive   bool
	// StatusOverride, when set, replaces the Live/Offline derived from IsLive.
	StatusOverride Status
	Title          string
	EmbedLink      string
}

// Status returns the status this result implies.
func (r CheckResult) Status() Status {
	if r.StatusOverride != "" {
		return r.StatusOverride
	}
	if r.IsLive {
		return StatusLive
	}
	return StatusOffline
}
