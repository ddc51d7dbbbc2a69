// Package strategy holds the platform check strategies and the registry
// that dispatches links to them.
package strategy

import "github.com/cwygoda/streamwatch/internal/domain"

// Registry maps platforms to their enabled strategies.
type Registry struct {
	strategies map[domain.Platform]domain.Strategy
}

// NewRegistry creates a new strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.Platform]domain.Strategy)}
}

// Register adds a strategy, replacing any earlier one for its platform.
func (r *Registry) Register(s domain.Strategy) {
	r.strategies[s.Platform()] = s
}

// Dispatch returns the strategy for the link's platform, or nil when the
// link is unsupported or its platform has no enabled strategy.
func (r *Registry) Dispatch(link string) domain.Strategy {
	p, ok := domain.Classify(link)
	if !ok {
		return nil
	}
	return r.strategies[p]
}

// Platforms returns the platforms with a registered strategy, in the
// order of domain.Platforms.
func (r *Registry) Platforms() []domain.Platform {
	var out []domain.Platform
	for _, p := range domain.Platforms {
		if _, ok := r.strategies[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
