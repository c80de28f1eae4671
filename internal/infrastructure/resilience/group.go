package resilience

import "sync"

// Group manages one breaker per profile, created lazily.
type Group struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	settings Settings
}

// NewGroup creates a breaker group with shared settings.
func NewGroup(settings Settings) *Group {
	return &Group{
		breakers: make(map[string]*Breaker),
		settings: settings,
	}
}

// For returns the breaker for a profile, creating it on first use.
func (g *Group) For(profileID string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[profileID]
	if !ok {
		b = New(profileID, g.settings)
		g.breakers[profileID] = b
	}
	return b
}

// Reset discards the breaker for a profile. Used after a successful manual
// start so a previously tripped profile gets a clean slate.
func (g *Group) Reset(profileID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, profileID)
}
