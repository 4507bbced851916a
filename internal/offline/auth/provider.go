package auth

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the authentication collaborator. Watch emits the current
// identity first and then every change; nil means logged out. The channel is
// closed when ctx ends.
type Provider interface {
	Watch(ctx context.Context) (<-chan *Identity, error)
}

// ManualProvider is a Provider driven by explicit SignIn and SignOut calls.
// The background process uses it in place of an interactive login flow.
type ManualProvider struct {
	mu       sync.Mutex
	current  *Identity
	watchers map[chan *Identity]struct{}
}

// NewManualProvider creates a provider whose initial identity is initial.
func NewManualProvider(initial *Identity) *ManualProvider {
	return &ManualProvider{
		current:  copyIdentity(initial),
		watchers: make(map[chan *Identity]struct{}),
	}
}

// SignIn makes id the current identity.
func (p *ManualProvider) SignIn(id Identity) error {
	if id.UID == "" {
		return fmt.Errorf("uid cannot be empty")
	}
	p.set(&id)
	return nil
}

// SignOut clears the current identity.
func (p *ManualProvider) SignOut() {
	p.set(nil)
}

// Current returns the current identity, or nil when logged out.
func (p *ManualProvider) Current() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyIdentity(p.current)
}

func (p *ManualProvider) set(id *Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = copyIdentity(id)
	for ch := range p.watchers {
		offerIdentity(ch, copyIdentity(id))
	}
}

// Watch implements Provider.
func (p *ManualProvider) Watch(ctx context.Context) (<-chan *Identity, error) {
	ch := make(chan *Identity, 1)

	p.mu.Lock()
	p.watchers[ch] = struct{}{}
	offerIdentity(ch, copyIdentity(p.current))
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.watchers, ch)
		close(ch)
		p.mu.Unlock()
	}()

	return ch, nil
}

// offerIdentity replaces any unread identity in ch with id. Callers hold the
// provider lock, so they are the only sender.
func offerIdentity(ch chan *Identity, id *Identity) {
	select {
	case ch <- id:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- id:
	default:
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
