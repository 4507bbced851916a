package auth

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/flags"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
)

// Config holds broadcaster dependencies
type Config struct {
	// Provider is the identity source (required)
	Provider Provider

	// Flags persists the authState flag (required)
	Flags *flags.Store

	// Publisher receives auth topic notifications (default: notify.Discard)
	Publisher notify.Publisher

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// Logger for broadcaster activity (default: stderr logger)
	Logger *log.Logger
}

// Broadcaster turns provider events into AuthState transitions.
type Broadcaster struct {
	provider  Provider
	flags     *flags.Store
	publisher notify.Publisher
	now       func() time.Time
	logger    *log.Logger

	mu        sync.Mutex
	current   *State
	observers map[int]*Observer
	nextID    int
}

// NewBroadcaster creates a broadcaster. Init must be called before Run.
func NewBroadcaster(config Config) (*Broadcaster, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if config.Flags == nil {
		return nil, fmt.Errorf("flag store cannot be nil")
	}
	if config.Publisher == nil {
		config.Publisher = notify.Discard
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}

	return &Broadcaster{
		provider:  config.Provider,
		flags:     config.Flags,
		publisher: config.Publisher,
		now:       config.Now,
		logger:    config.Logger,
		observers: make(map[int]*Observer),
	}, nil
}

// Init loads the persisted snapshot. On first install, when no flag file
// exists yet, a logged-out snapshot is written.
func (b *Broadcaster) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.flags.Exists() {
		state := newState(nil, 0, b.now())
		if err := b.flags.Set(flags.KeyAuthState, state); err != nil {
			return fmt.Errorf("failed to reset auth state: %w", err)
		}
		b.logger.Printf("Fresh install, auth state reset")
		b.current = state
		return nil
	}

	var state State
	ok, err := b.flags.Get(flags.KeyAuthState, &state)
	if err != nil {
		return fmt.Errorf("failed to load auth state: %w", err)
	}
	if !ok {
		b.current = newState(nil, 0, b.now())
		return nil
	}
	b.current = &state
	return nil
}

// Current returns the latest snapshot.
func (b *Broadcaster) Current() *State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return newState(nil, 0, b.now())
	}
	return b.current.Clone()
}

// UID returns the signed-in user id, or "" when logged out.
func (b *Broadcaster) UID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || !b.current.IsAuthenticated {
		return ""
	}
	return b.current.UID
}

// Run follows the provider until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	identities, err := b.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch auth provider: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-identities:
			if !ok {
				return nil
			}
			b.Apply(id)
		}
	}
}

// Apply records a provider event. It returns the new snapshot, or nil when
// id matches the current one and nothing changed.
func (b *Broadcaster) Apply(id *Identity) *State {
	b.mu.Lock()
	if b.current.Matches(id) {
		b.mu.Unlock()
		return nil
	}

	var seq uint64
	if b.current != nil {
		seq = b.current.Seq
	}
	next := newState(id, seq+1, b.now())
	b.current = next

	// Persist first so a process that misses the notification still sees
	// the transition in the flag file.
	if err := b.flags.Set(flags.KeyAuthState, next); err != nil {
		b.logger.Printf("Warning: failed to persist auth state: %v", err)
	}
	observers := make([]*Observer, 0, len(b.observers))
	for _, o := range b.observers {
		observers = append(observers, o)
	}
	b.mu.Unlock()

	if next.IsAuthenticated {
		b.logger.Printf("Signed in as %s (seq %d)", next.UID, next.Seq)
	} else {
		b.logger.Printf("Signed out (seq %d)", next.Seq)
	}

	if err := b.publisher.Publish(notify.TopicAuth, next); err != nil {
		b.logger.Printf("Warning: failed to publish auth state: %v", err)
	}
	for _, o := range observers {
		o.offer(next.Clone())
	}
	return next.Clone()
}

// Observer receives in-process auth snapshots. Only the latest unread
// snapshot is kept.
type Observer struct {
	// C delivers snapshots. It is closed by Close.
	C <-chan *State

	c    chan *State
	b    *Broadcaster
	id   int
	mu   sync.Mutex
	last *State
	done bool
}

// Subscribe attaches an observer. The current snapshot is delivered first.
func (b *Broadcaster) Subscribe() *Observer {
	c := make(chan *State, 1)
	o := &Observer{C: c, c: c, b: b}

	b.mu.Lock()
	b.nextID++
	o.id = b.nextID
	b.observers[o.id] = o
	current := b.current.Clone()
	b.mu.Unlock()

	if current == nil {
		current = newState(nil, 0, b.now())
	}
	o.offer(current)
	return o
}

func (o *Observer) offer(s *State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done || !s.Newer(o.last) {
		return
	}
	o.last = s
	select {
	case o.c <- s:
		return
	default:
	}
	select {
	case <-o.c:
	default:
	}
	o.c <- s
}

// Close detaches the observer and closes C.
func (o *Observer) Close() {
	o.b.mu.Lock()
	delete(o.b.observers, o.id)
	o.b.mu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.done {
		o.done = true
		close(o.c)
	}
}
