package auth

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/flags"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
)

// Subscriber is a notifier endpoint. Both notify.Hub and notify.Client
// satisfy it.
type Subscriber interface {
	Subscribe(topics ...string) *notify.Subscription
}

// Listener follows the auth snapshot from a UI process.
//
// Start reads the authState flag first, then attaches to the notifier and to
// the flag file. Every snapshot is accepted only if its seq is larger than
// the one held, whichever path delivers it first.
type Listener struct {
	flags  *flags.Store
	bus    Subscriber
	logger *log.Logger

	watcher *flags.Watcher
	sub     *notify.Subscription

	mu      sync.Mutex
	current *State
	changes chan *State
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewListener creates a listener. bus may be nil to follow the flag file only.
func NewListener(store *flags.Store, bus Subscriber, logger *log.Logger) (*Listener, error) {
	if store == nil {
		return nil, fmt.Errorf("flag store cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Listener{
		flags:   store,
		bus:     bus,
		logger:  logger,
		changes: make(chan *State, 16),
		done:    make(chan struct{}),
	}, nil
}

// Start performs the cold-start read and begins following updates.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("listener already started")
	}
	l.started = true
	l.mu.Unlock()

	var state State
	ok, err := l.flags.Get(flags.KeyAuthState, &state)
	if err != nil {
		return fmt.Errorf("failed to read auth state: %w", err)
	}
	if ok {
		l.Offer(&state)
	}

	watcher, err := l.flags.NewWatcher(flags.KeyAuthState)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	l.watcher = watcher

	if l.bus != nil {
		l.sub = l.bus.Subscribe(notify.TopicAuth)
	}

	// The flag may have moved between the cold read and the watcher start.
	var again State
	if ok, err := l.flags.Get(flags.KeyAuthState, &again); err == nil && ok {
		l.Offer(&again)
	}

	l.wg.Add(1)
	go l.loop()
	return nil
}

func (l *Listener) loop() {
	defer l.wg.Done()

	var notes <-chan notify.Message
	if l.sub != nil {
		notes = l.sub.C
	}

	for {
		select {
		case <-l.done:
			return

		case raw, ok := <-l.watcher.Events():
			if !ok {
				return
			}
			var state State
			if err := json.Unmarshal(raw, &state); err != nil {
				l.logger.Printf("Warning: unreadable auth flag: %v", err)
				continue
			}
			l.Offer(&state)

		case err, ok := <-l.watcher.Errors():
			if ok {
				l.logger.Printf("Warning: auth flag watch: %v", err)
			}

		case msg, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			var state State
			if err := msg.Decode(&state); err != nil {
				l.logger.Printf("Warning: %v", err)
				continue
			}
			l.Offer(&state)
		}
	}
}

// Offer proposes a snapshot. It reports whether the snapshot was accepted.
func (l *Listener) Offer(s *State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || !s.Newer(l.current) {
		return false
	}
	l.current = s.Clone()

	select {
	case l.changes <- s.Clone():
	default:
		l.logger.Printf("Warning: auth listener backlog full, dropping seq %d", s.Seq)
	}
	return true
}

// Current returns the newest accepted snapshot, or nil before the first.
func (l *Listener) Current() *State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// Changes delivers every accepted snapshot. It is closed by Stop.
func (l *Listener) Changes() <-chan *State {
	return l.changes
}

// Stop detaches the listener. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	if l.watcher != nil {
		_ = l.watcher.Stop()
	}
	if l.sub != nil {
		l.sub.Close()
	}

	l.mu.Lock()
	close(l.changes)
	l.mu.Unlock()
}
