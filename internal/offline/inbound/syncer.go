// Package inbound mirrors the signed-in user's remote collections into the
// Local Store.
//
// The Syncer follows auth snapshots. On login it opens one change stream per
// record kind under users/{uid}/; on logout or re-login it closes every
// stream it opened before. Each stream carries a generation number, and
// batches from a generation that has since been torn down are dropped, so a
// late event from the previous user never lands in the store.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// Store is the Local Store surface inbound sync writes to. *db.DB
// implements it.
type Store interface {
	UpsertRecordContext(ctx context.Context, rec schema.Record) error
	DeleteRecordContext(ctx context.Context, kind schema.Kind, userID, id string) error
}

// Config holds syncer dependencies
type Config struct {
	// Store receives confirmed server state (required)
	Store Store

	// Remote provides the change streams (required)
	Remote remote.Store

	// Publisher receives db-sync notifications (default: notify.Discard)
	Publisher notify.Publisher

	// Kinds lists the tracked record kinds (default: schema.Kinds)
	Kinds []schema.Kind

	// Now stamps records that arrive without a ts (default: time.Now)
	Now func() time.Time

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger
}

// Syncer reconciles remote change streams into the Local Store.
type Syncer struct {
	store     Store
	remote    remote.Store
	publisher notify.Publisher
	kinds     []schema.Kind
	now       func() time.Time
	logger    *log.Logger

	mu   sync.Mutex
	uid  string
	subs []remote.Subscription

	// applyMu guards gen. Handlers hold it shared across the generation
	// check and the write; teardown takes it exclusively to bump gen.
	applyMu sync.RWMutex
	gen     uint64
}

// New creates a syncer.
func New(config Config) (*Syncer, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if config.Publisher == nil {
		config.Publisher = notify.Discard
	}
	if len(config.Kinds) == 0 {
		config.Kinds = schema.Kinds
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &Syncer{
		store:     config.Store,
		remote:    config.Remote,
		publisher: config.Publisher,
		kinds:     append([]schema.Kind(nil), config.Kinds...),
		now:       config.Now,
		logger:    config.Logger,
	}, nil
}

// Run follows states until ctx ends or the channel closes, then tears down
// every open stream.
func (s *Syncer) Run(ctx context.Context, states <-chan *auth.State) error {
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if err := s.HandleAuth(ctx, st); err != nil {
				s.logger.Printf("Warning: %v", err)
			}
		}
	}
}

// HandleAuth applies one auth snapshot: prior streams are torn down, and for
// a signed-in user a fresh stream is opened per tracked kind.
func (s *Syncer) HandleAuth(ctx context.Context, st *auth.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	if st == nil || !st.IsAuthenticated || st.UID == "" {
		return nil
	}

	s.uid = st.UID
	s.applyMu.RLock()
	gen := s.gen
	s.applyMu.RUnlock()

	var errs []error
	for _, kind := range s.kinds {
		collection := schema.CollectionPath(st.UID, kind)
		sub, err := s.remote.Subscribe(ctx, collection,
			s.batchHandler(ctx, gen, st.UID, kind),
			s.errorHandler(collection))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: failed to subscribe to %s: %v", ErrSubscription, collection, err))
			continue
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Printf("Syncing %d collection(s) for %s", len(s.subs), st.UID)
	return errors.Join(errs...)
}

// Stop tears down every open stream.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// UID returns the user currently synced, or "".
func (s *Syncer) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// ActiveSubscriptions returns the number of open streams.
func (s *Syncer) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// teardownLocked closes every stream once and starts a new generation.
// Callers hold s.mu.
func (s *Syncer) teardownLocked() {
	// Bump first: no write from the old generation starts after this, and
	// one already running has finished. Unsubscribe may wait on handlers,
	// so it runs outside applyMu.
	s.applyMu.Lock()
	s.gen++
	s.applyMu.Unlock()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if len(s.subs) > 0 {
		s.logger.Printf("Closed %d subscription(s) for %s", len(s.subs), s.uid)
	}
	s.subs = nil
	s.uid = ""
}

func (s *Syncer) batchHandler(ctx context.Context, gen uint64, uid string, kind schema.Kind) remote.BatchHandler {
	return func(changes []remote.DocChange) {
		s.applyMu.RLock()
		defer s.applyMu.RUnlock()
		if s.gen != gen {
			return
		}
		for _, c := range changes {
			s.apply(ctx, uid, kind, c)
		}
	}
}

func (s *Syncer) errorHandler(collection string) remote.ErrorHandler {
	return func(err error) {
		s.logger.Printf("Error: %v on %s: %v", ErrSubscription, collection, err)
	}
}

// apply writes one change event to the Local Store and announces it.
func (s *Syncer) apply(ctx context.Context, uid string, kind schema.Kind, c remote.DocChange) {
	switch c.Kind {
	case schema.ChangeAdded, schema.ChangeModified:
		rec, err := schema.RecordFromFields(kind, uid, c.ID, c.Fields, s.now())
		if err != nil {
			s.logger.Printf("Warning: skipping remote %s %s: %v", kind, c.ID, err)
			return
		}
		if err := s.store.UpsertRecordContext(ctx, rec); err != nil {
			s.logger.Printf("Warning: failed to apply remote %s %s: %v", kind, c.ID, err)
			return
		}

	case schema.ChangeRemoved:
		if err := s.store.DeleteRecordContext(ctx, kind, uid, c.ID); err != nil {
			s.logger.Printf("Warning: failed to remove %s %s: %v", kind, c.ID, err)
			return
		}

	default:
		s.logger.Printf("Warning: unknown change kind %q for %s %s", c.Kind, kind, c.ID)
		return
	}

	if err := s.publisher.Publish(notify.TopicDBSync, schema.Change{
		Kind:   kind,
		Op:     c.Kind,
		ID:     c.ID,
		UserID: uid,
	}); err != nil {
		s.logger.Printf("Warning: failed to publish change: %v", err)
	}
}
