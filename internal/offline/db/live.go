package db

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// subscriptionBuffer is the per-subscriber channel capacity. A change that
// does not fit is dropped; the subscriber still has a pending change to
// react to, so it re-reads anyway.
const subscriptionBuffer = 16

// Subscription delivers Local Store changes to one reader.
type Subscription struct {
	// C receives a Change after every committed write that matches the
	// subscription. It is closed by Close or when the DB closes.
	C <-chan schema.Change

	c     chan schema.Change
	kinds map[schema.Kind]bool
	db    *DB
	id    int
	once  sync.Once
}

// Subscribe returns a subscription to writes on the given kinds. With no
// kinds, every write is delivered. External changes (see WatchExternal) are
// delivered to all subscriptions.
func (db *DB) Subscribe(kinds ...schema.Kind) *Subscription {
	c := make(chan schema.Change, subscriptionBuffer)
	sub := &Subscription{
		C:     c,
		c:     c,
		kinds: make(map[schema.Kind]bool, len(kinds)),
		db:    db,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	db.subsMu.Lock()
	db.nextID++
	sub.id = db.nextID
	db.subs[sub.id] = sub
	db.subsMu.Unlock()

	return sub
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.db.subsMu.Lock()
		if _, ok := s.db.subs[s.id]; ok {
			delete(s.db.subs, s.id)
			close(s.c)
		}
		s.db.subsMu.Unlock()
	})
}

func (s *Subscription) matches(ch schema.Change) bool {
	return ch.External || len(s.kinds) == 0 || s.kinds[ch.Kind]
}

// publish fans a change out to subscribers without blocking the writer.
func (db *DB) publish(ch schema.Change) {
	db.subsMu.Lock()
	defer db.subsMu.Unlock()

	for _, sub := range db.subs {
		if !sub.matches(ch) {
			continue
		}
		select {
		case sub.c <- ch:
		default:
		}
	}
}

// WatchExternal detects commits made through other connections, including
// other processes, and delivers them to subscribers as External changes.
//
// It watches the database and WAL files with fsnotify and confirms each burst
// of file events with PRAGMA data_version on a dedicated connection. Commits
// made through this DB's own pool also bump data_version, so an External
// change may follow a local write. Blocks until ctx is cancelled.
func (db *DB) WatchExternal(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to pin connection: %w", err)
	}
	defer conn.Close()

	dataVersion := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
		return v, err
	}

	last, err := dataVersion()
	if err != nil {
		return fmt.Errorf("failed to read data_version: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(db.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch database directory %s: %w", dir, err)
	}

	base := filepath.Base(db.path)
	relevant := map[string]bool{base: true, base + "-wal": true}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant[filepath.Base(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("database watcher error: %w", err)

		case <-timer.C:
			v, err := dataVersion()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to read data_version: %w", err)
			}
			if v != last {
				last = v
				db.publish(schema.Change{External: true})
			}
		}
	}
}
