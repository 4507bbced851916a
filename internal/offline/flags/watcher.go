package flags

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits the value of one flag every time another writer changes it.
// It uses fsnotify on the flag file's directory, since atomic replacement
// swaps the file's inode on every write.
type Watcher struct {
	store   *Store
	key     string
	watcher *fsnotify.Watcher
	events  chan json.RawMessage
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	last    json.RawMessage
}

// NewWatcher creates a watcher for key. The watcher must be started with
// Start() before it will emit values.
func (s *Store) NewWatcher(key string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:   s,
		key:     key,
		watcher: watcher,
		events:  make(chan json.RawMessage, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The value present at Start is recorded and is not
// emitted; only later changes are.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(w.store.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch flag directory %s: %w", dir, err)
	}

	last, err := w.store.GetRaw(w.key)
	if err != nil {
		_ = w.watcher.Remove(dir)
		return err
	}
	w.last = last

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event processing goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel of changed values. A nil value means the key was
// deleted.
func (w *Watcher) Events() <-chan json.RawMessage {
	return w.events
}

// Errors returns the channel of watch and read errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	base := filepath.Base(w.store.path)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.check()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(fmt.Errorf("flag watcher error: %w", err))
		}
	}
}

// check re-reads the file and emits the key's value if it changed.
func (w *Watcher) check() {
	raw, err := w.store.GetRaw(w.key)
	if err != nil {
		w.sendError(err)
		return
	}
	if sameJSON(raw, w.last) {
		return
	}
	w.last = raw

	select {
	case w.events <- raw:
	case <-w.done:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	default:
	}
}
