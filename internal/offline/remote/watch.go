package remote

import "sync"

// watch delivers batches to one subscriber in order, on its own goroutine,
// so producers never block on a slow handler.
type watch struct {
	collection string
	onChanges  BatchHandler
	onError    ErrorHandler

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]DocChange
	errs    []error
	stopped bool
	done    chan struct{}
}

func newWatch(collection string, onChanges BatchHandler, onError ErrorHandler) *watch {
	w := &watch{
		collection: collection,
		onChanges:  onChanges,
		onError:    onError,
		done:       make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// push queues a batch. Empty batches are ignored.
func (w *watch) push(batch []DocChange) {
	if len(batch) == 0 {
		return
	}
	w.mu.Lock()
	if !w.stopped {
		w.pending = append(w.pending, batch)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// fail queues a stream fault for the error handler.
func (w *watch) fail(err error) {
	if w.onError == nil {
		return
	}
	w.mu.Lock()
	if !w.stopped {
		w.errs = append(w.errs, err)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// stop ends delivery. Batches still pending are discarded.
func (w *watch) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.pending = nil
	w.errs = nil
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *watch) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.pending) == 0 && len(w.errs) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}

		var (
			batch []DocChange
			err   error
		)
		if len(w.errs) > 0 {
			err = w.errs[0]
			w.errs = w.errs[1:]
		} else {
			batch = w.pending[0]
			w.pending = w.pending[1:]
		}
		w.mu.Unlock()

		if err != nil {
			w.onError(err)
		} else {
			w.onChanges(batch)
		}
	}
}
