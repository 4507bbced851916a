package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

func init() {
	Register("memory", func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return NewMemory(), nil
	})
}

// WriteOp names a write for failure injection.
type WriteOp string

const (
	OpUpsert WriteOp = "upsert"
	OpDelete WriteOp = "delete"
)

// WriteHook is consulted before every write. A non-nil error fails the write
// without applying it.
type WriteHook func(op WriteOp, path string) error

// Memory is an in-process Store. It is safe for concurrent use.
//
// Besides serving tests, it backs the development document server and can
// simulate outages through SetOnline, FailWrites and SetWriteHook.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]map[string]map[string]any // collection -> id -> fields
	watches  map[string]map[*watch]bool
	online   bool
	failNext int
	hook     WriteHook
	writes   int
	closed   bool
}

// NewMemory creates an empty, online store.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]map[string]map[string]any),
		watches: make(map[string]map[*watch]bool),
		online:  true,
	}
}

// SetOnline toggles reachability. While offline, Ping and writes fail with
// ErrTransient; subscriptions stay attached.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()
}

// FailWrites makes the next n writes fail with ErrTransient.
func (m *Memory) FailWrites(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// SetWriteHook installs a hook consulted before every write.
func (m *Memory) SetWriteHook(hook WriteHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// WriteCount returns the number of writes applied so far.
func (m *Memory) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// checkWrite reports whether a write may proceed. Callers hold m.mu.
func (m *Memory) checkWrite(op WriteOp, path string) error {
	if m.closed {
		return ErrClosed
	}
	if !m.online {
		return transient(string(op), fmt.Errorf("store offline"))
	}
	if m.failNext > 0 {
		m.failNext--
		return transient(string(op), fmt.Errorf("injected failure"))
	}
	if m.hook != nil {
		if err := m.hook(op, path); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements Store.
func (m *Memory) Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error {
	collection, id, err := SplitDocPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transient("upsert", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWrite(OpUpsert, path); err != nil {
		return err
	}

	docs := m.docs[collection]
	if docs == nil {
		docs = make(map[string]map[string]any)
		m.docs[collection] = docs
	}

	existing, exists := docs[id]
	next := make(map[string]any, len(fields))
	if merge && exists {
		for k, v := range existing {
			next[k] = v
		}
	}
	for k, v := range fields {
		next[k] = v
	}
	docs[id] = next
	m.writes++

	kind := schema.ChangeAdded
	if exists {
		kind = schema.ChangeModified
	}
	m.emit(collection, DocChange{ID: id, Kind: kind, Fields: cloneFields(next)})
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitDocPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return transient("delete", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWrite(OpDelete, path); err != nil {
		return err
	}
	m.writes++

	if _, exists := m.docs[collection][id]; !exists {
		return nil
	}
	delete(m.docs[collection], id)
	m.emit(collection, DocChange{ID: id, Kind: schema.ChangeRemoved})
	return nil
}

// emit queues a change for every watch on collection. Callers hold m.mu.
func (m *Memory) emit(collection string, change DocChange) {
	for w := range m.watches[collection] {
		w.push([]DocChange{change})
	}
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, collection string, onChanges BatchHandler, onError ErrorHandler) (Subscription, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if onChanges == nil {
		return nil, fmt.Errorf("change handler cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	w := newWatch(collection, onChanges, onError)
	if m.watches[collection] == nil {
		m.watches[collection] = make(map[*watch]bool)
	}
	m.watches[collection][w] = true

	// Initial snapshot, in id order for determinism.
	docs := m.docs[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make([]DocChange, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, DocChange{ID: id, Kind: schema.ChangeAdded, Fields: cloneFields(docs[id])})
	}
	w.push(snapshot)

	return bindContext(ctx, func() {
		m.mu.Lock()
		delete(m.watches[collection], w)
		m.mu.Unlock()
		w.stop()
	}), nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.online {
		return transient("ping", fmt.Errorf("store offline"))
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ws := range m.watches {
		for w := range ws {
			w.stop()
		}
	}
	m.watches = make(map[string]map[*watch]bool)
	return nil
}

// Get returns a copy of the document at path.
func (m *Memory) Get(path string) (map[string]any, bool) {
	collection, id, err := SplitDocPath(path)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return cloneFields(doc), true
}

// IDs returns the sorted ids of every document in collection.
func (m *Memory) IDs(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs[collection]))
	for id := range m.docs[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WatchCount returns the number of live subscriptions on collection.
func (m *Memory) WatchCount(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches[collection])
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
