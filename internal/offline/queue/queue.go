// Package queue implements the outbound write queue: a durable, ordered,
// at-least-once pipeline that carries local mutations to the remote store.
//
// Every mutation is persisted to the Local Store's queue table before any
// network attempt. A single drain goroutine owns the head of the in-memory
// FIFO; failed items wait out a fixed retry schedule and then rejoin the
// tail, so one slow item never blocks the rest. An item is removed only
// after the remote store confirms the write or after its last attempt.
package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// DefaultSchedule is the retry schedule used when none is configured.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Store is the Local Store surface the queue needs: durable queue rows plus
// the tables confirmed writes are applied to. *db.DB implements it.
type Store interface {
	PutQueueItem(ctx context.Context, item *schema.QueueItem) error
	UpdateQueueAttempts(ctx context.Context, id string, attempts int) error
	DeleteQueueItem(ctx context.Context, id string) error
	ListQueueItems(ctx context.Context) ([]*schema.QueueItem, error)

	UpsertRecordContext(ctx context.Context, rec schema.Record) error
	DeleteRecordContext(ctx context.Context, kind schema.Kind, userID, id string) error
	BumpUserStats(ctx context.Context, userID string, words, notes int, at int64) error
}

// Config holds queue dependencies
type Config struct {
	// Store persists queue items and receives confirmed records (required)
	Store Store

	// Remote is the remote document store (required)
	Remote remote.Store

	// Identity returns the signed-in user id, or "" when logged out (required)
	Identity func() string

	// Publisher receives queue and db-sync notifications (default: notify.Discard)
	Publisher notify.Publisher

	// Clock arms retry timers (default: SystemClock)
	Clock Clock

	// Schedule lists the delay before each retry (default: DefaultSchedule)
	Schedule []time.Duration

	// Logger for queue activity (default: stderr logger)
	Logger *log.Logger
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	// Pending counts items waiting in the FIFO (including one in flight).
	Pending int `json:"pending"`

	// Delayed counts items waiting on a retry timer.
	Delayed int `json:"delayed"`

	Online bool `json:"online"`
}

// Queue is the outbound queue. Construct it with New, then Start it.
type Queue struct {
	store     Store
	remote    remote.Store
	identity  func() string
	publisher notify.Publisher
	clock     Clock
	schedule  []time.Duration
	logger    *log.Logger

	mu       sync.Mutex
	fifo     []*schema.QueueItem
	inflight *schema.QueueItem
	delayed  map[string]Timer
	waiters  []chan struct{}
	online   bool
	running  bool
	closed   bool

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. It starts online.
func New(config Config) (*Queue, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("identity source cannot be nil")
	}
	if config.Publisher == nil {
		config.Publisher = notify.Discard
	}
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	if len(config.Schedule) == 0 {
		config.Schedule = DefaultSchedule
	}
	for i, d := range config.Schedule {
		if d < 0 {
			return nil, fmt.Errorf("retry delay %d is negative (%s)", i, d)
		}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}

	return &Queue{
		store:     config.Store,
		remote:    config.Remote,
		identity:  config.Identity,
		publisher: config.Publisher,
		clock:     config.Clock,
		schedule:  append([]time.Duration(nil), config.Schedule...),
		logger:    config.Logger,
		delayed:   make(map[string]Timer),
		online:    true,
		kick:      make(chan struct{}, 1),
	}, nil
}

// Start reloads persisted items in their original order and starts the
// drain loop. The loop stops when ctx ends or Close is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.mu.Unlock()

	items, err := q.store.ListQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload queue: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	seen := make(map[string]bool, len(q.fifo))
	for _, it := range q.fifo {
		seen[it.ID] = true
	}
	reloaded := make([]*schema.QueueItem, 0, len(items)+len(q.fifo))
	for _, it := range items {
		if !seen[it.ID] {
			reloaded = append(reloaded, it)
		}
	}
	q.fifo = append(reloaded, q.fifo...)
	q.running = true
	q.cancel = cancel
	q.mu.Unlock()

	if len(items) > 0 {
		q.logger.Printf("Reloaded %d queued item(s)", len(items))
	}

	q.wg.Add(1)
	go q.loop(loopCtx)
	q.Drain()
	return nil
}

// Run starts the queue and blocks until ctx ends.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	q.Close()
	return nil
}

// Close stops the drain loop and all retry timers. Persisted items stay in
// the queue table for the next Start.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, t := range q.delayed {
		t.Stop()
		delete(q.delayed, id)
	}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Enqueue persists m for the signed-in user and schedules its delivery.
func (q *Queue) Enqueue(ctx context.Context, m schema.Mutation) (*schema.QueueItem, error) {
	uid := q.identity()
	if uid == "" {
		return nil, ErrUnauthenticated
	}
	if m == nil {
		return nil, fmt.Errorf("mutation cannot be nil")
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}

	item, err := schema.NewQueueItem(uid, m, q.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := q.store.PutQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to persist queue item: %w", err)
	}

	q.mu.Lock()
	q.fifo = append(q.fifo, item)
	q.mu.Unlock()

	q.emit(EventEnqueued, item, m, nil, 0)
	q.Drain()

	out := *item
	return &out, nil
}

// Drain asks the drain loop to run. It never blocks and is safe to call
// from anywhere, any number of times.
func (q *Queue) Drain() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Flush triggers a drain and waits until the loop has completed a pass over
// the FIFO. Items waiting on a retry timer are not waited for.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})

	q.mu.Lock()
	if q.closed || !q.running {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.waiters = append(q.waiters, done)
	q.mu.Unlock()

	q.Drain()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOnline records network availability. Going online triggers a drain.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()

	if online && !was {
		q.logger.Printf("Network online, draining")
		q.Drain()
	} else if !online && was {
		q.logger.Printf("Network offline, pausing")
	}
}

// Stats returns the queue depth and network state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := len(q.fifo)
	if q.inflight != nil {
		pending++
	}
	return Stats{Pending: pending, Delayed: len(q.delayed), Online: q.online}
}

// Len returns the number of undelivered items, delayed ones included.
func (q *Queue) Len() int {
	s := q.Stats()
	return s.Pending + s.Delayed
}

func (q *Queue) loop(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
		}
		q.pass(ctx)
	}
}

// pass delivers items until the FIFO is empty or the queue goes offline,
// then releases the Flush callers that were waiting when it began.
func (q *Queue) pass(ctx context.Context) {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for ctx.Err() == nil {
		item := q.pop()
		if item == nil {
			break
		}
		q.deliver(ctx, item)
	}

	for _, w := range waiters {
		close(w)
	}
}

// pop takes the FIFO head, or returns nil when offline or empty.
func (q *Queue) pop() *schema.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.online || len(q.fifo) == 0 {
		return nil
	}
	item := q.fifo[0]
	q.fifo[0] = nil
	q.fifo = q.fifo[1:]
	q.inflight = item
	return item
}

func (q *Queue) deliver(ctx context.Context, item *schema.QueueItem) {
	defer func() {
		q.mu.Lock()
		q.inflight = nil
		q.mu.Unlock()
	}()

	m, err := item.Mutation()
	if err != nil {
		q.logger.Printf("Error: dropping undecodable item %s: %v", item.ID, err)
		q.forget(ctx, item)
		q.emit(EventDropped, item, nil, err, 0)
		return
	}

	now := q.clock.Now()
	rec, err := q.write(ctx, item.UserID, m, now)
	if err == nil {
		q.confirm(ctx, item, m, rec, now)
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the item stays persisted with its attempts.
		return
	}

	item.Attempts++
	if item.Attempts < len(q.schedule) {
		delay := q.schedule[item.Attempts-1]
		if perr := q.store.UpdateQueueAttempts(ctx, item.ID, item.Attempts); perr != nil {
			q.logger.Printf("Warning: failed to persist attempts for %s: %v", item.ID, perr)
		}
		q.logger.Printf("Warning: %s %s failed (attempt %d), retrying in %s: %v",
			item.Action, m.RecordID(), item.Attempts, delay, err)
		q.arm(item, delay)
		q.emit(EventRetry, item, m, err, delay)
		return
	}

	q.logger.Printf("Error: %v: dropping %s %s after %d attempts: %v",
		ErrRetryBudgetExhausted, item.Action, m.RecordID(), item.Attempts, err)
	q.forget(ctx, item)
	q.emit(EventDropped, item, m, err, 0)
}

// write performs the remote write for m. For adds it returns the record as
// written, stamped with the owner and the write time.
func (q *Queue) write(ctx context.Context, uid string, m schema.Mutation, now time.Time) (schema.Record, error) {
	path := schema.DocPath(uid, m.Kind(), m.RecordID())

	if schema.IsDelete(m) {
		return nil, q.remote.Delete(ctx, path)
	}

	rec := schema.RecordOf(m)
	stamp(rec, uid, now)
	fields, err := schema.Fields(rec)
	if err != nil {
		return nil, err
	}
	return rec, q.remote.Upsert(ctx, path, fields, true)
}

func stamp(rec schema.Record, uid string, now time.Time) {
	ts := schema.Millis(now)
	switch r := rec.(type) {
	case *schema.Word:
		r.UserID, r.TS = uid, ts
	case *schema.Note:
		r.UserID, r.TS = uid, ts
	case *schema.ChatMessage:
		r.UserID, r.TS = uid, ts
		if r.Role == "" {
			r.Role = schema.RoleUser
		}
	}
}

// confirm finishes a delivered item: the durable row goes, the record is
// applied locally and the user's stats move.
func (q *Queue) confirm(ctx context.Context, item *schema.QueueItem, m schema.Mutation, rec schema.Record, now time.Time) {
	q.forget(ctx, item)

	op := schema.ChangeModified
	if rec != nil {
		if err := q.store.UpsertRecordContext(ctx, rec); err != nil {
			q.logger.Printf("Warning: failed to apply %s %s locally: %v", m.Kind(), m.RecordID(), err)
		}
	} else {
		op = schema.ChangeRemoved
		if err := q.store.DeleteRecordContext(ctx, m.Kind(), item.UserID, m.RecordID()); err != nil {
			q.logger.Printf("Warning: failed to delete %s %s locally: %v", m.Kind(), m.RecordID(), err)
		}
	}

	var words, notes int
	switch m.(type) {
	case schema.AddWord:
		words = 1
	case schema.AddNote:
		notes = 1
	}
	if err := q.store.BumpUserStats(ctx, item.UserID, words, notes, schema.Millis(now)); err != nil {
		q.logger.Printf("Warning: failed to update stats for %s: %v", item.UserID, err)
	}

	if err := q.publisher.Publish(notify.TopicDBSync, schema.Change{
		Kind:   m.Kind(),
		Op:     op,
		ID:     m.RecordID(),
		UserID: item.UserID,
	}); err != nil {
		q.logger.Printf("Warning: failed to publish change: %v", err)
	}
	q.emit(EventDelivered, item, m, nil, 0)
}

func (q *Queue) forget(ctx context.Context, item *schema.QueueItem) {
	if err := q.store.DeleteQueueItem(ctx, item.ID); err != nil {
		q.logger.Printf("Warning: failed to delete queue item %s: %v", item.ID, err)
	}
}

// arm schedules item to rejoin the FIFO tail after delay.
func (q *Queue) arm(item *schema.QueueItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.delayed[item.ID] = q.clock.AfterFunc(delay, func() {
		q.mu.Lock()
		if _, ok := q.delayed[item.ID]; !ok || q.closed {
			q.mu.Unlock()
			return
		}
		delete(q.delayed, item.ID)
		q.fifo = append(q.fifo, item)
		q.mu.Unlock()
		q.Drain()
	})
}
