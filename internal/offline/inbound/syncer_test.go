package inbound

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/db"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

var quiet = log.New(io.Discard, "", 0)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeRemote hands out subscriptions that tests drive by hand.
type fakeRemote struct {
	mu      sync.Mutex
	subs    []*fakeSub
	failFor string
}

type fakeSub struct {
	remote     *fakeRemote
	collection string
	onChanges  remote.BatchHandler
	onError    remote.ErrorHandler
	unsubs     int
}

func (f *fakeRemote) Upsert(context.Context, string, map[string]any, bool) error { return nil }
func (f *fakeRemote) Delete(context.Context, string) error                       { return nil }
func (f *fakeRemote) Ping(context.Context) error                                 { return nil }
func (f *fakeRemote) Close() error                                               { return nil }

func (f *fakeRemote) Subscribe(ctx context.Context, collection string, onChanges remote.BatchHandler, onError remote.ErrorHandler) (remote.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if collection == f.failFor {
		return nil, errors.New("permission denied")
	}
	sub := &fakeSub{remote: f, collection: collection, onChanges: onChanges, onError: onError}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (s *fakeSub) Unsubscribe() {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	s.unsubs++
}

func (f *fakeRemote) find(collection string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if s.collection == collection {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeRemote) unsubCounts() map[string][]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]int)
	for _, s := range f.subs {
		out[s.collection] = append(out[s.collection], s.unsubs)
	}
	return out
}

func loggedIn(uid string, seq uint64) *auth.State {
	return &auth.State{IsAuthenticated: true, UID: uid, Seq: seq}
}

func newSyncer(t *testing.T, store Store, rs remote.Store, pub notify.Publisher) *Syncer {
	t.Helper()
	s, err := New(Config{
		Store:     store,
		Remote:    rs,
		Publisher: pub,
		Now:       func() time.Time { return time.UnixMilli(1700000000000) },
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestLoginOpensOneStreamPerKind(t *testing.T) {
	fr := &fakeRemote{}
	s := newSyncer(t, setupTestDB(t), fr, nil)

	if err := s.HandleAuth(context.Background(), loggedIn("u1", 1)); err != nil {
		t.Fatalf("HandleAuth failed: %v", err)
	}
	if n := s.ActiveSubscriptions(); n != 3 {
		t.Fatalf("ActiveSubscriptions = %d, want 3", n)
	}
	for _, c := range []string{"users/u1/words", "users/u1/notes", "users/u1/chats"} {
		if len(fr.find(c)) != 1 {
			t.Errorf("expected one subscription on %s", c)
		}
	}
	if s.UID() != "u1" {
		t.Errorf("UID = %q", s.UID())
	}
}

func TestLoggedOutOpensNothing(t *testing.T) {
	fr := &fakeRemote{}
	s := newSyncer(t, setupTestDB(t), fr, nil)

	if err := s.HandleAuth(context.Background(), &auth.State{Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if s.ActiveSubscriptions() != 0 || len(fr.subs) != 0 {
		t.Errorf("subscriptions opened while logged out")
	}
}

func TestReloginTearsDownExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fr := &fakeRemote{}
	s := newSyncer(t, setupTestDB(t), fr, nil)

	if err := s.HandleAuth(ctx, loggedIn("u1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleAuth(ctx, &auth.State{Seq: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleAuth(ctx, loggedIn("u2", 3)); err != nil {
		t.Fatal(err)
	}

	counts := fr.unsubCounts()
	for _, c := range []string{"users/u1/words", "users/u1/notes", "users/u1/chats"} {
		if got := counts[c]; len(got) != 1 || got[0] != 1 {
			t.Errorf("%s unsubscribe counts = %v, want [1]", c, got)
		}
	}
	for _, c := range []string{"users/u2/words", "users/u2/notes", "users/u2/chats"} {
		if got := counts[c]; len(got) != 1 || got[0] != 0 {
			t.Errorf("%s unsubscribe counts = %v, want [0]", c, got)
		}
	}

	s.Stop()
	s.Stop()
	counts = fr.unsubCounts()
	for _, c := range []string{"users/u2/words", "users/u2/notes", "users/u2/chats"} {
		if got := counts[c]; got[0] != 1 {
			t.Errorf("%s unsubscribed %d times after Stop, want 1", c, got[0])
		}
	}
}

func TestApplyChanges(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	hub := notify.NewHub(64, quiet)
	events := hub.Subscribe(notify.TopicDBSync)
	defer events.Close()

	fr := &fakeRemote{}
	s := newSyncer(t, store, fr, hub)
	if err := s.HandleAuth(ctx, loggedIn("u1", 1)); err != nil {
		t.Fatal(err)
	}

	words := fr.find("users/u1/words")[0]
	added := remote.DocChange{ID: "w1", Kind: schema.ChangeAdded, Fields: map[string]any{
		"term": "hola", "definition": "hello", "userId": "someone-else", "id": "spoofed",
	}}

	// Duplicate added events converge on one row.
	words.onChanges([]remote.DocChange{added})
	words.onChanges([]remote.DocChange{added})

	if n, _ := store.CountRecords(ctx, schema.KindWord, "u1"); n != 1 {
		t.Fatalf("word rows = %d, want 1", n)
	}
	w, err := store.GetWord(ctx, "u1", "w1")
	if err != nil || w == nil {
		t.Fatalf("GetWord: %v", err)
	}
	if w.Term != "hola" || w.UserID != "u1" || w.TS != 1700000000000 {
		t.Errorf("word = %+v", w)
	}

	words.onChanges([]remote.DocChange{{ID: "w1", Kind: schema.ChangeModified, Fields: map[string]any{"term": "adios", "ts": float64(42)}}})
	w, _ = store.GetWord(ctx, "u1", "w1")
	if w.Term != "adios" || w.TS != 42 {
		t.Errorf("modified word = %+v", w)
	}

	// Removing a missing id is a no-op.
	words.onChanges([]remote.DocChange{{ID: "ghost", Kind: schema.ChangeRemoved}})
	words.onChanges([]remote.DocChange{{ID: "w1", Kind: schema.ChangeRemoved}})
	if w, _ := store.GetWord(ctx, "u1", "w1"); w != nil {
		t.Errorf("word not removed: %+v", w)
	}

	chats := fr.find("users/u1/chats")[0]
	chats.onChanges([]remote.DocChange{{ID: "c1", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "hi"}}})
	c, err := store.GetChat(ctx, "u1", "c1")
	if err != nil || c == nil {
		t.Fatalf("GetChat: %v", err)
	}
	if c.Role != schema.RoleUser {
		t.Errorf("chat role = %q, want %q", c.Role, schema.RoleUser)
	}

	// Remote data wins even when it would not pass local create rules.
	long := strings.Repeat("x", 600)
	words.onChanges([]remote.DocChange{
		{ID: "noterm", Kind: schema.ChangeAdded, Fields: map[string]any{"definition": "d"}},
		{ID: "long", Kind: schema.ChangeAdded, Fields: map[string]any{"term": long}},
	})
	if w, _ := store.GetWord(ctx, "u1", "noterm"); w == nil || w.Term != "" || w.Definition != "d" {
		t.Errorf("word without term = %+v, want stored with empty term", w)
	}
	if w, _ := store.GetWord(ctx, "u1", "long"); w == nil || w.Term != long {
		t.Errorf("word with long term not stored as sent: %+v", w)
	}
	if n, _ := store.CountRecords(ctx, schema.KindWord, "u1"); n != 2 {
		t.Errorf("word rows = %d, want 2", n)
	}

	var got []schema.Change
	for len(events.C) > 0 {
		msg := <-events.C
		var ch schema.Change
		if err := msg.Decode(&ch); err != nil {
			t.Fatal(err)
		}
		got = append(got, ch)
	}
	if len(got) != 8 {
		t.Fatalf("published %d db-sync events, want 8: %+v", len(got), got)
	}
	if got[0].Kind != schema.KindWord || got[0].Op != schema.ChangeAdded || got[0].ID != "w1" {
		t.Errorf("first event = %+v", got[0])
	}
}

func TestStaleGenerationDiscarded(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	fr := &fakeRemote{}
	s := newSyncer(t, store, fr, nil)

	if err := s.HandleAuth(ctx, loggedIn("u1", 1)); err != nil {
		t.Fatal(err)
	}
	old := fr.find("users/u1/notes")[0]

	if err := s.HandleAuth(ctx, loggedIn("u2", 2)); err != nil {
		t.Fatal(err)
	}

	// A late batch from the torn-down stream.
	old.onChanges([]remote.DocChange{{ID: "n1", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "late"}}})
	if n, _ := store.CountRecords(ctx, schema.KindNote, "u1"); n != 0 {
		t.Errorf("stale event applied: %d notes", n)
	}

	current := fr.find("users/u2/notes")[0]
	current.onChanges([]remote.DocChange{{ID: "n2", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "fresh"}}})
	if n, _ := store.CountRecords(ctx, schema.KindNote, "u2"); n != 1 {
		t.Errorf("current event not applied")
	}
}

// gatedStore blocks the first upsert until release is closed.
type gatedStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) UpsertRecordContext(ctx context.Context, rec schema.Record) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Store.UpsertRecordContext(ctx, rec)
}

func TestTeardownWaitsForInflightApply(t *testing.T) {
	ctx := context.Background()
	local := setupTestDB(t)
	store := &gatedStore{Store: local, entered: make(chan struct{}), release: make(chan struct{})}
	fr := &fakeRemote{}
	s := newSyncer(t, store, fr, nil)

	if err := s.HandleAuth(ctx, loggedIn("u1", 1)); err != nil {
		t.Fatal(err)
	}
	notes := fr.find("users/u1/notes")[0]

	go notes.onChanges([]remote.DocChange{
		{ID: "n1", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "in flight"}},
		{ID: "n2", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "same batch"}},
	})
	<-store.entered

	done := make(chan struct{})
	go func() {
		_ = s.HandleAuth(ctx, &auth.State{Seq: 2})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("logout finished while a write for the old user was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("logout never finished")
	}

	// The batch that started before logout completes as a unit; nothing from
	// the old stream lands afterwards.
	if n, _ := local.CountRecords(ctx, schema.KindNote, "u1"); n != 2 {
		t.Fatalf("notes after logout = %d, want 2", n)
	}
	notes.onChanges([]remote.DocChange{{ID: "n3", Kind: schema.ChangeAdded, Fields: map[string]any{"content": "late"}}})
	if n, _ := local.CountRecords(ctx, schema.KindNote, "u1"); n != 2 {
		t.Errorf("late event applied after logout: %d notes", n)
	}
}

func TestSubscribeFailure(t *testing.T) {
	fr := &fakeRemote{failFor: "users/u1/chats"}
	s := newSyncer(t, setupTestDB(t), fr, nil)

	err := s.HandleAuth(context.Background(), loggedIn("u1", 1))
	if !IsSubscriptionError(err) {
		t.Fatalf("expected ErrSubscription, got %v", err)
	}
	if n := s.ActiveSubscriptions(); n != 2 {
		t.Errorf("ActiveSubscriptions = %d, want 2", n)
	}
}

func TestRunWithMemoryRemote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := setupTestDB(t)
	mem := remote.NewMemory()
	defer mem.Close()
	if err := mem.Upsert(ctx, "users/u1/words/w1", map[string]any{"term": "uno"}, true); err != nil {
		t.Fatal(err)
	}

	hub := notify.NewHub(64, quiet)
	events := hub.Subscribe(notify.TopicDBSync)
	defer events.Close()

	s := newSyncer(t, store, mem, hub)
	states := make(chan *auth.State, 4)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, states) }()

	states <- loggedIn("u1", 1)

	waitEvent := func() schema.Change {
		t.Helper()
		select {
		case msg := <-events.C:
			var ch schema.Change
			if err := msg.Decode(&ch); err != nil {
				t.Fatal(err)
			}
			return ch
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for db-sync event")
			return schema.Change{}
		}
	}

	if ch := waitEvent(); ch.ID != "w1" {
		t.Fatalf("snapshot event = %+v", ch)
	}
	if err := mem.Upsert(ctx, "users/u1/notes/n1", map[string]any{"content": "dos"}, true); err != nil {
		t.Fatal(err)
	}
	if ch := waitEvent(); ch.ID != "n1" || ch.Kind != schema.KindNote {
		t.Fatalf("live event = %+v", ch)
	}

	states <- &auth.State{Seq: 2}
	deadline := time.Now().Add(5 * time.Second)
	for mem.WatchCount("users/u1/words") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriptions not torn down after logout")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
