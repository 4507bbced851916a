package remote

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// recorder collects change batches from a subscription
type recorder struct {
	mu      sync.Mutex
	changes []DocChange
	errs    []error
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) onChanges(changes []DocChange) {
	r.mu.Lock()
	r.changes = append(r.changes, changes...)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []DocChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DocChange(nil), r.changes...)
}

// waitFor blocks until at least n changes arrived.
func (r *recorder) waitFor(t *testing.T, n int) []DocChange {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d changes, have %d", n, len(r.snapshot()))
		}
	}
}

func TestSplitDocPath(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{"users/u1/words/w1", "users/u1/words", "w1", false},
		{"/users/u1/words/w1/", "users/u1/words", "w1", false},
		{"users/u1/words", "", "", true},
		{"users//words/w1", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := SplitDocPath(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("expected ErrInvalidPath, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitDocPath failed: %v", err)
			}
			if collection != tt.collection || id != tt.id {
				t.Errorf("got (%q, %q), want (%q, %q)", collection, id, tt.collection, tt.id)
			}
		})
	}
}

func TestOpenRegistry(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, "memory://", Options{})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*Memory); !ok {
		t.Errorf("expected *Memory, got %T", store)
	}

	if _, err := Open(ctx, "carrier-pigeon://coop", Options{}); !errors.Is(err, ErrUnknownScheme) {
		t.Errorf("expected ErrUnknownScheme, got %v", err)
	}

	schemes := Schemes()
	for _, want := range []string{"http", "https", "memory", "postgres"} {
		found := false
		for _, s := range schemes {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Errorf("scheme %q not registered: %v", want, schemes)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate Register")
		}
	}()
	Register("memory", func(ctx context.Context, dsn string, opts Options) (Store, error) { return nil, nil })
}

func TestMemoryMerge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	path := "users/u1/words/w1"
	if err := m.Upsert(ctx, path, map[string]any{"term": "hola", "definition": "hello"}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := m.Upsert(ctx, path, map[string]any{"term": "adios"}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	doc, ok := m.Get(path)
	if !ok {
		t.Fatal("document missing")
	}
	if doc["term"] != "adios" || doc["definition"] != "hello" {
		t.Errorf("merge lost fields: %v", doc)
	}

	if err := m.Upsert(ctx, path, map[string]any{"term": "x"}, false); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	doc, _ = m.Get(path)
	if _, has := doc["definition"]; has {
		t.Errorf("replace kept old field: %v", doc)
	}
}

func TestMemoryDeleteMissing(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	if err := m.Delete(context.Background(), "users/u1/notes/nope"); err != nil {
		t.Errorf("deleting a missing document should succeed, got %v", err)
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	if err := m.Upsert(ctx, "users/u1/words/b", map[string]any{"term": "b"}, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, "users/u1/words/a", map[string]any{"term": "a"}, true); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	sub, err := m.Subscribe(ctx, "users/u1/words", rec.onChanges, rec.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	got := rec.waitFor(t, 2)
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("snapshot order = %s, %s", got[0].ID, got[1].ID)
	}
	for _, c := range got {
		if c.Kind != schema.ChangeAdded {
			t.Errorf("snapshot change %s kind = %s, want added", c.ID, c.Kind)
		}
	}

	if err := m.Upsert(ctx, "users/u1/words/a", map[string]any{"definition": "first"}, true); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "users/u1/words/b"); err != nil {
		t.Fatal(err)
	}
	// Other users' collections are not delivered.
	if err := m.Upsert(ctx, "users/u2/words/z", map[string]any{"term": "z"}, true); err != nil {
		t.Fatal(err)
	}

	got = rec.waitFor(t, 4)
	if got[2].ID != "a" || got[2].Kind != schema.ChangeModified || got[2].Fields["term"] != "a" {
		t.Errorf("unexpected modify event: %+v", got[2])
	}
	if got[3].ID != "b" || got[3].Kind != schema.ChangeRemoved {
		t.Errorf("unexpected remove event: %+v", got[3])
	}

	sub.Unsubscribe()
	if n := m.WatchCount("users/u1/words"); n != 0 {
		t.Errorf("WatchCount after Unsubscribe = %d", n)
	}

	if err := m.Upsert(ctx, "users/u1/words/c", map[string]any{"term": "c"}, true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 4 {
		t.Errorf("received %d changes after Unsubscribe, want 4", n)
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	m.FailWrites(2)
	for i := 0; i < 2; i++ {
		if err := m.Upsert(ctx, "users/u1/notes/n1", map[string]any{"content": "x"}, true); !IsTransient(err) {
			t.Fatalf("write %d: expected transient error, got %v", i, err)
		}
	}
	if err := m.Upsert(ctx, "users/u1/notes/n1", map[string]any{"content": "x"}, true); err != nil {
		t.Fatalf("third write should succeed: %v", err)
	}
	if m.WriteCount() != 1 {
		t.Errorf("WriteCount = %d, want 1", m.WriteCount())
	}

	m.SetOnline(false)
	if err := m.Ping(ctx); !IsTransient(err) {
		t.Errorf("Ping offline: expected transient, got %v", err)
	}
	if err := m.Delete(ctx, "users/u1/notes/n1"); !IsTransient(err) {
		t.Errorf("Delete offline: expected transient, got %v", err)
	}
	m.SetOnline(true)

	boom := errors.New("boom")
	m.SetWriteHook(func(op WriteOp, path string) error {
		if op == OpDelete {
			return boom
		}
		return nil
	})
	if err := m.Delete(ctx, "users/u1/notes/n1"); !errors.Is(err, boom) {
		t.Errorf("expected hook error, got %v", err)
	}
	if _, ok := m.Get("users/u1/notes/n1"); !ok {
		t.Error("failed delete removed the document")
	}
}

func TestHTTPClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	backing := NewMemory()
	defer backing.Close()

	srv, err := NewServer(backing, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := Open(ctx, ts.URL, Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open http failed: %v", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	if err := client.Upsert(ctx, "users/u1/words/w1", map[string]any{"term": "hola"}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if doc, ok := backing.Get("users/u1/words/w1"); !ok || doc["term"] != "hola" {
		t.Fatalf("server did not store document: %v", doc)
	}

	rec := newRecorder()
	sub, err := client.Subscribe(ctx, "users/u1/words", rec.onChanges, rec.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	got := rec.waitFor(t, 1)
	if got[0].ID != "w1" || got[0].Kind != schema.ChangeAdded {
		t.Errorf("unexpected snapshot: %+v", got[0])
	}

	if err := client.Delete(ctx, "users/u1/words/w1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got = rec.waitFor(t, 2)
	if got[1].ID != "w1" || got[1].Kind != schema.ChangeRemoved {
		t.Errorf("unexpected delete event: %+v", got[1])
	}

	if err := client.Upsert(ctx, "users/u1/words", map[string]any{}, true); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestSubscribeEndsWithContext(t *testing.T) {
	backing := NewMemory()
	defer backing.Close()

	srv, err := NewServer(backing, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := Open(context.Background(), ts.URL, Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open http failed: %v", err)
	}
	defer client.Close()

	tests := []struct {
		name    string
		store   Store
		watches func() int
	}{
		{"memory", backing, func() int { return backing.WatchCount("users/u1/notes") }},
		{"http", client, srv.WatchCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			rec := newRecorder()
			sub, err := tt.store.Subscribe(ctx, "users/u1/notes", rec.onChanges, rec.onError)
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			defer sub.Unsubscribe()

			waitUntil(t, "watch open", func() bool { return tt.watches() == 1 })
			cancel()
			waitUntil(t, "watch closed", func() bool { return tt.watches() == 0 })

			// Unsubscribe after the context ended is a no-op.
			sub.Unsubscribe()
		})
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHTTPClientTransient(t *testing.T) {
	ctx := context.Background()
	backing := NewMemory()
	defer backing.Close()

	srv, _ := NewServer(backing, nil)
	ts := httptest.NewServer(srv.Handler())

	client, err := NewHTTPClient(ts.URL, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	backing.FailWrites(1)
	if err := client.Upsert(ctx, "users/u1/notes/n1", map[string]any{"content": "x"}, true); !IsTransient(err) {
		t.Errorf("expected transient for 503, got %v", err)
	}

	ts.Close()
	if err := client.Ping(ctx); !IsTransient(err) {
		t.Errorf("expected transient for closed server, got %v", err)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("LEARNFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEARNFLOW_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn, Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open postgres failed: %v", err)
	}
	defer store.Close()

	collection := "users/pgtest-" + time.Now().Format("150405.000000") + "/words"
	path := collection + "/w1"

	rec := newRecorder()
	sub, err := store.Subscribe(ctx, collection, rec.onChanges, rec.onError)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := store.Upsert(ctx, path, map[string]any{"term": "hola", "definition": "hello"}, true); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	rec.waitFor(t, 1)
	if err := store.Upsert(ctx, path, map[string]any{"term": "adios"}, true); err != nil {
		t.Fatalf("merge Upsert failed: %v", err)
	}
	rec.waitFor(t, 2)
	if err := store.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got := rec.waitFor(t, 3)
	if got[0].Kind != schema.ChangeAdded || got[1].Kind != schema.ChangeModified || got[2].Kind != schema.ChangeRemoved {
		t.Errorf("unexpected change kinds: %s %s %s", got[0].Kind, got[1].Kind, got[2].Kind)
	}
	if got[1].Fields["definition"] != "hello" {
		t.Errorf("merge lost definition: %v", got[1].Fields)
	}
}
