package notify

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type changePayload struct {
	Kind string `json:"entityKind"`
	ID   string `json:"id"`
}

func TestHub_TopicFilter(t *testing.T) {
	hub := NewHub(10, quietLogger())

	auth := hub.Subscribe(TopicAuth)
	defer auth.Close()
	all := hub.Subscribe()
	defer all.Close()

	if err := hub.Publish(TopicDBSync, changePayload{Kind: "word", ID: "w1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := hub.Publish(TopicAuth, map[string]bool{"isAuthenticated": true}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(auth.C) != 1 {
		t.Errorf("auth subscriber got %d messages, want 1", len(auth.C))
	}
	if len(all.C) != 2 {
		t.Errorf("unfiltered subscriber got %d messages, want 2", len(all.C))
	}

	msg := <-all.C
	var got changePayload
	if err := msg.Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != "w1" || msg.Timestamp.IsZero() {
		t.Errorf("message = %+v, payload = %+v", msg, got)
	}
}

func TestHub_FullSubscriberDrops(t *testing.T) {
	hub := NewHub(2, quietLogger())
	sub := hub.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		_ = hub.Publish(TopicQueue, i)
	}
	if len(sub.C) != 2 {
		t.Errorf("buffered = %d, want 2", len(sub.C))
	}
}

func TestHub_CloseIdempotent(t *testing.T) {
	hub := NewHub(1, quietLogger())
	sub := hub.Subscribe()
	sub.Close()
	sub.Close()

	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", hub.SubscriberCount())
	}
	// Publishing after close must not panic.
	_ = hub.Publish(TopicAuth, nil)
}

// setupServer starts a notifier server behind httptest.
func setupServer(t *testing.T) (*Hub, *Server, string) {
	t.Helper()
	hub := NewHub(10, quietLogger())
	srv := NewServer(hub, quietLogger())
	srv.Start()

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return hub, srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func startClient(t *testing.T, ctx context.Context, url string, onAttach func()) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		URL:            url,
		ReconnectDelay: 50 * time.Millisecond,
		OnAttach:       onAttach,
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	go c.Run(ctx)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestServer_CrossProcessFanOut(t *testing.T) {
	hub, srv, url := setupServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attached := make(chan struct{}, 4)
	a := startClient(t, ctx, url, func() { attached <- struct{}{} })
	b := startClient(t, ctx, url, nil)

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("OnAttach not called")
	}
	waitFor(t, "two clients", func() bool { return srv.ClientCount() == 2 })

	aSub := a.Subscribe(TopicDBSync)
	defer aSub.Close()
	bSub := b.Subscribe(TopicDBSync)
	defer bSub.Close()
	local := hub.Subscribe(TopicDBSync)
	defer local.Close()

	// Background publish reaches every UI process.
	if err := hub.Publish(TopicDBSync, changePayload{ID: "from-hub"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for _, sub := range []*Subscription{aSub, bSub} {
		var got changePayload
		if err := receive(t, sub).Decode(&got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.ID != "from-hub" {
			t.Errorf("got %q, want from-hub", got.ID)
		}
	}
	receive(t, local)

	// A UI publish reaches the background process and the other UI process,
	// and reaches its own process exactly once (locally, no echo).
	if err := a.Publish(TopicDBSync, changePayload{ID: "from-a"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var got changePayload
	msg := receive(t, bSub)
	if err := msg.Decode(&got); err != nil || got.ID != "from-a" {
		t.Errorf("b got %+v (%v), want from-a", got, err)
	}
	if msg.Origin != a.ID() {
		t.Errorf("Origin = %q, want %q", msg.Origin, a.ID())
	}
	if err := receive(t, local).Decode(&got); err != nil || got.ID != "from-a" {
		t.Errorf("background got %+v (%v), want from-a", got, err)
	}
	if err := receive(t, aSub).Decode(&got); err != nil || got.ID != "from-a" {
		t.Errorf("a local delivery %+v (%v), want from-a", got, err)
	}

	select {
	case extra := <-aSub.C:
		t.Errorf("a received its own message back: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServer_IgnoresClientAuth(t *testing.T) {
	hub, srv, url := setupServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startClient(t, ctx, url, nil)
	b := startClient(t, ctx, url, nil)
	waitFor(t, "two clients", func() bool { return srv.ClientCount() == 2 && a.Connected() && b.Connected() })

	local := hub.Subscribe(TopicAuth, TopicDBSync)
	defer local.Close()
	bSub := b.Subscribe(TopicAuth, TopicDBSync)
	defer bSub.Close()

	if err := a.Publish(TopicAuth, map[string]any{"isAuthenticated": true, "uid": "forged", "seq": 999}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// A later message on another topic proves the auth one was read and
	// dropped rather than still in flight.
	if err := a.Publish(TopicDBSync, changePayload{ID: "after"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for name, sub := range map[string]*Subscription{"background": local, "other client": bSub} {
		if msg := receive(t, sub); msg.Topic != TopicDBSync {
			t.Errorf("%s received %s message from a client, want it dropped", name, msg.Topic)
		}
	}

	// Background auth broadcasts still reach clients.
	if err := hub.Publish(TopicAuth, map[string]any{"seq": 1}); err != nil {
		t.Fatal(err)
	}
	if msg := receive(t, bSub); msg.Topic != TopicAuth {
		t.Errorf("client got %s, want auth broadcast", msg.Topic)
	}
}

func TestClient_ReconnectCallsOnAttach(t *testing.T) {
	hub := NewHub(10, quietLogger())
	srv := NewServer(hub, quietLogger())
	srv.Start()

	var mu sync.Mutex
	current := srv
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		s := current
		mu.Unlock()
		s.ServeHTTP(w, r)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attached := make(chan struct{}, 4)
	c := startClient(t, ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), func() { attached <- struct{}{} })

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("first attach not observed")
	}

	// Swap in a fresh server, then drop every connection on the old one.
	srv2 := NewServer(hub, quietLogger())
	srv2.Start()
	defer srv2.Stop()
	mu.Lock()
	current = srv2
	mu.Unlock()
	srv.Stop()

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("reattach not observed")
	}
	waitFor(t, "client reconnected", func() bool { return c.Connected() && srv2.ClientCount() == 1 })
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("NewClient without URL succeeded")
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.Publish(TopicAuth, struct{}{}); err != nil {
		t.Errorf("Discard.Publish = %v", err)
	}
}
