package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/ipc"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

var quiet = log.New(io.Discard, "", 0)

func testConfig(t *testing.T, dataDir string, mem *remote.Memory) *Config {
	t.Helper()
	config := DefaultConfig()
	config.DataDir = dataDir
	config.Listen = "tcp://127.0.0.1:0"
	config.Remote = mem
	config.RetrySchedule = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	config.ProbeInterval = 20 * time.Millisecond
	config.WatchDebounce = 10 * time.Millisecond
	config.Logger = quiet
	return config
}

// startDaemon runs a daemon until the test ends and returns a client for it.
func startDaemon(t *testing.T, config *Config) (*Daemon, *ipc.Client) {
	t.Helper()

	d, err := NewWithConfig(config)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(context.Background()) }()

	select {
	case <-d.Ready():
	case err := <-errCh:
		t.Fatalf("Start failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}
	t.Cleanup(func() { _ = d.Stop() })

	client, err := ipc.NewClient(d.ListenURL(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return d, client
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewWithConfigValidation(t *testing.T) {
	if _, err := NewWithConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(""); err == nil {
		t.Error("expected error for empty data dir")
	}

	config := DefaultConfig()
	config.DataDir = t.TempDir()
	config.Listen = "http://nope"
	if _, err := NewWithConfig(config); err == nil {
		t.Error("expected error for bad listen address")
	}

	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !strings.HasPrefix(d.config.Listen, "unix://") || !strings.HasSuffix(d.config.Listen, SocketFilename) {
		t.Errorf("default listen = %q", d.config.Listen)
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
		legacy   bool
		wantErr  bool
	}{
		{"canonical", `{"type":"QUEUE_STATUS"}`, "QUEUE_STATUS", false, false},
		{"with payload", `{"type":"ENQUEUE","payload":{"action":"ADD_WORD"}}`, "ENQUEUE", false, false},
		{"legacy", `{"action":"ADD_WORD","word":{"term":"x"}}`, "", true, true},
		{"missing type", `{"payload":{}}`, "", false, true},
		{"empty type", `{"type":""}`, "", false, true},
		{"not json", `nope`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeRequest([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeRequest error = %v, wantErr %v", err, tt.wantErr)
			}
			if IsLegacyMessage(err) != tt.legacy {
				t.Errorf("IsLegacyMessage = %v, want %v", IsLegacyMessage(err), tt.legacy)
			}
			if err == nil && req.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", req.Type, tt.wantType)
			}
		})
	}
}

func TestHandleDuplicatePanics(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate handler")
		}
	}()
	d.Handle(ipc.TypeFlushQueue, func(context.Context, json.RawMessage) (*ipc.Response, error) { return nil, nil })
}

func TestMessageSurface(t *testing.T) {
	mem := remote.NewMemory()
	d, client := startDaemon(t, testConfig(t, t.TempDir(), mem))
	ctx := context.Background()

	// Logged out: reads are empty, writes refused.
	cache, err := client.Sync(ctx)
	if err != nil {
		t.Fatalf("SYNC_REQ failed: %v", err)
	}
	if len(cache.Words)+len(cache.Notes)+len(cache.Chats) != 0 {
		t.Errorf("logged-out cache not empty: %+v", cache)
	}
	if _, err := client.Enqueue(ctx, schema.AddWord{Word: schema.Word{Term: "hola"}}); !errors.Is(err, ipc.ErrRequestFailed) {
		t.Errorf("expected enqueue to fail while logged out, got %v", err)
	}

	state, err := client.SignIn(ctx, auth.Identity{UID: "u1", Email: "u1@example.com"})
	if err != nil {
		t.Fatalf("SIGN_IN failed: %v", err)
	}
	if !state.IsAuthenticated || state.UID != "u1" || state.Seq != 1 {
		t.Errorf("unexpected auth state: %+v", state)
	}
	eventually(t, "inbound subscriptions", func() bool {
		return d.Syncer().ActiveSubscriptions() == len(schema.Kinds)
	})

	resp, err := client.Enqueue(ctx, schema.AddWord{Word: schema.Word{Term: "hola", Definition: "hello"}})
	if err != nil {
		t.Fatalf("ENQUEUE failed: %v", err)
	}
	if resp.ID == "" || resp.RecordID == "" {
		t.Fatalf("ENQUEUE reply missing ids: %+v", resp)
	}

	if err := client.Flush(ctx); err != nil {
		t.Fatalf("FLUSH_QUEUE failed: %v", err)
	}
	if _, ok := mem.Get(schema.DocPath("u1", schema.KindWord, resp.RecordID)); !ok {
		t.Error("word not written to remote after flush")
	}

	cache, err = client.Sync(ctx)
	if err != nil {
		t.Fatalf("SYNC_REQ failed: %v", err)
	}
	if len(cache.Words) != 1 || cache.Words[0].Term != "hola" || cache.Words[0].UserID != "u1" {
		t.Errorf("unexpected cache words: %+v", cache.Words)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("GET_STATS failed: %v", err)
	}
	if stats.WordsLearned != 1 {
		t.Errorf("WordsLearned = %d, want 1", stats.WordsLearned)
	}

	qs, err := client.QueueStatus(ctx)
	if err != nil {
		t.Fatalf("QUEUE_STATUS failed: %v", err)
	}
	if qs.Pending != 0 || !qs.Online {
		t.Errorf("unexpected queue stats: %+v", qs)
	}

	// Direct action types are accepted without the ENQUEUE envelope.
	resp, err = client.Send(ctx, string(schema.ActionAddNote), schema.Note{Content: "remember"})
	if err != nil {
		t.Fatalf("ADD_NOTE failed: %v", err)
	}
	if resp.RecordID == "" {
		t.Error("ADD_NOTE without id was not assigned one")
	}

	resp, err = client.Send(ctx, "TRANSLATE", nil)
	if err == nil || resp.Error != ErrUnhandledMessage.Error() {
		t.Errorf("unknown type: resp=%+v err=%v", resp, err)
	}

	resp, err = client.SendRaw(ctx, []byte(`{"action":"ADD_WORD","payload":{"term":"x"}}`))
	if err == nil || !strings.Contains(resp.Error, "deprecated") {
		t.Errorf("legacy body: resp=%+v err=%v", resp, err)
	}

	settings, err := client.Settings(ctx)
	if err != nil {
		t.Fatalf("GET_USER_SETTINGS failed: %v", err)
	}
	if settings.TargetLanguage != "en" {
		t.Errorf("default targetLanguage = %q, want en", settings.TargetLanguage)
	}
	if _, err := client.SaveSettings(ctx, schema.UserSettings{TargetLanguage: "fr"}); err != nil {
		t.Fatalf("SAVE_USER_SETTINGS failed: %v", err)
	}
	settings, _ = client.Settings(ctx)
	if settings.TargetLanguage != "fr" {
		t.Errorf("saved targetLanguage = %q, want fr", settings.TargetLanguage)
	}
	if _, err := client.SaveSettings(ctx, schema.UserSettings{}); err == nil {
		t.Error("expected empty targetLanguage to be rejected")
	}

	state, err = client.SignOut(ctx)
	if err != nil {
		t.Fatalf("SIGN_OUT failed: %v", err)
	}
	if state.IsAuthenticated || state.Seq != 2 {
		t.Errorf("unexpected state after sign out: %+v", state)
	}
	eventually(t, "subscription teardown", func() bool {
		return d.Syncer().ActiveSubscriptions() == 0
	})
	cache, _ = client.Sync(ctx)
	if len(cache.Words) != 0 {
		t.Errorf("cache after sign out should be empty, got %d words", len(cache.Words))
	}
	if _, err := client.Stats(ctx); err == nil {
		t.Error("GET_STATS should fail while logged out")
	}
}

func TestOfflineQueueDrainsOnReconnect(t *testing.T) {
	mem := remote.NewMemory()
	_, client := startDaemon(t, testConfig(t, t.TempDir(), mem))
	ctx := context.Background()

	if _, err := client.SignIn(ctx, auth.Identity{UID: "u1"}); err != nil {
		t.Fatalf("SIGN_IN failed: %v", err)
	}

	mem.SetOnline(false)
	eventually(t, "queue offline", func() bool {
		qs, err := client.QueueStatus(ctx)
		return err == nil && !qs.Online
	})

	resp, err := client.Enqueue(ctx, schema.AddWord{Word: schema.Word{ID: "w1", Term: "gato"}})
	if err != nil {
		t.Fatalf("ENQUEUE failed: %v", err)
	}
	if resp.RecordID != "w1" {
		t.Errorf("RecordID = %q, want w1", resp.RecordID)
	}
	if err := client.Flush(ctx); err != nil {
		t.Fatalf("FLUSH_QUEUE while offline failed: %v", err)
	}
	qs, _ := client.QueueStatus(ctx)
	if qs.Pending != 1 {
		t.Errorf("Pending while offline = %d, want 1", qs.Pending)
	}
	if _, ok := mem.Get(schema.DocPath("u1", schema.KindWord, "w1")); ok {
		t.Fatal("write reached remote while offline")
	}

	mem.SetOnline(true)
	eventually(t, "queue drained", func() bool {
		_, ok := mem.Get(schema.DocPath("u1", schema.KindWord, "w1"))
		qs, err := client.QueueStatus(ctx)
		return ok && err == nil && qs.Pending == 0 && qs.Delayed == 0
	})
}

func TestLoginSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d, client := startDaemon(t, testConfig(t, dir, remote.NewMemory()))
	if _, err := client.SignIn(ctx, auth.Identity{UID: "u1", DisplayName: "Uno"}); err != nil {
		t.Fatalf("SIGN_IN failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	_, client = startDaemon(t, testConfig(t, dir, remote.NewMemory()))
	state, err := client.AuthState(ctx)
	if err != nil {
		t.Fatalf("GET_AUTH_STATE failed: %v", err)
	}
	if !state.IsAuthenticated || state.UID != "u1" || state.DisplayName != "Uno" || state.Seq != 1 {
		t.Errorf("state after restart = %+v", state)
	}
}

func TestSingleInstance(t *testing.T) {
	dir := t.TempDir()
	startDaemon(t, testConfig(t, dir, remote.NewMemory()))

	second, err := NewWithConfig(testConfig(t, dir, remote.NewMemory()))
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	err = second.Start(context.Background())
	if !IsAlreadyRunning(err) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestNotifierCrossProcess(t *testing.T) {
	mem := remote.NewMemory()
	d, client := startDaemon(t, testConfig(t, t.TempDir(), mem))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attached := make(chan struct{}, 4)
	nc, err := notify.NewClient(notify.ClientConfig{
		URL:        client.NotifierURL(),
		HTTPClient: client.HTTPClient(),
		OnAttach:   func() { attached <- struct{}{} },
		Buffer:     32,
		Logger:     quiet,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	sub := nc.Subscribe(notify.TopicAuth)
	defer sub.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = nc.Run(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier client did not attach")
	}
	eventually(t, "server-side registration", func() bool {
		return d.notifier.ClientCount() == 1
	})

	if _, err := client.SignIn(context.Background(), auth.Identity{UID: "u9"}); err != nil {
		t.Fatalf("SIGN_IN failed: %v", err)
	}

	select {
	case msg := <-sub.C:
		var st auth.State
		if err := msg.Decode(&st); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if st.UID != "u9" || !st.IsAuthenticated {
			t.Errorf("unexpected auth notification: %+v", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("auth notification not delivered across processes")
	}
}

type flakyPinger struct {
	mu   sync.Mutex
	errs []error
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func TestMonitorReportsEdges(t *testing.T) {
	down := errors.New("down")
	p := &flakyPinger{errs: []error{nil, nil, down, down, nil}}

	var edges []bool
	m := NewMonitor(p, time.Second, func(online bool) { edges = append(edges, online) }, quiet)

	ctx := context.Background()
	want := []bool{true, true, false, false, true}
	for i, w := range want {
		if got := m.Probe(ctx); got != w {
			t.Errorf("probe %d = %v, want %v", i, got, w)
		}
	}

	wantEdges := []bool{true, false, true}
	if len(edges) != len(wantEdges) {
		t.Fatalf("edges = %v, want %v", edges, wantEdges)
	}
	for i := range wantEdges {
		if edges[i] != wantEdges[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], wantEdges[i])
		}
	}
}
