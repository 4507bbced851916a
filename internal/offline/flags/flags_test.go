package flags

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), DefaultFilename))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestStore_SetGet(t *testing.T) {
	s := setupTestStore(t)

	if s.Exists() {
		t.Error("Exists() = true before first write")
	}

	var got sample
	ok, err := s.Get("missing", &got)
	if err != nil || ok {
		t.Fatalf("Get(missing) = (%v, %v), want (false, nil)", ok, err)
	}

	if err := s.Set("a", sample{Name: "x", Count: 1}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("b", sample{Name: "y", Count: 2}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !s.Exists() {
		t.Error("Exists() = false after write")
	}

	ok, err = s.Get("a", &got)
	if err != nil || !ok {
		t.Fatalf("Get(a) = (%v, %v)", ok, err)
	}
	if got != (sample{Name: "x", Count: 1}) {
		t.Errorf("Get(a) = %+v", got)
	}

	// Another Store on the same file sees the same values.
	other, err := Open(s.Path())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ok, err = other.Get("b", &got)
	if err != nil || !ok || got.Count != 2 {
		t.Errorf("other.Get(b) = (%+v, %v, %v)", got, ok, err)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := s.Get("a", &got); ok {
		t.Error("key a still present after Delete")
	}
	if err := s.Delete("a"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	s := setupTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Set("k", i); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want only %s", names, DefaultFilename)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := setupTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	var v sample
	if _, err := s.Get("a", &v); err == nil {
		t.Error("Get on corrupt file succeeded")
	}
}

func TestWatcher_EmitsChanges(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Set(KeyAuthState, sample{Name: "initial"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	w, err := s.NewWatcher(KeyAuthState)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start succeeded")
	}

	// A write to another key is not reported.
	if err := s.Set(KeyUserSettings, sample{Name: "settings"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(KeyAuthState, sample{Name: "next", Count: 7}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case raw := <-w.Events():
		var got sample
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if got.Name != "next" || got.Count != 7 {
			t.Errorf("event = %+v, want next/7", got)
		}
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for flag change")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}
