package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := Defaults(dir)
	if !reflect.DeepEqual(s, want) {
		t.Errorf("Load() = %+v\nwant %+v", s, want)
	}
	if s.DB != filepath.Join(dir, "learnflow.db") {
		t.Errorf("DB = %q", s.DB)
	}
	if !strings.HasPrefix(s.Listen, "unix://") {
		t.Errorf("Listen = %q", s.Listen)
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed = %q, want empty", ConfigFileUsed())
	}
}

func TestConfigFileFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "config.yaml", "remote:\n  dsn: http://docs.local:8787\n  timeout: 3s\nqueue:\n  retry-schedule: [1s, 2s]\nnotify:\n  buffer: 7\n"},
		{"toml", "config.toml", "[remote]\ndsn = \"http://docs.local:8787\"\ntimeout = \"3s\"\n\n[queue]\nretry-schedule = [\"1s\", \"2s\"]\n\n[notify]\nbuffer = 7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.body), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := Initialize(dir, ""); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			s, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if s.RemoteDSN != "http://docs.local:8787" || s.RemoteTimeout != 3*time.Second {
				t.Errorf("remote = %q, %v", s.RemoteDSN, s.RemoteTimeout)
			}
			if !reflect.DeepEqual(s.RetrySchedule, []time.Duration{time.Second, 2 * time.Second}) {
				t.Errorf("RetrySchedule = %v", s.RetrySchedule)
			}
			if s.NotifyBuffer != 7 {
				t.Errorf("NotifyBuffer = %d, want 7", s.NotifyBuffer)
			}
			if !strings.HasSuffix(ConfigFileUsed(), tt.file) {
				t.Errorf("ConfigFileUsed = %q", ConfigFileUsed())
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("notify:\n  buffer: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEARNFLOW_NOTIFY_BUFFER", "42")
	t.Setenv("LEARNFLOW_QUEUE_RETRY_SCHEDULE", "10ms,20ms")
	t.Setenv("LEARNFLOW_NETWORK_PROBE_INTERVAL", "250ms")

	if err := Initialize(dir, ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.NotifyBuffer != 42 {
		t.Errorf("NotifyBuffer = %d, want 42", s.NotifyBuffer)
	}
	if !reflect.DeepEqual(s.RetrySchedule, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}) {
		t.Errorf("RetrySchedule = %v", s.RetrySchedule)
	}
	if s.ProbeInterval != 250*time.Millisecond {
		t.Errorf("ProbeInterval = %v", s.ProbeInterval)
	}
}

func TestExplicitDataDirWins(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data-dir: "+other+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(dir, ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := GetString(KeyDataDir); got != dir {
		t.Errorf("data-dir = %q, want %q", got, dir)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	if err := Initialize(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		raw     []string
		want    []time.Duration
		wantErr bool
	}{
		{[]string{"1s", "5s"}, []time.Duration{time.Second, 5 * time.Second}, false},
		{[]string{"1s, 2s"}, []time.Duration{time.Second, 2 * time.Second}, false},
		{[]string{"soon"}, nil, true},
		{[]string{"-1s"}, nil, true},
		{nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.raw, "|"), func(t *testing.T) {
			got, err := parseSchedule(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSchedule error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSchedule = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	for _, format := range []string{FormatYAML, FormatTOML} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			path := FilePath(dir, format)
			if err := WriteDefault(path, dir, format, false); err != nil {
				t.Fatalf("WriteDefault failed: %v", err)
			}
			if err := WriteDefault(path, dir, format, false); err == nil {
				t.Error("expected second WriteDefault without force to fail")
			}
			if err := WriteDefault(path, dir, format, true); err != nil {
				t.Errorf("WriteDefault with force failed: %v", err)
			}

			if err := Initialize(dir, path); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			s, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if want := Defaults(dir); !reflect.DeepEqual(s, want) {
				t.Errorf("round trip = %+v\nwant %+v", s, want)
			}
		})
	}
}
