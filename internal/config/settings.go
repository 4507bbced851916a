package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported config file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Settings is the resolved configuration with derived paths filled in.
type Settings struct {
	DataDir string
	DB      string
	Listen  string

	RemoteDSN     string
	RemoteTimeout time.Duration

	RetrySchedule []time.Duration
	ProbeInterval time.Duration
	NotifyBuffer  int

	Log LogSettings
}

// LogSettings configures the rotating daemon log.
type LogSettings struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load resolves every key. Empty db, listen and log.file values are derived
// from the data directory.
func Load() (*Settings, error) {
	schedule, err := RetrySchedule()
	if err != nil {
		return nil, err
	}

	s := &Settings{
		DataDir:       GetString(KeyDataDir),
		DB:            GetString(KeyDB),
		Listen:        GetString(KeyListen),
		RemoteDSN:     GetString(KeyRemoteDSN),
		RemoteTimeout: GetDuration(KeyRemoteTimeout),
		RetrySchedule: schedule,
		ProbeInterval: GetDuration(KeyProbeInterval),
		NotifyBuffer:  GetInt(KeyNotifyBuffer),
		Log: LogSettings{
			File:       GetString(KeyLogFile),
			MaxSizeMB:  GetInt(KeyLogMaxSizeMB),
			MaxBackups: GetInt(KeyLogMaxBackups),
			MaxAgeDays: GetInt(KeyLogMaxAgeDays),
			Compress:   GetBool(KeyLogCompress),
		},
	}
	s.derive()
	return s, nil
}

// Defaults returns the default settings for a data directory.
func Defaults(dataDir string) *Settings {
	schedule, _ := parseSchedule(DefaultRetrySchedule)
	s := &Settings{
		DataDir:       dataDir,
		RemoteDSN:     "memory://",
		RemoteTimeout: 10 * time.Second,
		RetrySchedule: schedule,
		ProbeInterval: 5 * time.Second,
		NotifyBuffer:  100,
		Log: LogSettings{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
	s.derive()
	return s
}

func (s *Settings) derive() {
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir()
	}
	if s.DB == "" {
		s.DB = filepath.Join(s.DataDir, "learnflow.db")
	}
	if s.Listen == "" {
		s.Listen = "unix://" + filepath.Join(s.DataDir, "learnflow.sock")
	}
	if s.Log.File == "" {
		s.Log.File = filepath.Join(s.DataDir, "daemon.log")
	}
}

// Document renders s as the nested key layout of the config file.
func (s *Settings) Document() map[string]any {
	schedule := make([]string, len(s.RetrySchedule))
	for i, d := range s.RetrySchedule {
		schedule[i] = d.String()
	}
	return map[string]any{
		KeyDataDir: s.DataDir,
		KeyDB:      s.DB,
		KeyListen:  s.Listen,
		"remote": map[string]any{
			"dsn":     s.RemoteDSN,
			"timeout": s.RemoteTimeout.String(),
		},
		"queue": map[string]any{
			"retry-schedule": schedule,
		},
		"network": map[string]any{
			"probe-interval": s.ProbeInterval.String(),
		},
		"notify": map[string]any{
			"buffer": s.NotifyBuffer,
		},
		"log": map[string]any{
			"file":         s.Log.File,
			"max-size-mb":  s.Log.MaxSizeMB,
			"max-backups":  s.Log.MaxBackups,
			"max-age-days": s.Log.MaxAgeDays,
			"compress":     s.Log.Compress,
		},
	}
}

// Encode writes s in the given format (yaml or toml).
func (s *Settings) Encode(w io.Writer, format string) error {
	doc := s.Document()
	switch strings.ToLower(format) {
	case FormatYAML, "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want yaml or toml)", format)
	}
}

// FilePath returns the config file path for a data directory and format.
func FilePath(dataDir, format string) string {
	ext := FormatYAML
	if strings.ToLower(format) == FormatTOML {
		ext = FormatTOML
	}
	return filepath.Join(dataDir, "config."+ext)
}

// WriteDefault writes the default config for dataDir to path. An existing
// file is only replaced when force is set.
func WriteDefault(path, dataDir, format string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	var buf bytes.Buffer
	if err := Defaults(dataDir).Encode(&buf, format); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
