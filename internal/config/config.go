// Package config resolves LearnFlow settings from defaults, a config file in
// the data directory, and LEARNFLOW_* environment variables.
//
// Priority, highest first: command flags (applied by callers only when
// cmd.Flags().Changed), environment, config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEARNFLOW_REMOTE_DSN.
const EnvPrefix = "LEARNFLOW"

// Config keys.
const (
	KeyDataDir       = "data-dir"
	KeyDB            = "db"
	KeyListen        = "listen"
	KeyRemoteDSN     = "remote.dsn"
	KeyRemoteTimeout = "remote.timeout"
	KeyRetrySchedule = "queue.retry-schedule"
	KeyProbeInterval = "network.probe-interval"
	KeyNotifyBuffer  = "notify.buffer"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max-size-mb"
	KeyLogMaxBackups = "log.max-backups"
	KeyLogMaxAgeDays = "log.max-age-days"
	KeyLogCompress   = "log.compress"
)

// DefaultRetrySchedule is the outbound retry schedule as written in config.
var DefaultRetrySchedule = []string{"1s", "5s", "15s", "30s", "60s"}

var v *viper.Viper

// DefaultDataDir returns ~/.learnflow, or .learnflow when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".learnflow"
	}
	return filepath.Join(home, ".learnflow")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyDB, "")
	v.SetDefault(KeyListen, "")
	v.SetDefault(KeyRemoteDSN, "memory://")
	v.SetDefault(KeyRemoteTimeout, "10s")
	v.SetDefault(KeyRetrySchedule, DefaultRetrySchedule)
	v.SetDefault(KeyProbeInterval, "5s")
	v.SetDefault(KeyNotifyBuffer, 100)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)
	v.SetDefault(KeyLogCompress, false)
}

// Initialize sets up the configuration singleton.
//
// dataDir, when non-empty, overrides every other data-dir source. configFile,
// when non-empty, names the config file explicitly and must exist; otherwise
// config.yaml or config.toml is looked up in the data directory and may be
// absent.
func Initialize(dataDir, configFile string) error {
	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if dataDir != "" {
		v.Set(KeyDataDir, dataDir)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(v.GetString(KeyDataDir))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// A data-dir inside the config file must not shadow the explicit one.
	if dataDir != "" {
		v.Set(KeyDataDir, dataDir)
	}
	return nil
}

func instance() *viper.Viper {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return v
}

// ConfigFileUsed returns the config file that was read, or "".
func ConfigFileUsed() string {
	return instance().ConfigFileUsed()
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	return instance().GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	return instance().GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	return instance().GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	return instance().GetDuration(key)
}

// Set overrides a configuration value for the rest of the process.
func Set(key string, value any) {
	instance().Set(key, value)
}

// RetrySchedule parses queue.retry-schedule. The environment form may be
// comma or space separated.
func RetrySchedule() ([]time.Duration, error) {
	return parseSchedule(instance().GetStringSlice(KeyRetrySchedule))
}

func parseSchedule(raw []string) ([]time.Duration, error) {
	var schedule []time.Duration
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, err := time.ParseDuration(part)
			if err != nil {
				return nil, fmt.Errorf("invalid %s entry %q: %w", KeyRetrySchedule, part, err)
			}
			if d < 0 {
				return nil, fmt.Errorf("invalid %s entry %q: negative delay", KeyRetrySchedule, part)
			}
			schedule = append(schedule, d)
		}
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", KeyRetrySchedule)
	}
	return schedule, nil
}
