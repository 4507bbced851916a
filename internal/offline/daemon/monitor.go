package daemon

import (
	"context"
	"log"
	"os"
	"time"
)

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the remote store and reports online/offline edges.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	onChange func(online bool)
	logger   *log.Logger

	online bool
	known  bool
}

// NewMonitor creates a monitor. onChange runs on every observed edge and
// once for the first probe.
func NewMonitor(pinger Pinger, interval time.Duration, onChange func(online bool), logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Run probes immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one reachability check and returns the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return m.online
	}

	online := err == nil
	if m.known && online == m.online {
		return online
	}
	m.known = true
	m.online = online

	if online {
		m.logger.Println("Network online")
	} else {
		m.logger.Printf("Network offline: %v", err)
	}
	if m.onChange != nil {
		m.onChange(online)
	}
	return online
}
