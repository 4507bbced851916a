// Package daemon provides the background process that owns the Outbound
// Queue and Inbound Sync for one data directory.
//
// The daemon:
// 1. Takes the data directory lock so exactly one drain loop runs
// 2. Opens the Local Store, durable flags and remote document store
// 3. Broadcasts auth transitions and (re)subscribes inbound streams
// 4. Probes the remote store and toggles the queue online/offline
// 5. Serves the message surface, notifier and health check on one listener
// 6. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/lockfile"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/db"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/flags"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/inbound"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/ipc"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/remote"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// Default file names inside the data directory.
const (
	DBFilename     = "learnflow.db"
	LockFilename   = "daemon.lock"
	SocketFilename = "learnflow.sock"
)

// Config holds configuration for the daemon.
type Config struct {
	// DataDir holds the database, flag file, lock and socket (required)
	DataDir string

	// DBPath is the Local Store file (default: <DataDir>/learnflow.db)
	DBPath string

	// Listen is unix:///path or tcp://host:port (default: unix socket in DataDir)
	Listen string

	// RemoteDSN selects the remote document store backend
	RemoteDSN string

	// Remote, when set, is used instead of opening RemoteDSN. The daemon
	// closes it on shutdown.
	Remote remote.Store

	// RemoteTimeout bounds each request of network backends
	RemoteTimeout time.Duration

	// RetrySchedule lists the delay before each outbound retry
	RetrySchedule []time.Duration

	// ProbeInterval is how often the remote store is pinged
	ProbeInterval time.Duration

	// NotifyBuffer is the per-subscriber notifier buffer
	NotifyBuffer int

	// WatchDebounce batches Local Store file events from other processes
	WatchDebounce time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RemoteDSN:     "memory://",
		RemoteTimeout: remote.DefaultTimeout,
		RetrySchedule: append([]time.Duration(nil), queue.DefaultSchedule...),
		ProbeInterval: 5 * time.Second,
		NotifyBuffer:  100,
		WatchDebounce: 100 * time.Millisecond,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires every sync component together.
type Daemon struct {
	config   *Config
	logger   *log.Logger
	handlers map[string]HandlerFunc

	lock        *lockfile.Lock
	db          *db.DB
	flags       *flags.Store
	hub         *notify.Hub
	notifier    *notify.Server
	remote      remote.Store
	provider    *auth.ManualProvider
	broadcaster *auth.Broadcaster
	queue       *queue.Queue
	syncer      *inbound.Syncer
	monitor     *Monitor
	listener    net.Listener
	server      *http.Server

	ready   chan struct{}
	stopped chan struct{}
	started bool
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Daemon instance with default configuration.
func New(dataDir string) (*Daemon, error) {
	config := DefaultConfig()
	config.DataDir = dataDir
	return NewWithConfig(config)
}

// NewWithConfig creates a daemon with custom configuration.
//
// Nothing is opened until Start.
func NewWithConfig(config *Config) (*Daemon, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	defaults := DefaultConfig()
	if config.DBPath == "" {
		config.DBPath = filepath.Join(config.DataDir, DBFilename)
	}
	if config.Listen == "" {
		config.Listen = "unix://" + filepath.Join(config.DataDir, SocketFilename)
	}
	if _, _, err := ipc.ParseListen(config.Listen); err != nil {
		return nil, err
	}
	if config.RemoteDSN == "" && config.Remote == nil {
		config.RemoteDSN = defaults.RemoteDSN
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = defaults.RemoteTimeout
	}
	if len(config.RetrySchedule) == 0 {
		config.RetrySchedule = defaults.RetrySchedule
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.NotifyBuffer <= 0 {
		config.NotifyBuffer = defaults.NotifyBuffer
	}
	if config.WatchDebounce <= 0 {
		config.WatchDebounce = defaults.WatchDebounce
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:   config,
		logger:   config.Logger,
		handlers: make(map[string]HandlerFunc),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.registerHandlers()
	return d, nil
}

// componentLogger derives a logger with its own prefix that writes where the
// daemon logger writes.
func (d *Daemon) componentLogger(prefix string) *log.Logger {
	return log.New(d.logger.Writer(), "["+prefix+"] ", d.logger.Flags())
}

// open acquires the lock and constructs every component. On error the
// caller releases whatever was opened via closeAll.
func (d *Daemon) open(ctx context.Context) error {
	if err := os.MkdirAll(d.config.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(d.config.DataDir, LockFilename))
	if err != nil {
		if lockfile.IsLocked(err) {
			return fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	d.lock = lock

	store, err := db.Open(d.config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	d.db = store
	if err := store.InitSchemaContext(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	fl, err := flags.Open(filepath.Join(d.config.DataDir, flags.DefaultFilename))
	if err != nil {
		return fmt.Errorf("failed to open flags: %w", err)
	}
	d.flags = fl

	d.hub = notify.NewHub(d.config.NotifyBuffer, d.componentLogger("notify"))
	d.notifier = notify.NewServer(d.hub, d.componentLogger("notify"))

	if d.config.Remote != nil {
		d.remote = d.config.Remote
	} else {
		rs, err := remote.Open(ctx, d.config.RemoteDSN, remote.Options{
			Timeout: d.config.RemoteTimeout,
			Logger:  d.componentLogger("remote"),
		})
		if err != nil {
			return fmt.Errorf("failed to open remote store: %w", err)
		}
		d.remote = rs
	}

	// The provider resumes the persisted identity so a login survives a
	// restart of the background process.
	var persisted auth.State
	if _, err := fl.Get(flags.KeyAuthState, &persisted); err != nil {
		d.logger.Printf("Warning: ignoring unreadable auth state: %v", err)
	}
	d.provider = auth.NewManualProvider(persisted.Identity())

	b, err := auth.NewBroadcaster(auth.Config{
		Provider:  d.provider,
		Flags:     fl,
		Publisher: d.hub,
		Logger:    d.componentLogger("auth"),
	})
	if err != nil {
		return fmt.Errorf("failed to create auth broadcaster: %w", err)
	}
	if err := b.Init(); err != nil {
		return err
	}
	d.broadcaster = b

	q, err := queue.New(queue.Config{
		Store:     store,
		Remote:    d.remote,
		Identity:  b.UID,
		Publisher: d.hub,
		Schedule:  d.config.RetrySchedule,
		Logger:    d.componentLogger("queue"),
	})
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	d.queue = q

	s, err := inbound.New(inbound.Config{
		Store:     store,
		Remote:    d.remote,
		Publisher: d.hub,
		Logger:    d.componentLogger("sync"),
	})
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}
	d.syncer = s

	d.monitor = NewMonitor(d.remote, d.config.ProbeInterval, q.SetOnline, d.logger)

	network, address, _ := ipc.ParseListen(d.config.Listen)
	if network == "unix" {
		// The lock is held, so a socket file left here is stale.
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Listen, err)
	}
	d.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ipc.PathMessages, d.handleMessages)
	mux.Handle("GET "+ipc.PathNotifier, d.notifier)
	mux.HandleFunc("GET "+ipc.PathHealth, d.handleHealth)
	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Open every component and take the data directory lock
// 2. Reload the persisted queue and start draining
// 3. Follow auth transitions into inbound subscriptions
// 4. Probe the network and watch the Local Store for outside writes
// 5. Serve requests until shutdown
//
// This blocks until ctx is cancelled, Stop is called, or a component fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()
	defer close(d.stopped)

	d.logger.Println("Starting daemon")

	if err := d.open(ctx); err != nil {
		d.closeAll()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	d.notifier.Start()
	if err := d.queue.Start(runCtx); err != nil {
		d.closeAll()
		return err
	}

	observer := d.broadcaster.Subscribe()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := d.server.Serve(d.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return d.broadcaster.Run(gctx)
	})
	g.Go(func() error {
		defer observer.Close()
		return d.syncer.Run(gctx, observer.C)
	})
	g.Go(func() error {
		return d.monitor.Run(gctx)
	})
	g.Go(func() error {
		d.forwardExternal(gctx)
		return nil
	})

	d.logger.Printf("Listening on %s (remote %s)", d.config.Listen, d.remoteName())
	close(d.ready)

	err := g.Wait()
	if err != nil {
		d.logger.Printf("Error: %v", err)
	}
	d.logger.Println("Stopping daemon")
	d.closeAll()
	d.logger.Println("Daemon stopped")
	return err
}

// forwardExternal announces Local Store commits made by other processes on
// the db-sync topic.
func (d *Daemon) forwardExternal(ctx context.Context) {
	sub := d.db.Subscribe()
	defer sub.Close()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := d.db.WatchExternal(ctx, d.config.WatchDebounce); err != nil {
			d.logger.Printf("Warning: external change watch stopped: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return
		case ch, ok := <-sub.C:
			if !ok {
				<-watchDone
				return
			}
			if !ch.External {
				continue
			}
			if err := d.hub.Publish(notify.TopicDBSync, ch); err != nil {
				d.logger.Printf("Warning: failed to publish external change: %v", err)
			}
		}
	}
}

func (d *Daemon) remoteName() string {
	if d.config.Remote != nil {
		return fmt.Sprintf("%T", d.config.Remote)
	}
	return d.config.RemoteDSN
}

// closeAll releases every opened component in reverse order.
func (d *Daemon) closeAll() {
	if d.queue != nil {
		d.queue.Close()
	}
	if d.syncer != nil {
		d.syncer.Stop()
	}
	if d.notifier != nil {
		d.notifier.Stop()
	}
	if d.listener != nil {
		_ = d.listener.Close()
		if network, address, _ := ipc.ParseListen(d.config.Listen); network == "unix" {
			_ = os.Remove(address)
		}
	}
	if d.remote != nil {
		if err := d.remote.Close(); err != nil {
			d.logger.Printf("Error closing remote store: %v", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Printf("Error closing database: %v", err)
		}
	}
	if d.lock != nil {
		if err := d.lock.Release(); err != nil {
			d.logger.Printf("Error releasing lock: %v", err)
		}
	}
}

// Stop gracefully shuts down the daemon and waits for Start to return.
func (d *Daemon) Stop() error {
	d.cancel()

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.stopped
	}
	return nil
}

// Ready is closed once the daemon is serving.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound listener address, e.g. 127.0.0.1:54321 or a socket
// path. It is empty before Ready.
func (d *Daemon) Addr() string {
	select {
	case <-d.ready:
		return d.listener.Addr().String()
	default:
		return ""
	}
}

// ListenURL returns the Listen value clients should dial. For tcp://:0 it
// carries the port actually bound.
func (d *Daemon) ListenURL() string {
	network, _, _ := ipc.ParseListen(d.config.Listen)
	if addr := d.Addr(); addr != "" {
		return network + "://" + addr
	}
	return d.config.Listen
}

// Queue returns the outbound queue (nil before Start).
func (d *Daemon) Queue() *queue.Queue {
	return d.queue
}

// DB returns the Local Store (nil before Start).
func (d *Daemon) DB() *db.DB {
	return d.db
}

// Hub returns the in-process notifier hub (nil before Start).
func (d *Daemon) Hub() *notify.Hub {
	return d.hub
}

// Syncer returns the inbound syncer (nil before Start).
func (d *Daemon) Syncer() *inbound.Syncer {
	return d.syncer
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := d.queue.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"online":    stats.Online,
		"pending":   stats.Pending,
		"clients":   d.notifier.ClientCount(),
		"signedIn":  d.broadcaster.UID() != "",
		"timestamp": schema.Millis(time.Now()),
	})
}
