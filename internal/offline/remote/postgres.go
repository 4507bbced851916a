package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

func init() {
	open := func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return OpenPostgres(ctx, dsn, opts)
	}
	Register("postgres", open)
	Register("postgresql", open)
}

// NotifyChannel is the LISTEN/NOTIFY channel document changes are announced on.
const NotifyChannel = "learnflow_docs"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// pgNotice is the NOTIFY payload for one document change.
type pgNotice struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Kind       schema.ChangeKind `json:"changeKind"`
}

// Postgres is a Store backed by a documents table. Writes announce
// themselves with pg_notify; subscribers share one pq.Listener and fetch
// the current fields of each announced document.
type Postgres struct {
	db      *sql.DB
	dsn     string
	timeout time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	listener *pq.Listener
	watches  map[string]map[*watch]bool
	closed   bool
	wg       sync.WaitGroup
}

// OpenPostgres connects to dsn and creates the documents table if needed.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(initCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(initCtx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	return &Postgres{
		db:      db,
		dsn:     dsn,
		timeout: timeout,
		logger:  logger,
		watches: make(map[string]map[*watch]bool),
	}, nil
}

// classify marks connection-level failures transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return transient(op, err)
		}
		return fmt.Errorf("remote %s failed: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transient(op, err)
	}
	return fmt.Errorf("remote %s failed: %w", op, err)
}

// Upsert implements Store.
func (p *Postgres) Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error {
	collection, id, err := SplitDocPath(path)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	// xmax is zero only for freshly inserted rows.
	var inserted bool
	err = tx.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, fields, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = CASE WHEN $4 THEN documents.fields || EXCLUDED.fields ELSE EXCLUDED.fields END,
			updated_at = NOW()
		RETURNING (xmax = 0)`, collection, id, string(data), merge).Scan(&inserted)
	if err != nil {
		return classify("upsert", err)
	}

	kind := schema.ChangeModified
	if inserted {
		kind = schema.ChangeAdded
	}
	if err := p.notify(ctx, tx, pgNotice{Collection: collection, ID: id, Kind: kind}); err != nil {
		return classify("upsert", err)
	}
	return classify("upsert", tx.Commit())
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitDocPath(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return classify("delete", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := p.notify(ctx, tx, pgNotice{Collection: collection, ID: id, Kind: schema.ChangeRemoved}); err != nil {
			return classify("delete", err)
		}
	}
	return classify("delete", tx.Commit())
}

func (p *Postgres) notify(ctx context.Context, tx *sql.Tx, notice pgNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload))
	return err
}

// Subscribe implements Store.
func (p *Postgres) Subscribe(ctx context.Context, collection string, onChanges BatchHandler, onError ErrorHandler) (Subscription, error) {
	collection = strings.Trim(collection, "/")
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if onChanges == nil {
		return nil, fmt.Errorf("change handler cannot be nil")
	}
	if err := p.ensureListener(); err != nil {
		return nil, err
	}

	snapshot, err := p.snapshot(ctx, collection)
	if err != nil {
		return nil, err
	}

	w := newWatch(collection, onChanges, onError)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		w.stop()
		return nil, ErrClosed
	}
	if p.watches[collection] == nil {
		p.watches[collection] = make(map[*watch]bool)
	}
	p.watches[collection][w] = true
	p.mu.Unlock()

	w.push(snapshot)

	return bindContext(ctx, func() {
		p.mu.Lock()
		delete(p.watches[collection], w)
		p.mu.Unlock()
		w.stop()
	}), nil
}

// snapshot reads every document of collection as added events.
func (p *Postgres) snapshot(ctx context.Context, collection string) ([]DocChange, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `SELECT id, fields FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, classify("snapshot", err)
	}
	defer rows.Close()

	var changes []DocChange
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, classify("snapshot", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
		}
		changes = append(changes, DocChange{ID: id, Kind: schema.ChangeAdded, Fields: fields})
	}
	return changes, classify("snapshot", rows.Err())
}

func (p *Postgres) fetch(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT fields FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("fetch", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
	}
	return fields, true, nil
}

// ensureListener starts the shared LISTEN connection on first use.
func (p *Postgres) ensureListener() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.listener != nil {
		return nil
	}

	listener := pq.NewListener(p.dsn, 100*time.Millisecond, 10*time.Second, p.onListenerEvent)
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return classify("listen", err)
	}
	p.listener = listener

	p.wg.Add(1)
	go p.dispatchLoop(listener)
	return nil
}

func (p *Postgres) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		if err == nil {
			err = fmt.Errorf("listener disconnected")
		}
		p.logger.Printf("Warning: postgres listener: %v", err)
		p.failAll(transient("listen", err))
	case pq.ListenerEventReconnected:
		p.logger.Printf("Postgres listener reconnected")
	}
}

func (p *Postgres) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.watches {
		for w := range ws {
			w.fail(err)
		}
	}
}

func (p *Postgres) watchesFor(collection string) []*watch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*watch, 0, len(p.watches[collection]))
	for w := range p.watches[collection] {
		out = append(out, w)
	}
	return out
}

func (p *Postgres) dispatchLoop(listener *pq.Listener) {
	defer p.wg.Done()

	for n := range listener.Notify {
		if n == nil {
			// Reconnected; notifications may have been missed.
			p.resnapshot()
			continue
		}

		var notice pgNotice
		if err := json.Unmarshal([]byte(n.Extra), &notice); err != nil {
			p.logger.Printf("Warning: malformed notification: %v", err)
			continue
		}

		watches := p.watchesFor(notice.Collection)
		if len(watches) == 0 {
			continue
		}

		change := DocChange{ID: notice.ID, Kind: notice.Kind}
		if notice.Kind != schema.ChangeRemoved {
			fields, ok, err := p.fetch(context.Background(), notice.Collection, notice.ID)
			if err != nil {
				for _, w := range watches {
					w.fail(err)
				}
				continue
			}
			if !ok {
				// Deleted again before we could read it; the removal
				// notification follows.
				continue
			}
			change.Fields = fields
		}
		for _, w := range watches {
			w.push([]DocChange{change})
		}
	}
}

func (p *Postgres) resnapshot() {
	p.mu.Lock()
	collections := make([]string, 0, len(p.watches))
	for c := range p.watches {
		collections = append(collections, c)
	}
	p.mu.Unlock()

	for _, c := range collections {
		snapshot, err := p.snapshot(context.Background(), c)
		for _, w := range p.watchesFor(c) {
			if err != nil {
				w.fail(err)
				continue
			}
			w.push(snapshot)
		}
	}
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return classify("ping", p.db.PingContext(ctx))
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, ws := range p.watches {
		for w := range ws {
			w.stop()
		}
	}
	p.watches = make(map[string]map[*watch]bool)
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	p.wg.Wait()
	return p.db.Close()
}
