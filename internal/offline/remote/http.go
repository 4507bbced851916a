package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

func init() {
	open := func(ctx context.Context, dsn string, opts Options) (Store, error) {
		return NewHTTPClient(dsn, opts)
	}
	Register("http", open)
	Register("https", open)
}

// DefaultTimeout bounds each HTTP request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// watchReconnectDelay is the pause between watch reconnect attempts.
var watchReconnectDelay = time.Second

// upsertBody is the request body of PUT /v1/docs/{path}.
type upsertBody struct {
	Fields map[string]any `json:"fields"`
}

// watchFrame is one websocket frame of GET /v1/watch.
type watchFrame struct {
	Changes []DocChange `json:"changes"`
}

// HTTPClient is a Store that talks to a document server over HTTP.
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewHTTPClient creates a client for the document server at baseURL.
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote URL %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPClient{
		base:    u,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (c *HTTPClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and classifies the response. 5xx responses and network
// errors are transient.
func (c *HTTPClient) do(ctx context.Context, op, method, target string, body any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return transient(op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	}
	return fmt.Errorf("remote %s failed: %w", op, err)
}

// Upsert implements Store.
func (c *HTTPClient) Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if _, _, err := SplitDocPath(path); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	q := url.Values{}
	if merge {
		q.Set("merge", "true")
	}
	return c.do(ctx, "upsert", http.MethodPut, c.endpoint("/v1/docs/"+strings.Trim(path, "/"), q), upsertBody{Fields: fields})
}

// Delete implements Store.
func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	if _, _, err := SplitDocPath(path); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	err := c.do(ctx, "delete", http.MethodDelete, c.endpoint("/v1/docs/"+strings.Trim(path, "/"), nil), nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Ping implements Store.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.do(ctx, "ping", http.MethodGet, c.endpoint("/health", nil), nil)
}

// Subscribe implements Store. The watch socket is redialed after every fault
// until the subscription, ctx or the client is closed; each new session
// starts with a fresh snapshot.
func (c *HTTPClient) Subscribe(ctx context.Context, collection string, onChanges BatchHandler, onError ErrorHandler) (Subscription, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	if onChanges == nil {
		return nil, fmt.Errorf("change handler cannot be nil")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	subCtx, cancel := context.WithCancel(c.ctx)
	c.wg.Add(1)
	c.mu.Unlock()

	w := newWatch(collection, onChanges, onError)

	go func() {
		defer c.wg.Done()
		defer w.stop()
		c.watchLoop(subCtx, w)
	}()

	return bindContext(ctx, func() {
		cancel()
		w.stop()
	}), nil
}

func (c *HTTPClient) watchLoop(ctx context.Context, w *watch) {
	target := *c.base
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = c.base.Path + "/v1/watch"
	target.RawQuery = url.Values{"collection": {w.collection}}.Encode()

	for {
		err := c.watchSession(ctx, target.String(), w)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.fail(transient("watch", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchReconnectDelay):
		}
	}
}

func (c *HTTPClient) watchSession(ctx context.Context, target string, w *watch) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial watch stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(16 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var frame watchFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Printf("Warning: malformed watch frame: %v", err)
			continue
		}
		w.push(frame.Changes)
	}
}

func (c *HTTPClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements Store.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
