package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// DefaultTimeout bounds one request.
const DefaultTimeout = 30 * time.Second

// unixHost stands in for the host part of URLs sent over a unix socket.
const unixHost = "learnflow"

var (
	// ErrUnavailable is returned when the background process cannot be reached.
	ErrUnavailable = errors.New("background process unavailable")

	// ErrRequestFailed is returned when a handler replies with success=false.
	ErrRequestFailed = errors.New("request failed")
)

// IsUnavailable reports whether err means nothing is listening.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ParseListen splits a listen address of the form unix:///path or
// tcp://host:port into a network and address for net.Listen.
func ParseListen(listen string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(listen, "unix://"):
		address = strings.TrimPrefix(listen, "unix://")
		if address == "" {
			return "", "", fmt.Errorf("invalid listen address %q: empty socket path", listen)
		}
		return "unix", address, nil
	case strings.HasPrefix(listen, "tcp://"):
		address = strings.TrimPrefix(listen, "tcp://")
		if _, _, err := net.SplitHostPort(address); err != nil {
			return "", "", fmt.Errorf("invalid listen address %q: %w", listen, err)
		}
		return "tcp", address, nil
	default:
		return "", "", fmt.Errorf("invalid listen address %q: want unix:// or tcp://", listen)
	}
}

// Client sends requests to the background process.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for a listen address. A zero timeout means
// DefaultTimeout.
func NewClient(listen string, timeout time.Duration) (*Client, error) {
	network, address, err := ParseListen(listen)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{}
	base := "http://" + address
	if network == "unix" {
		dialer := &net.Dialer{}
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", address)
		}
		base = "http://" + unixHost
	}

	return &Client{
		base:    base,
		http:    &http.Client{Transport: transport},
		timeout: timeout,
	}, nil
}

// HTTPClient returns the underlying client. It dials the right socket for
// any URL built from NotifierURL and carries no timeout of its own, as
// websocket dialing requires.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// NotifierURL returns the websocket URL of the change notifier.
func (c *Client) NotifierURL() string {
	u, _ := url.Parse(c.base)
	u.Scheme = "ws"
	u.Path = PathNotifier
	return u.String()
}

// Health checks that the background process answers.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+PathHealth, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Send posts one request. A reply with success=false is returned along with
// an error wrapping ErrRequestFailed.
func (c *Client) Send(ctx context.Context, typ string, payload any) (*Response, error) {
	req := Request{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		req.Payload = data
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.post(ctx, body)
}

// SendRaw posts an arbitrary body as-is.
func (c *Client) SendRaw(ctx context.Context, body []byte) (*Response, error) {
	return c.post(ctx, body)
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PathMessages, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response (%s): %w", httpResp.Status, err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
	}
	return &resp, nil
}

// Enqueue submits a mutation and returns the reply carrying the queue item id.
func (c *Client) Enqueue(ctx context.Context, m schema.Mutation) (*Response, error) {
	payload, err := schema.EncodeMutation(m)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, TypeEnqueue, EnqueuePayload{Action: m.Action(), Payload: payload})
}

// Flush waits until the queue has drained or gone offline.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.Send(ctx, TypeFlushQueue, nil)
	return err
}

// AuthState returns the current auth snapshot.
func (c *Client) AuthState(ctx context.Context) (*auth.State, error) {
	resp, err := c.Send(ctx, TypeGetAuthState, nil)
	if err != nil {
		return nil, err
	}
	return resp.AuthState, nil
}

// Sync returns every locally cached record of the signed-in user.
func (c *Client) Sync(ctx context.Context) (*schema.Cache, error) {
	resp, err := c.Send(ctx, TypeSyncReq, nil)
	if err != nil {
		return nil, err
	}
	return resp.Cache, nil
}

// Stats returns the signed-in user's activity counters.
func (c *Client) Stats(ctx context.Context) (*schema.UserStats, error) {
	resp, err := c.Send(ctx, TypeGetStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// QueueStatus returns the outbound queue stats.
func (c *Client) QueueStatus(ctx context.Context) (*queue.Stats, error) {
	resp, err := c.Send(ctx, TypeQueueStatus, nil)
	if err != nil {
		return nil, err
	}
	return resp.Queue, nil
}

// Settings returns the saved user settings.
func (c *Client) Settings(ctx context.Context) (*schema.UserSettings, error) {
	resp, err := c.Send(ctx, TypeGetUserSettings, nil)
	if err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// SaveSettings stores new user settings.
func (c *Client) SaveSettings(ctx context.Context, s schema.UserSettings) (*schema.UserSettings, error) {
	resp, err := c.Send(ctx, TypeSaveUserSettings, s)
	if err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// SignIn signs id in and returns the resulting snapshot.
func (c *Client) SignIn(ctx context.Context, id auth.Identity) (*auth.State, error) {
	resp, err := c.Send(ctx, TypeSignIn, id)
	if err != nil {
		return nil, err
	}
	return resp.AuthState, nil
}

// SignOut signs the current user out.
func (c *Client) SignOut(ctx context.Context) (*auth.State, error) {
	resp, err := c.Send(ctx, TypeSignOut, nil)
	if err != nil {
		return nil, err
	}
	return resp.AuthState, nil
}
