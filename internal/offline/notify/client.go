package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:7420/ws.
	URL string

	// HTTPClient is used for the websocket handshake. Set it to reach the
	// background process over a unix socket.
	HTTPClient *http.Client

	// ReconnectDelay is the pause between connection attempts (default: 1s).
	ReconnectDelay time.Duration

	// OnAttach runs after every successful (re)connect. Notifications sent
	// while detached are lost, so this is where readers re-query.
	OnAttach func()

	// Buffer is the local hub's per-subscription buffer.
	Buffer int

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// Client attaches a UI process to the background process's notifier.
//
// Received messages are republished into a local Hub. Messages published
// through the Client go to the local hub and upstream, from where the server
// forwards them to every other process.
type Client struct {
	config ClientConfig
	id     string
	hub    *Hub
	logger *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client. Call Run to connect.
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("notifier URL cannot be empty")
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Client{
		config: config,
		id:     uuid.NewString(),
		hub:    NewHub(config.Buffer, config.Logger),
		logger: config.Logger,
	}, nil
}

// ID returns the id this client announces to the server.
func (c *Client) ID() string {
	return c.id
}

// Subscribe attaches a local listener.
func (c *Client) Subscribe(topics ...string) *Subscription {
	return c.hub.Subscribe(topics...)
}

// Publish delivers payload to local subscribers and, when connected, to every
// other process. While disconnected the upstream copy is dropped.
func (c *Client) Publish(topic string, payload any) error {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}
	c.hub.PublishMessage(msg)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to publish upstream: %w", err)
	}
	return nil
}

// Connected reports whether the client is currently attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and relays messages until ctx is cancelled, reconnecting
// after ReconnectDelay whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Printf("Notifier connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return fmt.Errorf("invalid notifier URL: %w", err)
	}
	q := u.Query()
	q.Set("id", c.id)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial notifier: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if c.config.OnAttach != nil {
		c.config.OnAttach()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("Ignoring malformed message: %v", err)
			continue
		}
		c.hub.PublishMessage(msg)
	}
}
