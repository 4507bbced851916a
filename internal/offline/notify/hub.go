package notify

import (
	"log"
	"os"
	"sync"
	"time"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 100

// Hub fans messages out to subscribers inside one process.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	buffer int
	logger *log.Logger
}

// NewHub creates a hub. A buffer <= 0 uses DefaultBuffer and a nil logger
// logs to stderr.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Hub{
		subs:   make(map[int]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives messages for a set of topics.
type Subscription struct {
	// C delivers messages. It is closed by Close.
	C <-chan Message

	c      chan Message
	topics map[string]bool
	hub    *Hub
	id     int
	once   sync.Once
}

// Subscribe attaches a listener for topics. With no topics, every message is
// delivered.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	c := make(chan Message, h.buffer)
	sub := &Subscription{
		C:      c,
		c:      c,
		topics: make(map[string]bool, len(topics)),
		hub:    h,
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	return sub
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.c)
		s.hub.mu.Unlock()
	})
}

// Publish encodes payload and delivers it to every matching subscriber.
func (h *Hub) Publish(topic string, payload any) error {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		return err
	}
	h.PublishMessage(msg)
	return nil
}

// PublishMessage delivers msg to every matching subscriber without blocking.
// A subscriber whose buffer is full misses the message.
func (h *Hub) PublishMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if len(sub.topics) > 0 && !sub.topics[msg.Topic] {
			continue
		}
		select {
		case sub.c <- msg:
		default:
			h.logger.Printf("Warning: subscriber %d full, dropping %s message", sub.id, msg.Topic)
		}
	}
}

// SubscriberCount returns the number of attached subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
