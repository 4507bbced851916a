// Package notify provides the Change Notifier: a best-effort publish/subscribe
// primitive that works inside one process (Hub) and across processes (Server
// in the background process, Client in every UI process).
//
// Notifications carry small payloads describing what changed, never record
// data. Delivery is at-most-once to listeners attached at publish time.
// Nothing is replayed, so a listener that attaches late must re-read the Local
// Store instead of relying on notification history.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known topics.
const (
	// TopicAuth carries the latest auth snapshot.
	TopicAuth = "auth"

	// TopicDBSync announces a Local Store change ({entityKind, changeKind, id}).
	TopicDBSync = "db-sync"

	// TopicQueue announces outbound queue activity.
	TopicQueue = "queue"
)

// Message is one notification.
type Message struct {
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`

	// Origin identifies the process connection that published the message.
	// It is empty for messages published inside the background process.
	Origin string `json:"origin,omitempty"`
}

// NewMessage encodes payload into a message for topic.
func NewMessage(topic string, payload any) (Message, error) {
	msg := Message{Topic: topic, Timestamp: time.Now()}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	msg.Data = data
	return msg, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message on %s has no data", m.Topic)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s message: %w", m.Topic, err)
	}
	return nil
}

// Publisher is implemented by anything notifications can be sent through.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) error { return nil }
