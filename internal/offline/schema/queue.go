package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueItem is a durable record of one pending mutation.
//
// Items are written to the queue table before any network attempt and are
// removed only after the remote store confirms the write or the retry budget
// runs out.
type QueueItem struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Action   Action          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	TS       int64           `json:"ts"`
}

// NewQueueItem builds a fresh item for uid with attempts set to zero.
func NewQueueItem(uid string, m Mutation, now time.Time) (*QueueItem, error) {
	if uid == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", m.Action(), err)
	}
	payload, err := EncodeMutation(m)
	if err != nil {
		return nil, err
	}
	return &QueueItem{
		ID:      uuid.NewString(),
		UserID:  uid,
		Action:  m.Action(),
		Payload: payload,
		TS:      Millis(now),
	}, nil
}

// Mutation decodes the item's payload.
func (q *QueueItem) Mutation() (Mutation, error) {
	return DecodeMutation(q.Action, q.Payload)
}

// Validate checks if the QueueItem has valid field values.
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("id is required")
	}
	if q.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if _, err := ParseAction(string(q.Action)); err != nil {
		return err
	}
	if q.Attempts < 0 {
		return fmt.Errorf("attempts must be >= 0 (got %d)", q.Attempts)
	}
	return nil
}
