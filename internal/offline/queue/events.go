package queue

import (
	"time"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/notify"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// EventKind names a queue notification.
type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventDelivered EventKind = "delivered"
	EventRetry     EventKind = "retry"
	EventDropped   EventKind = "dropped"
)

// Event is published on the queue topic.
type Event struct {
	Kind     EventKind     `json:"event"`
	ItemID   string        `json:"itemId"`
	UserID   string        `json:"userId"`
	Action   schema.Action `json:"action"`
	RecordID string        `json:"recordId,omitempty"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`

	// RetryInMs is the retry delay for retry events.
	RetryInMs int64 `json:"retryInMs,omitempty"`
}

func (q *Queue) emit(kind EventKind, item *schema.QueueItem, m schema.Mutation, err error, delay time.Duration) {
	ev := Event{
		Kind:      kind,
		ItemID:    item.ID,
		UserID:    item.UserID,
		Action:    item.Action,
		Attempts:  item.Attempts,
		RetryInMs: delay.Milliseconds(),
	}
	if m != nil {
		ev.RecordID = m.RecordID()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := q.publisher.Publish(notify.TopicQueue, ev); perr != nil {
		q.logger.Printf("Warning: failed to publish queue event: %v", perr)
	}
}
