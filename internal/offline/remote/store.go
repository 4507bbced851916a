// Package remote defines the Remote Document Store collaborator and its
// backends.
//
// The remote store is organized as collections of JSON documents addressed
// by slash-separated paths (users/{uid}/words/{id}). The sync layer needs
// four things from it: an upsert with optional merge, a delete, a live change
// stream per collection, and a cheap reachability probe.
//
// Backends are chosen by DSN scheme through a registry:
//
//	memory://              in-process store, for tests and offline demos
//	http://host:port       a document server speaking the /v1 HTTP API
//	postgres://...         PostgreSQL, change streams over LISTEN/NOTIFY
package remote

import (
	"context"
	"sync"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// DocChange is one event of a change stream.
type DocChange struct {
	ID   string            `json:"id"`
	Kind schema.ChangeKind `json:"changeKind"`
	// Fields is the document's full current field set for added and
	// modified events, and nil for removed events.
	Fields map[string]any `json:"fields,omitempty"`
}

// BatchHandler receives change events in the order the store produced them.
// Calls for one subscription never overlap.
type BatchHandler func(changes []DocChange)

// ErrorHandler receives stream faults. A fault does not end the subscription.
type ErrorHandler func(err error)

// Subscription is a live change stream.
type Subscription interface {
	// Unsubscribe stops delivery. No handler call starts after it returns.
	Unsubscribe()
}

// Store is the Remote Document Store.
type Store interface {
	// Upsert writes fields to the document at path. With merge, existing
	// fields not named in fields are kept; without it the document is
	// replaced.
	Upsert(ctx context.Context, path string, fields map[string]any, merge bool) error

	// Delete removes the document at path. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Subscribe opens a change stream on a collection. The first batch
	// reports every existing document as added. The stream reconnects on
	// its own after faults, which are reported to onError. It ends on
	// Unsubscribe or when ctx is done, whichever comes first.
	Subscribe(ctx context.Context, collection string, onChanges BatchHandler, onError ErrorHandler) (Subscription, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources and ends all subscriptions.
	Close() error
}

// subscriptionFunc adapts a func to Subscription.
type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }

// bindContext returns a Subscription that runs unsubscribe once, either on
// Unsubscribe or when ctx is done.
func bindContext(ctx context.Context, unsubscribe func()) Subscription {
	var once sync.Once
	end := func() { once.Do(unsubscribe) }
	stop := context.AfterFunc(ctx, end)
	return subscriptionFunc(func() {
		stop()
		end()
	})
}
