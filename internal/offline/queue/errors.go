package queue

import "errors"

// Common errors returned by the outbound queue.
var (
	// ErrUnauthenticated is returned by Enqueue when nobody is signed in.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrRetryBudgetExhausted is logged when an item is dropped after its
	// final failed attempt.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrQueueClosed is returned by operations on a queue that is not
	// running.
	ErrQueueClosed = errors.New("queue closed")
)

// IsUnauthenticated reports whether err is ErrUnauthenticated.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsQueueClosed reports whether err is ErrQueueClosed.
func IsQueueClosed(err error) bool {
	return errors.Is(err, ErrQueueClosed)
}
