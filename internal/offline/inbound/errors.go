package inbound

import "errors"

var (
	// ErrSubscription tags change-stream faults and failed subscription
	// attempts. The affected stream stays open.
	ErrSubscription = errors.New("subscription error")
)

// IsSubscriptionError reports whether err is a subscription fault.
func IsSubscriptionError(err error) bool {
	return errors.Is(err, ErrSubscription)
}
