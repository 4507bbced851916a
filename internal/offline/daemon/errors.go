package daemon

import "errors"

var (
	// ErrLegacyMessage is returned for {action, ...} bodies from before the
	// {type, payload} schema.
	ErrLegacyMessage = errors.New("deprecated message schema: send {type, payload}")

	// ErrUnhandledMessage is returned for unknown message types.
	ErrUnhandledMessage = errors.New("unhandled message type")

	// ErrAlreadyRunning is returned when another process holds the data
	// directory lock.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// IsLegacyMessage reports whether err is ErrLegacyMessage.
func IsLegacyMessage(err error) bool {
	return errors.Is(err, ErrLegacyMessage)
}

// IsAlreadyRunning reports whether err is ErrAlreadyRunning.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyRunning)
}
