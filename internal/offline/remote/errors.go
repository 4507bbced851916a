package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by remote stores.
//
// These errors can be checked using errors.Is():
//
//	if remote.IsTransient(err) {
//	    // network fault or server error, worth retrying
//	}
var (
	// ErrTransient marks a network fault or server-side failure.
	ErrTransient = errors.New("transient remote failure")

	// ErrNotFound is returned when the server has no such endpoint or
	// document. Delete treats it as success.
	ErrNotFound = errors.New("remote document not found")

	// ErrInvalidPath is returned for document or collection paths that do
	// not have the expected number of segments.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrUnknownScheme is returned by Open for a DSN whose scheme has no
	// registered backend.
	ErrUnknownScheme = errors.New("unknown remote scheme")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("remote store closed")
)

// IsTransient reports whether err is a transient remote failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// transient wraps err as a transient failure.
func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

// SplitDocPath splits a document path into its collection path and id.
// Document paths have an even number of segments.
func SplitDocPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// validCollection checks that a collection path has an odd number of
// non-empty segments.
func validCollection(collection string) error {
	parts := strings.Split(strings.Trim(collection, "/"), "/")
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, collection)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, collection)
		}
	}
	return nil
}
