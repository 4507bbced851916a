package remote

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Options configure a backend opened through Open.
type Options struct {
	// Timeout bounds each request made by network backends.
	Timeout time.Duration

	// Logger for backend activity.
	Logger *log.Logger
}

// Opener creates a Store for a DSN. Implementations register themselves with
// Register().
type Opener func(ctx context.Context, dsn string, opts Options) (Store, error)

// registry maps DSN schemes to their openers
var (
	registry      = make(map[string]Opener)
	registryMutex sync.RWMutex
)

// Register registers a backend for a DSN scheme.
// This is called from init() functions in the backend files.
//
// Example:
//
//	func init() {
//	    remote.Register("memory", openMemory)
//	}
func Register(scheme string, opener Opener) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if opener == nil {
		panic(fmt.Sprintf("remote: Register opener is nil for scheme %s", scheme))
	}

	if _, exists := registry[scheme]; exists {
		panic(fmt.Sprintf("remote: Register called twice for scheme %s", scheme))
	}

	registry[scheme] = opener
}

// Schemes returns all registered schemes, sorted.
func Schemes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open creates the backend named by dsn's scheme.
func Open(ctx context.Context, dsn string, opts Options) (Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid remote DSN %q: %w", dsn, err)
	}

	registryMutex.RLock()
	opener := registry[u.Scheme]
	registryMutex.RUnlock()

	if opener == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownScheme, u.Scheme, Schemes())
	}
	return opener(ctx, dsn, opts)
}
