//go:build !unix

package lockfile

import (
	"fmt"
	"os"
	"sync"
)

// Without flock, the lock only excludes holders inside this process.
var (
	heldMu sync.Mutex
	held   = make(map[string]bool)
)

func tryLock(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[f.Name()] {
		return ErrLocked
	}
	held[f.Name()] = true
	return nil
}

func unlock(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if !held[f.Name()] {
		return fmt.Errorf("lock %s not held", f.Name())
	}
	delete(held, f.Name())
	return nil
}
