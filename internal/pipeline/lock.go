// pattern: Imperative Shell

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "tangld.lock"

// acquireLock takes an exclusive file lock on the project data directory
// so two invocations never race on the ledger or the fragment cache.
// Returns the flock handle (caller must release) or an error if another
// invocation already holds the lock.
func acquireLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another tangld invocation is already running in this project")
	}
	return fl, nil
}

// releaseLock releases the project lock.
func releaseLock(fl *flock.Flock) {
	if fl != nil {
		_ = fl.Unlock()
	}
}
