// Package lock serializes jobs against a single site. Concurrent jobs on the
// same site would corrupt state (restore racing backup), so the job envelope
// takes this lock before touching the site.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Lock struct {
	file *flock.Flock
}

// AcquireSite obtains the per-site lock under dir. It fails immediately if
// another job holds the lock; queue-level retry is the caller's concern.
func AcquireSite(dir, site string) (*Lock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("agent-site-%s.lock", site))
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another job is already running against site %s (lock: %s)", site, path)
	}
	return &Lock{file: lock}, nil
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
