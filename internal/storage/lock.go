package storage

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by LockWriter when another process holds the lock.
var ErrLocked = errors.New("database is locked by another process")

// LockWriter takes the exclusive "<dbPath>.lock" file lock held by processes
// that write to the database. Release it with Unlock.
func LockWriter(dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", lock.Path(), ErrLocked)
	}
	return lock, nil
}
