package mirror

import (
	"os"

	"golang.org/x/sys/unix"
)

// Flock is a non-blocking advisory lock on an open file.  It is the
// only guard protecting the working and mirror directories from a
// second concurrent run.
type Flock struct {
	*os.File
}

// Lock tries to acquire the lock without blocking.  A held lock makes
// Lock fail immediately instead of waiting.
func (f Flock) Lock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// Unlock releases the lock.
func (f Flock) Unlock() error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
