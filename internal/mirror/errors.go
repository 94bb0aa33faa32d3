package mirror

import "github.com/cockroachdb/errors"

// Sentinel errors for the four fatal run outcomes.  Everything else
// degrades to a stale family and a successful exit.
var (
	// ErrResolveExhausted means no mirror address could be obtained.
	ErrResolveExhausted = errors.New("mirror resolution exhausted")

	// ErrRecordUnavailable means the version announcement could not
	// be fetched, or was malformed.
	ErrRecordUnavailable = errors.New("version record unavailable")

	// ErrLocked means another instance holds the run lock.
	ErrLocked = errors.New("another instance is already running")
)

// Exit codes observed by operators.
const (
	ExitOK       = 0
	ExitGeneric  = 1
	ExitResolve  = 2
	ExitRecord   = 3
	ExitLockHeld = 254
)

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrResolveExhausted):
		return ExitResolve
	case errors.Is(err, ErrRecordUnavailable):
		return ExitRecord
	case errors.Is(err, ErrLocked):
		return ExitLockHeld
	}
	return ExitGeneric
}
