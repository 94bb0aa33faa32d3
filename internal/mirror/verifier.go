package mirror

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNoVersion is returned by Verifier.Version when the file is absent
// or the inspection output carries no parsable version line.
var ErrNoVersion = errors.New("no version available")

// Verifier inspects a database snapshot file.  The two operations are
// deliberately separate: the download acceptance gate needs both the
// extracted version and the structural pass/fail verdict.
type Verifier interface {
	// Version extracts the embedded version number of the snapshot
	// at path.  Returns ErrNoVersion when none can be determined.
	Version(ctx context.Context, path string) (int, error)

	// Check reports whether the snapshot at path is structurally
	// valid.  A nil error means valid.
	Check(ctx context.Context, path string) error
}

// SigtoolVerifier inspects snapshots by invoking an external sigtool
// process.  The inspection output is expected to contain a line with a
// "Version:" token followed by the integer version, and the process
// exits 0 only for structurally valid files.
type SigtoolVerifier struct {
	// Command is the inspection binary.  Empty means "sigtool".
	Command string
}

func (v *SigtoolVerifier) command() string {
	if v.Command == "" {
		return "sigtool"
	}
	return v.Command
}

// Version implements Verifier.
func (v *SigtoolVerifier) Version(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoVersion
		}
		return 0, err
	}

	out, err := exec.CommandContext(ctx, v.command(), "--info", path).Output() // #nosec G204 - command comes from configuration, not remote input
	if err != nil {
		// inspection may still print a version for files that fail
		// the structural check; fall through to the scan
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, errors.Wrap(err, "sigtool inspection")
		}
	}

	version, ok := scanVersion(out)
	if !ok {
		return 0, ErrNoVersion
	}
	return version, nil
}

// Check implements Verifier.
func (v *SigtoolVerifier) Check(ctx context.Context, path string) error {
	err := exec.CommandContext(ctx, v.command(), "--info", path).Run() // #nosec G204 - command comes from configuration, not remote input
	if err != nil {
		return errors.Wrap(err, "sigtool rejected "+filepath.Base(path))
	}
	return nil
}

// scanVersion finds the "Version:" token in inspection output.
func scanVersion(out []byte) (int, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, found := strings.CutPrefix(line, "Version:")
		if !found {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// LocalVersion reports the version currently published for family in
// dir, or ok=false when no snapshot is present or inspectable.
func LocalVersion(ctx context.Context, v Verifier, dir string, family Family) (int, bool) {
	version, err := v.Version(ctx, filepath.Join(dir, family.SnapshotName()))
	if err != nil {
		return 0, false
	}
	return version, true
}
