package mirror

import (
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
)

const (
	// RecordFile holds the last published version announcement,
	// verbatim, inside the mirror directory.
	RecordFile = "dns.txt"

	publishMode = 0644
)

// Deployer moves verified artifacts from the working directory into
// the published mirror directory and maintains the record file.
type Deployer struct {
	// Owner and Group name the desired ownership of deployed files.
	// Empty means leave ownership alone.  Application is best effort.
	Owner string
	Group string
}

// Deploy publishes the file at src to dst.  Within one filesystem the
// move is an atomic rename; across filesystems it degrades to a copy
// into a temp file next to dst followed by a rename, so a partially
// written file is never visible at dst.
func (d *Deployer) Deploy(src, dst string) error {
	err := os.Rename(src, dst)
	if err != nil {
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) {
			return errors.Wrap(err, "deploy "+dst)
		}
		if err := copyThenRename(src, dst); err != nil {
			return errors.Wrap(err, "deploy "+dst)
		}
		_ = os.Remove(src)
	}

	if err := os.Chmod(dst, publishMode); err != nil {
		return errors.Wrap(err, "deploy "+dst)
	}
	d.applyOwnership(dst)

	if err := DirSync(filepath.Dir(dst)); err != nil {
		return errors.Wrap(err, "deploy "+dst)
	}

	slog.Info("deployed", "file", filepath.Base(dst))
	return nil
}

// PublishRecord writes the record file only when its content would
// change, comparing SHA-256 of the current file (empty hash when
// absent) against the new record.  Returns whether a write happened.
func (d *Deployer) PublishRecord(dir, record string) (bool, error) {
	path := filepath.Join(dir, RecordFile)

	current, err := os.ReadFile(path) // #nosec G304 - path is mirror_dir + constant name
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrap(err, "reading "+RecordFile)
	}
	if sha256.Sum256(current) == sha256.Sum256([]byte(record)) {
		slog.Debug("record unchanged", "file", RecordFile)
		return false, nil
	}

	tmp, err := os.CreateTemp(dir, "_tmp")
	if err != nil {
		return false, err
	}
	defer closeAndRemoveFile(tmp)

	if _, err := tmp.WriteString(record); err != nil {
		return false, err
	}
	if err := tmp.Sync(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmp.Name(), publishMode); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, err
	}
	d.applyOwnership(path)

	if err := DirSync(dir); err != nil {
		return false, err
	}

	slog.Info("published record", "file", RecordFile)
	return true, nil
}

// applyOwnership applies the configured user/group to path.  This is a
// convenience for serving setups, not a correctness requirement, so
// every failure is swallowed after logging.
func (d *Deployer) applyOwnership(path string) {
	if d.Owner == "" && d.Group == "" {
		return
	}

	uid, gid := -1, -1
	if d.Owner != "" {
		u, err := user.Lookup(d.Owner)
		if err != nil {
			slog.Debug("cannot resolve deploy user", "user", d.Owner, "error", err)
		} else if id, err := strconv.Atoi(u.Uid); err == nil {
			uid = id
		}
	}
	if d.Group != "" {
		g, err := user.LookupGroup(d.Group)
		if err != nil {
			slog.Debug("cannot resolve deploy group", "group", d.Group, "error", err)
		} else if id, err := strconv.Atoi(g.Gid); err == nil {
			gid = id
		}
	}
	if uid == -1 && gid == -1 {
		return
	}
	if err := os.Chown(path, uid, gid); err != nil {
		slog.Debug("cannot apply ownership", "path", path, "error", err)
	}
}

// copyThenRename copies src into a temp file in dst's directory and
// renames it into place.
func copyThenRename(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src lives in the working directory
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			slog.Debug("failed to close source file", "file", src, "error", err)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "_tmp")
	if err != nil {
		return err
	}
	defer closeAndRemoveFile(tmp)

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
