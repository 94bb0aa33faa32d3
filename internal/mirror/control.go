package mirror

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const lockFilename = "cvdmirror.lock"

// Run performs one synchronization pass.
//
// The first thing to do is to acquire flock on the lock file; a
// concurrent instance makes Run fail immediately with ErrLocked.  The
// pass then resolves the mirror pool, fetches the version record, and
// updates every family best effort.  As long as resolution and the
// record succeed, Run returns nil even when some families stayed
// stale.
func Run(ctx context.Context, config *Config, quiet bool) error {
	release, err := acquireLock(config.LockDir)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(config.WorkDir, 0750); err != nil {
		return errors.Wrap(err, "work_dir")
	}
	if err := os.MkdirAll(config.MirrorDir, 0755); err != nil { // #nosec G301 - the mirror directory is served publicly
		return errors.Wrap(err, "mirror_dir")
	}

	resolver := NewResolver(config.DNSDomain)
	pool, err := resolver.ResolvePool(ctx, config.MirrorHost)
	if err != nil {
		return err
	}
	slog.Info("mirror pool resolved", "addresses", len(pool))

	rec, err := FetchRecord(ctx, resolver, config.TXTHost)
	if err != nil {
		return err
	}
	slog.Info("version record fetched", "main", rec.Main, "daily", rec.Daily,
		"bytecode", rec.Bytecode, "safebrowsing", rec.Safebrowsing)

	verifier := &SigtoolVerifier{Command: config.SigtoolCommand}
	downloader := NewDownloader(config.WorkDir, config.MirrorHost, verifier, quiet)
	deployer := &Deployer{Owner: config.DeployUser, Group: config.DeployGroup}
	planner := NewPlanner(config.WorkDir, config.MirrorDir, verifier, downloader, deployer)

	if err := planner.Sync(ctx, pool, rec); err != nil {
		return err
	}

	if _, err := deployer.PublishRecord(config.MirrorDir, rec.Raw); err != nil {
		return err
	}

	slog.Info("sync complete")
	return nil
}

// acquireLock takes the non-blocking run lock and returns its release
// function.  The release runs on every exit path of the caller.
func acquireLock(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "lock_dir")
	}
	lockFile := filepath.Join(dir, lockFilename)

	file, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE, 0644) // #nosec G304,G302 - path is lock_dir + constant name
	if err != nil {
		return nil, err
	}

	lock := Flock{file}
	if err := lock.Lock(); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close lock file", "error", closeErr)
		}
		return nil, errors.Mark(errors.Wrap(err, "run lock held"), ErrLocked)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to unlock run lock", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
		if err := os.Remove(lockFile); err != nil {
			slog.Warn("failed to remove lock file", "path", lockFile, "error", err)
		}
	}, nil
}
