package mirror

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// errAbsent marks a fetch that ended in NOT_FOUND.  It is never
// retried and never fails the run.
var errAbsent = errors.New("artifact absent upstream")

// fetcher is the downloader capability the planner drives.
type fetcher interface {
	Fetch(ctx context.Context, pool []string, name string, expected int) (Status, error)
}

// Planner decides what each family is missing and drives download and
// deployment in order.  Execution is strictly sequential; convergence
// is best effort and a family that cannot be updated is simply left
// stale until the next run.
type Planner struct {
	workDir   string
	mirrorDir string
	verifier  Verifier
	dl        fetcher
	deployer  *Deployer

	// sleep is overridable for tests.
	sleep func(time.Duration)
}

// NewPlanner constructs a Planner.
func NewPlanner(workDir, mirrorDir string, verifier Verifier, dl fetcher, deployer *Deployer) *Planner {
	return &Planner{
		workDir:   workDir,
		mirrorDir: mirrorDir,
		verifier:  verifier,
		dl:        dl,
		deployer:  deployer,
	}
}

// Sync brings every family as close to the record as the mirrors
// allow.  Families are processed in a fixed order; per-family failures
// are logged and tolerated.
func (p *Planner) Sync(ctx context.Context, pool []string, rec *Record) error {
	for _, family := range Families {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.syncFamily(ctx, pool, family, rec.Version(family))
	}
	return ctx.Err()
}

func (p *Planner) syncFamily(ctx context.Context, pool []string, family Family, remote int) {
	if family.HasDeltas() {
		p.syncDeltas(ctx, pool, family, remote)
	}
	p.syncSnapshot(ctx, pool, family, remote)
}

// syncDeltas fills the gap between the locally deployed version and
// the announced one, one diff at a time in ascending order.  Without a
// known local version there is no chain to extend and the snapshot
// alone bootstraps the family.
func (p *Planner) syncDeltas(ctx context.Context, pool []string, family Family, remote int) {
	local, ok := LocalVersion(ctx, p.verifier, p.mirrorDir, family)
	if !ok {
		slog.Debug("no local version, skipping deltas", "family", family.String())
		return
	}

	for _, version := range p.deltaBacklog(family, local, remote) {
		name := family.DeltaName(version)
		err := p.fetchAndDeploy(ctx, pool, name, 0)
		switch {
		case err == nil:
		case errors.Is(err, errAbsent):
			slog.Info("delta retired upstream", "family", family.String(), "version", version)
		default:
			// tolerated gap; the missing-file scan of a later run
			// picks this delta up again
			slog.Warn("delta update failed", "family", family.String(), "version", version, "error", err)
		}
	}
}

// deltaBacklog enumerates the versions in [local, remote] whose diff
// file is not yet published.
func (p *Planner) deltaBacklog(family Family, local, remote int) []int {
	var missing []int
	for version := local; version <= remote; version++ {
		if _, err := os.Stat(filepath.Join(p.mirrorDir, family.DeltaName(version))); err == nil {
			continue
		}
		missing = append(missing, version)
	}
	return missing
}

// syncSnapshot replaces the full database when the record announces a
// newer version than the one deployed.
func (p *Planner) syncSnapshot(ctx context.Context, pool []string, family Family, remote int) {
	local, ok := LocalVersion(ctx, p.verifier, p.mirrorDir, family)
	if ok && local >= remote {
		slog.Debug("snapshot up to date", "family", family.String(), "local", local, "remote", remote)
		return
	}

	err := p.fetchAndDeploy(ctx, pool, family.SnapshotName(), remote)
	switch {
	case err == nil:
		slog.Info("snapshot updated", "family", family.String(), "version", remote)
	case errors.Is(err, errAbsent):
		slog.Info("snapshot not present upstream", "family", family.String())
	default:
		slog.Warn("snapshot update failed, leaving family stale", "family", family.String(), "error", err)
	}
}

// fetchAndDeploy runs one bounded attempt loop for a single artifact
// and publishes it on success.  NOT_FOUND short-circuits the loop.
func (p *Planner) fetchAndDeploy(ctx context.Context, pool []string, name string, expected int) error {
	policy := RetryPolicy{
		MaxAttempts: transferAttempts,
		Delay:       retryPause,
		Sleep:       p.sleep,
		IsRetryable: func(err error) bool {
			return !errors.Is(err, errAbsent)
		},
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		status, err := p.dl.Fetch(ctx, pool, name, expected)
		switch status {
		case StatusNotFound:
			return errAbsent
		case StatusFailed:
			if err == nil {
				err = errors.New("fetch failed")
			}
			return err
		}
		return p.deployer.Deploy(filepath.Join(p.workDir, name), filepath.Join(p.mirrorDir, name))
	})
}
