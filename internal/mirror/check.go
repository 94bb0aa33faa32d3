package mirror

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Check verifies every published snapshot structurally.  It is a
// read-only diagnostic and may inspect the families concurrently; the
// sync path itself never does.
func Check(ctx context.Context, config *Config) error {
	verifier := &SigtoolVerifier{Command: config.SigtoolCommand}

	group, ctx := errgroup.WithContext(ctx)
	for _, family := range Families {
		family := family
		group.Go(func() error {
			path := filepath.Join(config.MirrorDir, family.SnapshotName())
			if _, err := os.Stat(path); os.IsNotExist(err) {
				slog.Info("snapshot not published", "family", family.String())
				return nil
			}

			if err := verifier.Check(ctx, path); err != nil {
				return errors.Wrap(err, family.String())
			}
			version, err := verifier.Version(ctx, path)
			if err != nil {
				return errors.Wrap(err, family.String())
			}

			slog.Info("snapshot valid", "family", family.String(), "version", version)
			return nil
		})
	}
	return group.Wait()
}
