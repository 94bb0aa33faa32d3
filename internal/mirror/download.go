package mirror

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
)

// Status classifies the outcome of a pool fetch.
type Status int

const (
	// StatusOK means the artifact was fetched, verified and written
	// into the working directory.
	StatusOK Status = iota

	// StatusNotFound means a mirror confirmed the artifact does not
	// exist upstream.  Never retried at any layer.
	StatusNotFound

	// StatusFailed means every attempt ended in a transient error
	// (network, timeout, or verification mismatch).
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

const (
	// fetchBudget caps the total requests issued for one artifact,
	// across all pool members.
	fetchBudget = 10

	// addrRetries is how many consecutive tries one address gets
	// before the loop moves to the next pool member.
	addrRetries = 2

	httpTimeout = 2 * time.Second
)

// Downloader fetches artifacts from the mirror pool into the working
// directory, failing over across pool members and verifying snapshots
// before declaring success.
type Downloader struct {
	client   *http.Client
	host     string
	workDir  string
	verifier Verifier
	quiet    bool

	// onReject is called when a downloaded snapshot fails the
	// acceptance gate, before the failure surfaces to the caller.
	onReject func(name string, reason error)
}

// NewDownloader creates a Downloader writing into workDir.  host is
// sent as the Host header so that address-based requests reach the
// right virtual host.
func NewDownloader(workDir, host string, verifier Verifier, quiet bool) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: httpTimeout},
		host:     host,
		workDir:  workDir,
		verifier: verifier,
		quiet:    quiet,
		onReject: func(name string, reason error) {
			slog.Warn("rejected download", "name", name, "reason", reason)
		},
	}
}

// Fetch downloads the named artifact from the pool.  The pool order is
// shuffled per call; each address gets a bounded number of tries and
// the whole call is capped by an overall attempt budget.  When
// expected is positive the downloaded file must carry that exact
// version and pass the structural check before StatusOK is returned.
//
// On StatusOK the artifact is available at workDir/name.
func (d *Downloader) Fetch(ctx context.Context, pool []string, name string, expected int) (Status, error) {
	if len(pool) == 0 {
		return StatusFailed, errors.New("empty mirror pool")
	}

	shuffled := make([]string, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var lastErr error
	attempts := 0
	for _, addr := range shuffled {
		for try := 0; try < addrRetries; try++ {
			if attempts >= fetchBudget {
				return StatusFailed, lastErr
			}
			attempts++

			if err := ctx.Err(); err != nil {
				return StatusFailed, err
			}

			status, err := d.fetchOne(ctx, addr, name, expected)
			switch status {
			case StatusOK:
				return StatusOK, nil
			case StatusNotFound:
				slog.Info("artifact not present upstream", "name", name, "mirror", addr)
				return StatusNotFound, nil
			}

			lastErr = err
			slog.Debug("fetch attempt failed", "name", name, "mirror", addr, "attempt", attempts, "error", err)
		}
	}
	return StatusFailed, lastErr
}

// fetchOne issues a single request against one pool member.
func (d *Downloader) fetchOne(ctx context.Context, addr, name string, expected int) (Status, error) {
	u := &url.URL{Scheme: "http", Host: addr, Path: "/" + name}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return StatusFailed, err
	}
	req.Host = d.host

	resp, err := d.client.Do(req)
	if err != nil {
		return StatusFailed, err
	}
	defer closeRespBody(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return StatusNotFound, nil
	case resp.StatusCode != http.StatusOK:
		return StatusFailed, errors.Newf("status %d from %s for %s", resp.StatusCode, addr, name)
	}

	tmp, err := os.CreateTemp(d.workDir, "_tmp")
	if err != nil {
		return StatusFailed, err
	}
	defer closeAndRemoveFile(tmp)

	var body io.Reader = resp.Body
	var bar *pb.ProgressBar
	if !d.quiet && resp.ContentLength > 0 {
		bar = pb.Full.Start64(resp.ContentLength)
		body = bar.NewProxyReader(resp.Body)
	}
	_, err = io.Copy(tmp, body)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return StatusFailed, errors.Wrap(err, "reading body from "+addr)
	}
	if err := tmp.Sync(); err != nil {
		return StatusFailed, err
	}

	if expected > 0 {
		if err := d.accept(ctx, tmp.Name(), expected); err != nil {
			d.onReject(name, err)
			return StatusFailed, err
		}
	}

	dest := filepath.Join(d.workDir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return StatusFailed, err
	}

	slog.Debug("artifact downloaded", "name", name, "mirror", addr)
	return StatusOK, nil
}

// accept is the gate between "bytes arrived" and "fetch succeeded":
// the embedded version must match and the file must be structurally
// valid.
func (d *Downloader) accept(ctx context.Context, path string, expected int) error {
	version, err := d.verifier.Version(ctx, path)
	if err != nil {
		return errors.Wrap(err, "version extraction")
	}
	if version != expected {
		return errors.Newf("version mismatch: got %d, want %d", version, expected)
	}
	if err := d.verifier.Check(ctx, path); err != nil {
		return errors.Wrap(err, "structural check")
	}
	return nil
}

// closeRespBody closes an HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// closeAndRemoveFile closes and removes a temporary file.  Removal of
// an already renamed file fails silently.
func closeAndRemoveFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Debug("failed to close temp file", "file", f.Name(), "error", err)
	}
	_ = os.Remove(f.Name())
}
