package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// scriptedFetcher plays the mirror pool: each artifact name maps to a
// fixed outcome, and successful fetches write the scripted content
// into the working directory like the real downloader does.
type scriptedFetcher struct {
	workDir string
	results map[string]Status // missing entry means StatusOK
	content map[string]string // body written on success
	calls   []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ []string, name string, _ int) (Status, error) {
	f.calls = append(f.calls, name)

	switch f.results[name] {
	case StatusNotFound:
		return StatusNotFound, nil
	case StatusFailed:
		return StatusFailed, errors.New("simulated transient failure")
	}

	content := f.content[name]
	if content == "" {
		content = "data"
	}
	if err := os.WriteFile(filepath.Join(f.workDir, name), []byte(content), 0644); err != nil {
		return StatusFailed, err
	}
	return StatusOK, nil
}

func (f *scriptedFetcher) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newTestPlanner(t *testing.T) (*Planner, *scriptedFetcher, string) {
	t.Helper()
	workDir := t.TempDir()
	mirrorDir := t.TempDir()

	f := &scriptedFetcher{
		workDir: workDir,
		results: make(map[string]Status),
		content: make(map[string]string),
	}
	p := NewPlanner(workDir, mirrorDir, &fakeVerifier{}, f, &Deployer{})
	p.sleep = func(time.Duration) {}
	return p, f, mirrorDir
}

func seedFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDeltaBacklogOrder(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	seedFile(t, mirrorDir, "daily.cvd", "100")
	seedFile(t, mirrorDir, "daily-100.cdiff", "diff")
	f.content["daily.cvd"] = "103"

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyDaily, 103)

	want := []string{"daily-101.cdiff", "daily-102.cdiff", "daily-103.cdiff", "daily.cvd"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
	for i, name := range want {
		if f.calls[i] != name {
			t.Errorf("call %d = %s, want %s", i, f.calls[i], name)
		}
	}

	for _, name := range want {
		if _, err := os.Stat(filepath.Join(mirrorDir, name)); err != nil {
			t.Errorf("%s not deployed: %v", name, err)
		}
	}
}

func TestDeltaNotFoundShortCircuits(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	seedFile(t, mirrorDir, "daily.cvd", "100")
	seedFile(t, mirrorDir, "daily-100.cdiff", "diff")
	f.results["daily-101.cdiff"] = StatusNotFound
	f.content["daily.cvd"] = "103"

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyDaily, 103)

	if n := f.count("daily-101.cdiff"); n != 1 {
		t.Errorf("retired delta attempted %d times, want exactly 1", n)
	}
	// the rest of the chain is still attempted
	if f.count("daily-102.cdiff") != 1 || f.count("daily-103.cdiff") != 1 {
		t.Errorf("remaining deltas skipped: %v", f.calls)
	}
	if _, err := os.Stat(filepath.Join(mirrorDir, "daily-101.cdiff")); !os.IsNotExist(err) {
		t.Error("retired delta must not be deployed")
	}
}

func TestDeltaFailureLeavesGap(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	seedFile(t, mirrorDir, "daily.cvd", "100")
	seedFile(t, mirrorDir, "daily-100.cdiff", "diff")
	f.results["daily-102.cdiff"] = StatusFailed
	f.content["daily.cvd"] = "103"

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyDaily, 103)

	if n := f.count("daily-102.cdiff"); n != transferAttempts {
		t.Errorf("failing delta attempted %d times, want %d", n, transferAttempts)
	}
	if f.count("daily-103.cdiff") != 1 {
		t.Error("chain should continue past a failed delta")
	}
	if _, err := os.Stat(filepath.Join(mirrorDir, "daily-102.cdiff")); !os.IsNotExist(err) {
		t.Error("gap must stay a gap until a later run")
	}

	// a later run re-attempts exactly the missing delta
	f.calls = nil
	delete(f.results, "daily-102.cdiff")
	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyDaily, 103)
	if f.count("daily-102.cdiff") != 1 {
		t.Errorf("missing delta not rediscovered: %v", f.calls)
	}
	if f.count("daily-103.cdiff") != 0 {
		t.Errorf("already deployed delta re-fetched: %v", f.calls)
	}
}

func TestSnapshotSkippedWhenCurrent(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	seedFile(t, mirrorDir, "main.cvd", "62")

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyMain, 62)
	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyMain, 60)

	if len(f.calls) != 0 {
		t.Errorf("no fetch expected when local >= remote, got %v", f.calls)
	}
}

func TestSnapshotBootstrapWithoutDeltas(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	f.content["daily.cvd"] = "5"

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilyDaily, 5)

	if len(f.calls) != 1 || f.calls[0] != "daily.cvd" {
		t.Fatalf("bootstrap must fetch only the snapshot, got %v", f.calls)
	}
	got, err := os.ReadFile(filepath.Join(mirrorDir, "daily.cvd"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "5" {
		t.Errorf("deployed snapshot content = %q", got)
	}
}

func TestSnapshotNotFoundTolerated(t *testing.T) {
	t.Parallel()

	p, f, _ := newTestPlanner(t)
	f.results["safebrowsing.cvd"] = StatusNotFound

	p.syncFamily(context.Background(), []string{"192.0.2.1"}, FamilySafebrowsing, 49192)

	if n := f.count("safebrowsing.cvd"); n != 1 {
		t.Errorf("absent snapshot attempted %d times, want 1", n)
	}
}

func TestSyncEndToEnd(t *testing.T) {
	t.Parallel()

	p, f, mirrorDir := newTestPlanner(t)
	deployer := &Deployer{}

	// daily sits at version 1, everything else is already current
	seedFile(t, mirrorDir, "daily.cvd", "1")
	seedFile(t, mirrorDir, "daily-1.cdiff", "diff")
	seedFile(t, mirrorDir, "main.cvd", "62")
	seedFile(t, mirrorDir, "bytecode.cvd", "333")
	seedFile(t, mirrorDir, "bytecode-333.cdiff", "diff")
	seedFile(t, mirrorDir, "safebrowsing.cvd", "49192")
	seedFile(t, mirrorDir, "safebrowsing-49192.cdiff", "diff")
	f.content["daily.cvd"] = "5"

	rec, err := ParseRecord("0.103.8:62:5:0:0:0:49192:333")
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Sync(context.Background(), []string{"192.0.2.1"}, rec); err != nil {
		t.Fatal(err)
	}
	wrote, err := deployer.PublishRecord(mirrorDir, rec.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if !wrote {
		t.Error("first record publish must write")
	}

	for _, name := range []string{
		"daily.cvd", "daily-2.cdiff", "daily-3.cdiff", "daily-4.cdiff", "daily-5.cdiff",
	} {
		if _, err := os.Stat(filepath.Join(mirrorDir, name)); err != nil {
			t.Errorf("%s missing from mirror: %v", name, err)
		}
	}
	got, err := os.ReadFile(filepath.Join(mirrorDir, RecordFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != rec.Raw {
		t.Errorf("dns.txt = %q, want %q", got, rec.Raw)
	}

	// a second pass with no upstream change is a no-op
	f.calls = nil
	if err := p.Sync(context.Background(), []string{"192.0.2.1"}, rec); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 {
		t.Errorf("idempotent run fetched %v", f.calls)
	}
	wrote, err = deployer.PublishRecord(mirrorDir, rec.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("unchanged record must not be rewritten")
	}
}
