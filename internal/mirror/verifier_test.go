package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestScanVersion(t *testing.T) {
	t.Parallel()

	out := []byte(`File: daily.cvd
Build time: 19 Oct 2023 04:29 -0400
Version: 27160
Signatures: 2043747
Verification OK.
`)
	v, ok := scanVersion(out)
	if !ok {
		t.Fatal("version not found")
	}
	if v != 27160 {
		t.Errorf("version = %d, want 27160", v)
	}

	if _, ok := scanVersion([]byte("no version here\n")); ok {
		t.Error("found a version in output without one")
	}
	if _, ok := scanVersion([]byte("Version: not-a-number\n")); ok {
		t.Error("accepted a non-numeric version")
	}
}

func TestSigtoolVerifierMissingFile(t *testing.T) {
	t.Parallel()

	v := &SigtoolVerifier{}
	_, err := v.Version(context.Background(), filepath.Join(t.TempDir(), "daily.cvd"))
	if !errors.Is(err, ErrNoVersion) {
		t.Errorf("err = %v, want ErrNoVersion", err)
	}
}

// writeStub creates an executable stub standing in for sigtool.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sigtool")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil { // #nosec G306 - test stub must be executable
		t.Fatal(err)
	}
	return path
}

func TestSigtoolVerifierValidFile(t *testing.T) {
	t.Parallel()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	v := &SigtoolVerifier{Command: writeStub(t, "#!/bin/sh\necho 'File: daily.cvd'\necho 'Version: 42'\nexit 0\n")}
	target := filepath.Join(t.TempDir(), "daily.cvd")
	if err := os.WriteFile(target, []byte("blob"), 0644); err != nil {
		t.Fatal(err)
	}

	version, err := v.Version(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if version != 42 {
		t.Errorf("version = %d, want 42", version)
	}
	if err := v.Check(context.Background(), target); err != nil {
		t.Error("valid file rejected:", err)
	}
}

func TestSigtoolVerifierInvalidFile(t *testing.T) {
	t.Parallel()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	// inspection still prints a version but the file fails the check
	v := &SigtoolVerifier{Command: writeStub(t, "#!/bin/sh\necho 'Version: 7'\nexit 1\n")}
	target := filepath.Join(t.TempDir(), "daily.cvd")
	if err := os.WriteFile(target, []byte("blob"), 0644); err != nil {
		t.Fatal(err)
	}

	version, err := v.Version(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	if version != 7 {
		t.Errorf("version = %d, want 7", version)
	}
	if err := v.Check(context.Background(), target); err == nil {
		t.Error("invalid file passed the structural check")
	}
}

func TestLocalVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := &fakeVerifier{}

	if _, ok := LocalVersion(context.Background(), v, dir, FamilyDaily); ok {
		t.Error("absent snapshot must report no local version")
	}

	if err := os.WriteFile(filepath.Join(dir, "daily.cvd"), []byte("27160"), 0644); err != nil {
		t.Fatal(err)
	}
	version, ok := LocalVersion(context.Background(), v, dir, FamilyDaily)
	if !ok {
		t.Fatal("expected a local version")
	}
	if version != 27160 {
		t.Errorf("version = %d, want 27160", version)
	}
}
