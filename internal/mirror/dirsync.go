package mirror

import "os"

// DirSync calls fsync(2) on the directory to persist entry changes.
//
// This should be called after os.Create, os.Rename and so on.
func DirSync(d string) error {
	f, err := os.OpenFile(d, os.O_RDONLY, 0755) // #nosec G304,G302 - directory comes from validated configuration
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
