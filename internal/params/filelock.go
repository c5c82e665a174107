package params

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// The parameter files may be shared with sibling processes (manual tooling,
// a second engine instance during rollover), so every access goes through an
// advisory lock on a sidecar lock file: shared for reads, exclusive for the
// whole read-modify-write-truncate cycle.

func withFileLock(path string, exclusive bool, fn func() error) error {
	lockPath := path + ".lock"
	if dir := filepath.Dir(lockPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	lock := flock.New(lockPath)
	var err error
	if exclusive {
		err = lock.Lock()
	} else {
		err = lock.RLock()
	}
	if err != nil {
		return err
	}
	defer lock.Unlock()

	return fn()
}

// writeFileAtomic writes via a temp file and rename so readers never observe
// a half-written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
