// Package persistence implements the two storage primitives segment and
// metadata files build on (spec §4.7): append (open-append-write, optional
// fsync) and overwrite (write-temp-then-rename, always atomic).
package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// Persister is implemented by both the append-log and overwrite-metadata
// storage primitives; dependents hold the interface so tests can swap in
// an in-memory fake without touching a real filesystem.
type Persister interface {
	Append(path string, data []byte, fsync bool) error
	Overwrite(path string, data []byte) error
	Delete(path string) error
}

// FilePersister is the default Persister, backed directly by the OS
// filesystem.
type FilePersister struct{}

// NewFilePersister returns a FilePersister.
func NewFilePersister() *FilePersister { return &FilePersister{} }

// Append opens path for append (creating it if necessary), writes data, and
// optionally fsyncs before returning. A failed append or fsync is mapped to
// IoError so the caller's partition can mark itself unavailable rather than
// crash the process (spec §7 propagation policy).
func (p *FilePersister) Append(path string, data []byte, fsync bool) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("open %s for append", path), err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("write %s", path), err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			return ierror.Wrap(ierror.IoError, fmt.Sprintf("fsync %s", path), err)
		}
	}
	return nil
}

// Overwrite atomically replaces path's contents by writing to a temp file
// in the same directory and renaming over the target.
func (p *FilePersister) Overwrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("mkdir %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ierror.Wrap(ierror.IoError, "create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("write temp file for %s", path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("fsync temp file for %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("close temp file for %s", path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("rename into %s", path), err)
	}
	return nil
}

// Delete removes path, tolerating a missing file.
func (p *FilePersister) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ierror.Wrap(ierror.IoError, fmt.Sprintf("delete %s", path), err)
	}
	return nil
}
