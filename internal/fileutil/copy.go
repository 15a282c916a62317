package fileutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrEmptySrc is returned when a source path is empty.
const ErrEmptySrc = sentinel.Error("source path must not be empty")

// ErrEmptyDst is returned when a destination path is empty.
const ErrEmptyDst = sentinel.Error("destination path must not be empty")

// CopyFile copies src to dst with the given permission bits. The copy is
// written to a temp file next to dst, synced and renamed into place, so dst is
// either absent, the previous content, or the complete copy.
func CopyFile(src, dst string, mode os.FileMode) error {
	if src == "" {
		return ErrEmptySrc
	}
	if dst == "" {
		return ErrEmptyDst
	}

	srcFile, err := os.Open(src) //nolint:gosec // G304: caller-supplied binary path
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = srcFile.Close() }()

	return writeAtomic(dst, mode, func(w io.Writer) error {
		if _, err := io.Copy(w, srcFile); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil
	})
}

// WriteFileAtomic writes data to path via temp file, fsync and rename.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	if path == "" {
		return ErrEmptyDst
	}
	return writeAtomic(path, mode, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// writeAtomic creates a temp file in dst's directory, lets fill write the
// content, then syncs, closes and renames it to dst. The temp file is removed
// on every failure path.
func writeAtomic(dst string, mode os.FileMode, fill func(io.Writer) error) (retErr error) {
	if err := EnsureDirForFile(dst); err != nil {
		return fmt.Errorf("prepare destination: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// CreateTemp uses 0600; Chmod is not subject to the umask.
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}
