package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates path and its parents with mode 0755.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath.
func EnsureDirForFile(filePath string) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", filePath, err)
	}
	return nil
}

// MkdirUnique creates base if needed and then a new directory inside it whose
// name starts with prefix. Two calls never return the same directory, even
// from different processes.
func MkdirUnique(base, prefix string) (string, error) {
	if err := EnsureDir(base); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(base, prefix)
	if err != nil {
		return "", fmt.Errorf("create unique directory in %s: %w", base, err)
	}
	return dir, nil
}
