package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		mode    os.FileMode
		preDst  string // existing destination content, empty means none
	}{
		"executable binary": {content: "#!/bin/sh\nexit 0\n", mode: 0o755},
		"read only file":    {content: "data", mode: 0o444},
		"empty file":        {content: "", mode: 0o644},
		"overwrites":        {content: "new", mode: 0o644, preDst: "old content"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			if err := os.WriteFile(src, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			dst := filepath.Join(dir, "nested", "bin", "clickhouse")
			if tc.preDst != "" {
				if err := EnsureDirForFile(dst); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(dst, []byte(tc.preDst), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			if err := CopyFile(src, dst, tc.mode); err != nil {
				t.Fatalf("CopyFile() error: %v", err)
			}

			got, err := os.ReadFile(dst) //nolint:gosec // test path
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.content {
				t.Errorf("content = %q, want %q", got, tc.content)
			}
			info, err := os.Stat(dst)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != tc.mode {
				t.Errorf("mode = %v, want %v", info.Mode().Perm(), tc.mode)
			}
			assertNoTempFiles(t, filepath.Dir(dst))
		})
	}
}

func TestCopyFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := map[string]struct {
		src, dst string
		wantIs   error
	}{
		"empty source":      {src: "", dst: filepath.Join(dir, "x"), wantIs: ErrEmptySrc},
		"empty destination": {src: filepath.Join(dir, "x"), dst: "", wantIs: ErrEmptyDst},
		"missing source":    {src: filepath.Join(dir, "missing"), dst: filepath.Join(dir, "y"), wantIs: os.ErrNotExist},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := CopyFile(tc.src, tc.dst, 0o644)
			if !errors.Is(err, tc.wantIs) {
				t.Fatalf("CopyFile() error = %v, want %v", err, tc.wantIs)
			}
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "entry", ".chenv-complete")

	for _, content := range []string{"first", "second"} {
		if err := WriteFileAtomic(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFileAtomic(%q) error: %v", content, err)
		}
		got, err := os.ReadFile(path) //nolint:gosec // test path
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != content {
			t.Errorf("content = %q, want %q", got, content)
		}
	}
	assertNoTempFiles(t, filepath.Dir(path))

	if err := WriteFileAtomic("", nil, 0o644); !errors.Is(err, ErrEmptyDst) {
		t.Errorf("WriteFileAtomic(\"\") error = %v, want %v", err, ErrEmptyDst)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}
