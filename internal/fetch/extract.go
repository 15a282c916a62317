package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Extract unpacks the tar.gz at archive into dst, which must exist. Entries
// with absolute paths, ".." escapes or link targets outside dst are rejected
// with ErrArchive; nothing is sanitised. Permission bits are preserved.
func Extract(archive, dst string) error {
	f, err := os.Open(archive) //nolint:gosec // staging path owned by the cache
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArchive, filepath.Base(archive), err)
	}
	defer func() { _ = gz.Close() }()

	// Directory modes are applied last so a read-only directory does not
	// block writing its children.
	type dirMode struct {
		path string
		mode os.FileMode
	}
	var dirs []dirMode

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read tar header: %w", ErrArchive, err)
		}

		name, err := entryPath(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dst, name)
		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", name, err)
			}
			dirs = append(dirs, dirMode{path: target, mode: mode})

		case tar.TypeReg:
			if err := writeEntry(tr, target, mode); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}

		case tar.TypeSymlink:
			if err := checkLinkTarget(name, hdr.Linkname, true); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", name, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", name, err)
			}

		case tar.TypeLink:
			if err := checkLinkTarget(name, hdr.Linkname, false); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", name, err)
			}
			if err := os.Link(filepath.Join(dst, filepath.FromSlash(hdr.Linkname)), target); err != nil {
				return fmt.Errorf("create hard link %s: %w", name, err)
			}

		default:
			// Devices, FIFOs and other specials are not part of a
			// distribution.
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chmod(dirs[i].path, dirs[i].mode); err != nil {
			return fmt.Errorf("chmod %s: %w", dirs[i].path, err)
		}
	}
	return nil
}

// entryPath validates a tar entry name and returns it in OS form. The
// archive root itself ("." or "./") yields "".
func entryPath(name string) (string, error) {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrArchive, name)
	}
	clean := strings.TrimPrefix(name, "./")
	if clean == "" || clean == "." || clean == "./" {
		return "", nil
	}
	local := filepath.FromSlash(strings.TrimSuffix(clean, "/"))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: path %q escapes the destination", ErrArchive, name)
	}
	return local, nil
}

// checkLinkTarget rejects link targets outside the archive root. Symlink
// targets are relative to the link's directory, hard link targets to the
// root.
func checkLinkTarget(name, linkname string, symlink bool) error {
	if linkname == "" || strings.HasPrefix(linkname, "/") || filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: link %q has absolute or empty target %q", ErrArchive, name, linkname)
	}
	resolved := filepath.FromSlash(linkname)
	if symlink {
		resolved = filepath.Join(filepath.Dir(name), resolved)
	}
	if !filepath.IsLocal(resolved) {
		return fmt.Errorf("%w: link %q target %q escapes the destination", ErrArchive, name, linkname)
	}
	return nil
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // target validated by entryPath
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrArchive, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	// Chmod after writing so the umask does not strip bits.
	return os.Chmod(target, mode)
}

// binaryCandidates are where distributions keep the server binary, relative
// to the extraction root or its single top-level directory.
var binaryCandidates = []string{
	filepath.Join("usr", "bin", "clickhouse"),
	filepath.Join("bin", "clickhouse"),
	"clickhouse",
}

// FindBinary locates the clickhouse executable under root. Official archives
// nest it as clickhouse-common-static-<version>/usr/bin/clickhouse.
func FindBinary(root string) (string, error) {
	if p, ok := findIn(root); ok {
		return p, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if p, ok := findIn(filepath.Join(root, e.Name())); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no clickhouse binary in %s", ErrArchive, root)
}

func findIn(dir string) (string, bool) {
	for _, c := range binaryCandidates {
		p := filepath.Join(dir, c)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
