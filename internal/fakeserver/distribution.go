package fakeserver

import (
	"archive/tar"
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Distribution is a fake release server. Every .tgz path serves the same
// archive; the matching .sha512 path serves its checksum line.
type Distribution struct {
	Archive []byte

	// CorruptChecksum makes sidecars advertise a wrong digest.
	CorruptChecksum atomic.Bool
	// Delay is added before each archive response.
	Delay atomic.Int64

	downloads atomic.Int32
	srv       *httptest.Server
}

// NewDistribution serves an archive whose clickhouse binary execs bin.
func NewDistribution(bin string) (*Distribution, error) {
	archive, err := Archive(bin)
	if err != nil {
		return nil, err
	}
	d := &Distribution{Archive: archive}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	return d, nil
}

// URL is the base URL to use as a release download location.
func (d *Distribution) URL() string {
	return d.srv.URL
}

// Downloads counts archive responses.
func (d *Distribution) Downloads() int {
	return int(d.downloads.Load())
}

// Close stops the server.
func (d *Distribution) Close() {
	d.srv.Close()
}

func (d *Distribution) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, ".tgz.sha512"):
		sum := sha512.Sum512(d.Archive)
		digest := hex.EncodeToString(sum[:])
		if d.CorruptChecksum.Load() {
			digest = strings.Repeat("0", len(digest))
		}
		fmt.Fprintf(w, "%s  %s\n", digest, path.Base(strings.TrimSuffix(r.URL.Path, ".sha512")))
	case strings.HasSuffix(r.URL.Path, ".tgz"):
		if delay := time.Duration(d.Delay.Load()); delay > 0 {
			time.Sleep(delay)
		}
		d.downloads.Add(1)
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(d.Archive)
	default:
		http.NotFound(w, r)
	}
}

// Archive builds a release-shaped tar.gz whose
// clickhouse-common-static/usr/bin/clickhouse runs bin.
func Archive(bin string) ([]byte, error) {
	script := fmt.Sprintf("#!/bin/sh\nexec '%s' \"$@\"\n", strings.ReplaceAll(bin, "'", `'\''`))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	mtime := time.Unix(1700000000, 0)
	entries := []*tar.Header{
		{Name: "clickhouse-common-static/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime},
		{Name: "clickhouse-common-static/usr/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime},
		{Name: "clickhouse-common-static/usr/bin/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mtime},
		{Name: "clickhouse-common-static/usr/bin/clickhouse", Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(script)), ModTime: mtime},
	}
	for _, hdr := range entries {
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write %s: %w", hdr.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(script)); err != nil {
				return nil, fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
