package fetch

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Request describes one download.
type Request struct {
	URL string
	// Checksum is the expected hex SHA-512. When empty and ChecksumURL is
	// set, the expected value is read from that sidecar.
	Checksum    string
	ChecksumURL string
}

// Result describes a finished download.
type Result struct {
	Size     int64
	SHA512   string
	Verified bool // false only when no checksum was available
}

// Download streams req.URL into dst and verifies it. On any error dst is
// removed.
func (c *Client) Download(ctx context.Context, req Request, dst string) (res Result, retErr error) {
	defer func() {
		if retErr != nil {
			_ = os.Remove(dst)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	expected := strings.ToLower(strings.TrimSpace(req.Checksum))
	if expected == "" && req.ChecksumURL != "" {
		g.Go(func() error {
			sum, err := c.sidecarChecksum(gctx, req.ChecksumURL, path.Base(stripQuery(req.URL)))
			expected = sum
			return err
		})
	}

	var size int64
	var actual string
	g.Go(func() error {
		var err error
		size, actual, err = c.stream(gctx, req.URL, dst)
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res = Result{Size: size, SHA512: actual}
	if expected == "" {
		c.log.Warn("no checksum available, download not verified", "url", req.URL)
		return res, nil
	}
	if expected != actual {
		return Result{}, fmt.Errorf("%w: %s: sha512 %s, want %s", ErrIntegrity, req.URL, actual, expected)
	}
	res.Verified = true
	return res, nil
}

// stream writes url to dst, retrying transient failures from the start.
func (c *Client) stream(ctx context.Context, url, dst string) (int64, string, error) {
	var (
		size int64
		sum  string
	)
	err := c.withRetry(ctx, url, func() error {
		resp, err := c.do(ctx, url)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644) //nolint:gosec // staging path owned by the cache
		if err != nil {
			return fmt.Errorf("create %s: %w", dst, err)
		}
		h := sha512.New()
		n, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
		closeErr := f.Close()
		if copyErr != nil {
			return classify(url, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close %s: %w", dst, closeErr)
		}
		if resp.ContentLength >= 0 && n != resp.ContentLength {
			return fmt.Errorf("%w: GET %s: got %d of %d bytes", ErrTransientFetch, url, n, resp.ContentLength)
		}
		size, sum = n, hexSum(h)
		return nil
	})
	return size, sum, err
}

// sidecarChecksum fetches a ".sha512" file. A missing sidecar yields ""; one
// that does not list file is an integrity failure.
func (c *Client) sidecarChecksum(ctx context.Context, url, file string) (string, error) {
	data, err := c.Get(ctx, url)
	if IsNotFound(err) {
		c.log.Warn("checksum sidecar not found, skipping verification", "url", url)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch checksum: %w", err)
	}
	return ParseChecksumSidecar(data, file)
}

// ParseChecksumSidecar finds the SHA-512 for file in sha512sum output. A
// sidecar holding a single bare digest applies to any file.
func ParseChecksumSidecar(data []byte, file string) (string, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		switch {
		case len(fields) == 1 && len(lines) == 1 && isSHA512(fields[0]):
			return strings.ToLower(fields[0]), nil
		case len(fields) == 2 && isSHA512(fields[0]):
			name := path.Base(strings.TrimPrefix(fields[1], "*"))
			if name == file {
				return strings.ToLower(fields[0]), nil
			}
		}
	}
	return "", fmt.Errorf("%w: checksum sidecar has no entry for %s", ErrIntegrity, file)
}

func isSHA512(s string) bool {
	if len(s) != sha512.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

func stripQuery(url string) string {
	u, _, _ := strings.Cut(url, "?")
	return u
}
