package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/giantswarm/chenv/internal/sentinel"
)

const (
	// ErrTransientFetch marks failures worth retrying: timeouts, resets,
	// refused connections, truncated bodies, HTTP 408, 429 and 5xx.
	ErrTransientFetch = sentinel.Error("transient fetch failure")

	// ErrPermanentFetch marks failures retrying cannot fix, such as HTTP 404.
	ErrPermanentFetch = sentinel.Error("permanent fetch failure")

	// ErrIntegrity is returned when downloaded bytes do not match the
	// expected SHA-512.
	ErrIntegrity = sentinel.Error("integrity check failed")

	// ErrArchive is returned for malformed or unsafe archives.
	ErrArchive = sentinel.Error("invalid archive")
)

// StatusError is an unexpected HTTP response status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// classify wraps err with ErrTransientFetch or ErrPermanentFetch. Context
// errors are returned unchanged so they are never retried.
func classify(url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrTransientFetch) || errors.Is(err, ErrPermanentFetch) {
		return err
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.Transient() {
			return fmt.Errorf("%w: %w", ErrTransientFetch, err)
		}
		return fmt.Errorf("%w: %w", ErrPermanentFetch, err)
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		utilnet.IsConnectionReset(err),
		utilnet.IsConnectionRefused(err),
		utilnet.IsProbableEOF(err),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: GET %s: %w", ErrTransientFetch, url, err)
	}
	return fmt.Errorf("%w: GET %s: %w", ErrPermanentFetch, url, err)
}
