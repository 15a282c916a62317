package fetch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// Retry defaults for transient failures.
const (
	DefaultRetryAttempts = 3
	DefaultRetryInitial  = 500 * time.Millisecond
	DefaultRetryFactor   = 2.0
	DefaultRetryJitter   = 0.1
)

// maxDocumentSize bounds Get responses (indexes, sidecars).
const maxDocumentSize = 16 << 20

const projectURL = "https://github.com/giantswarm/chenv"

// RetryPolicy controls transient-failure retries. Attempts counts the first
// try, so 1 disables retrying.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Factor   float64
	Jitter   float64
}

// DefaultRetryPolicy returns 3 attempts with 500ms, 1s backoff and 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: DefaultRetryAttempts,
		Initial:  DefaultRetryInitial,
		Factor:   DefaultRetryFactor,
		Jitter:   DefaultRetryJitter,
	}
}

func (p RetryPolicy) backoff() wait.Backoff {
	return wait.Backoff{
		Steps:    max(p.Attempts, 1),
		Duration: p.Initial,
		Factor:   p.Factor,
		Jitter:   p.Jitter,
	}
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	HTTPClient *http.Client
	UserAgent  string
	Retry      RetryPolicy
	Logger     *slog.Logger
}

// Client fetches distributions and small documents over HTTP(S).
type Client struct {
	http      *http.Client
	userAgent string
	retry     RetryPolicy
	log       *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		http:      cfg.HTTPClient,
		userAgent: cmp.Or(cfg.UserAgent, DefaultUserAgent()),
		retry:     cfg.Retry,
		log:       cfg.Logger,
	}
	if c.http == nil {
		// No client-level timeout: downloads are bounded by their context.
		c.http = &http.Client{}
	}
	if c.retry == (RetryPolicy{}) {
		c.retry = DefaultRetryPolicy()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// DefaultUserAgent returns "chenv/<module version> (+<project url>)".
func DefaultUserAgent() string {
	v := "devel"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Path == "github.com/giantswarm/chenv" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, dep := range info.Deps {
			if dep.Path == "github.com/giantswarm/chenv" {
				v = dep.Version
			}
		}
	}
	return "chenv/" + v + " (+" + projectURL + ")"
}

// Get fetches a small document, retrying transient failures. A 404 yields an
// error for which IsNotFound is true.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, url, func() error {
		resp, err := c.do(ctx, url)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
		if err != nil {
			return classify(url, err)
		}
		if len(b) > maxDocumentSize {
			return fmt.Errorf("%w: GET %s: document larger than %d bytes", ErrPermanentFetch, url, maxDocumentSize)
		}
		body = b
		return nil
	})
	return body, err
}

// do issues a GET and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrPermanentFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, classify(url, &StatusError{URL: url, StatusCode: resp.StatusCode})
	}
	return resp, nil
}

// withRetry runs fn until it succeeds, fails with a non-transient error, the
// context ends or the attempts are used up.
func (c *Client) withRetry(ctx context.Context, url string, fn func() error) error {
	attempt := 0
	// OnError reports nil, or the last retried error, when the final error
	// is a context error, so the terminal error is kept here.
	var final error
	err := retry.OnError(c.retry.backoff(), func(err error) bool {
		if ctxErr := ctx.Err(); ctxErr != nil {
			final = err
			if !errors.Is(err, ctxErr) {
				final = fmt.Errorf("%w: %w", ctxErr, err)
			}
			return false
		}
		if !errors.Is(err, ErrTransientFetch) {
			final = err
			return false
		}
		c.log.Warn("transient fetch failure, retrying", "url", url, "attempt", attempt, "error", err)
		return true
	}, func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	})
	if final != nil {
		return final
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err != nil {
			return fmt.Errorf("GET %s: %w: %w", url, ctxErr, err)
		}
		return ctxErr
	}
	return err
}
