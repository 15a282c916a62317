package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/giantswarm/chenv/internal/process"
)

const (
	readinessPollInterval = 50 * time.Millisecond
	readinessDialTimeout  = time.Second
	pingTimeout           = 2 * time.Second
)

// waitReady polls until the native port accepts a TCP connection and
// GET /ping on the HTTP port returns 200.
func (s *Server) waitReady(ctx context.Context, timeout time.Duration) error {
	httpClient := &http.Client{
		Transport: &http.Transport{
			// Fresh connection per poll; failed early attempts must not
			// leave idle connections behind.
			DisableKeepAlives: true,
		},
		Timeout: pingTimeout,
	}
	defer httpClient.CloseIdleConnections()

	dialer := &net.Dialer{Timeout: readinessDialTimeout}
	tcpAddr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.held.TCP))
	pingURL := "http://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.held.HTTP)) + "/ping"

	return process.WaitReady(ctx, process.WaitReadyConfig{
		Interval:      readinessPollInterval,
		Timeout:       timeout,
		Name:          processName,
		Port:          s.held.TCP,
		Logger:        s.log,
		ProcessExited: s.handle.Exited(),
	}, func(checkCtx context.Context, _ int) error {
		conn, err := dialer.DialContext(checkCtx, "tcp", tcpAddr)
		if err != nil {
			return fmt.Errorf("%w: dial %s: %w", process.ErrNotReady, tcpAddr, err)
		}
		_ = conn.Close()

		req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, pingURL, http.NoBody)
		if err != nil {
			return fmt.Errorf("create ping request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: ping: %w", process.ErrNotReady, err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: ping returned %d", process.ErrNotReady, resp.StatusCode)
		}
		return nil
	})
}
