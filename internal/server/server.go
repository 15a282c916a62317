package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/chenv/internal/netutil"
	"github.com/giantswarm/chenv/internal/process"
	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrPortConflict is returned when the server died because one of its ports
// was taken between allocation and bind. StartWithRetry retries on it.
const ErrPortConflict = sentinel.Error("port conflict")

// DefaultHost is the loopback address servers listen on.
const DefaultHost = "127.0.0.1"

// DefaultMaxPortRetries is how many times StartWithRetry tries with fresh
// ports.
const DefaultMaxPortRetries = 3

// DefaultEarlyExitWindow is how long a freshly launched server is watched
// for an immediate exit.
const DefaultEarlyExitWindow = 50 * time.Millisecond

const processName = "clickhouse"

// addrInUse is the bind failure text ClickHouse logs for a taken port.
const addrInUse = "Address already in use"

// AttemptError is returned by a failed Start that got as far as allocating
// ports. The ports are already released when the caller sees it.
type AttemptError struct {
	Ports Ports
	Err   error
}

func (e *AttemptError) Error() string {
	return e.Err.Error()
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Config holds configuration for one server.
type Config struct {
	// Required
	Binary       string // clickhouse executable
	DataDir      string // fresh, exclusively owned directory
	StartTimeout time.Duration
	PortRegistry *netutil.PortRegistry

	// Optional
	Host            string            // default DefaultHost
	LogLevel        string            // default DefaultLogLevel
	Settings        map[string]string // extra top-level config elements
	EarlyExitWindow time.Duration     // default DefaultEarlyExitWindow
	Output          io.Writer         // mirror of the server's stdout/stderr
	Logger          *slog.Logger
}

func (c Config) validate() error {
	var errs []error
	if c.Binary == "" {
		errs = append(errs, errors.New("binary path must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start timeout must be positive, got %s", c.StartTimeout))
	}
	if c.PortRegistry == nil {
		errs = append(errs, errors.New("port registry must not be nil"))
	}
	if err := ValidateSettings(c.Settings); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Server is one ClickHouse process and the ports it holds.
type Server struct {
	config Config
	log    *slog.Logger
	ports  *netutil.PortRegistry

	// Set by Start, cleared by Stop.
	handle  *process.Handle
	held    Ports
	started bool
}

// New validates cfg. It does not start anything.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	cfg.Host = cmp.Or(cfg.Host, DefaultHost)
	if cfg.EarlyExitWindow == 0 {
		cfg.EarlyExitWindow = DefaultEarlyExitWindow
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{config: cfg, log: log, ports: cfg.PortRegistry}, nil
}

// StartWithRetry creates and starts a server, retrying with fresh ports up
// to maxRetries times when it fails with ErrPortConflict. Other failures are
// returned at once.
func StartWithRetry(ctx context.Context, cfg Config, maxRetries int) (*Server, error) {
	if maxRetries < 1 {
		return nil, fmt.Errorf("max retries must be >= 1, got %d", maxRetries)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, errors.Join(
					fmt.Errorf("context done after %d attempts: %w", attempt-1, err),
					fmt.Errorf("last attempt error: %w", lastErr),
				)
			}
			return nil, err
		}

		srv, err := New(cfg)
		if err != nil {
			return nil, err
		}
		err = srv.Start(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("server start succeeded after retry", "attempt", attempt)
			}
			return srv, nil
		}
		if !errors.Is(err, ErrPortConflict) {
			return nil, err
		}
		lastErr = err
		log.Warn("server start hit a port conflict, retrying with new ports",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)
	}
	return nil, fmt.Errorf("start server after %d attempts: %w", maxRetries, lastErr)
}

// Start allocates ports, writes the config, launches the server and waits
// for readiness within Config.StartTimeout. On error everything Start
// acquired is released and the process is killed.
//
// Start and Stop must not be called concurrently.
func (s *Server) Start(ctx context.Context) (retErr error) {
	if s.started {
		return errors.New("server already started")
	}
	start := time.Now()

	ports, err := s.ports.Allocate(3)
	if err != nil {
		return err
	}
	s.held = Ports{TCP: ports[0], HTTP: ports[1], Interserver: ports[2]}
	log := s.log.With("port", s.held.TCP, "http_port", s.held.HTTP)

	defer func() {
		if retErr != nil {
			if err := process.TerminateAndNil(&s.handle, 0); err != nil {
				log.Warn("cleanup server after start failure", "error", err)
			}
			retErr = &AttemptError{Ports: s.held, Err: retErr}
			s.releasePorts()
		}
	}()

	configPath, err := WriteConfig(ServerConfig{
		DataDir:  s.config.DataDir,
		Host:     s.config.Host,
		Ports:    s.held,
		LogLevel: s.config.LogLevel,
		Settings: s.config.Settings,
	})
	if err != nil {
		return err
	}

	h, err := process.Launch(process.LaunchConfig{
		Name:            processName,
		Binary:          s.config.Binary,
		Args:            []string{"server", "--config-file=" + configPath},
		Dir:             s.config.DataDir,
		Env:             []string{"CLICKHOUSE_WATCHDOG_ENABLE=0"},
		Output:          s.config.Output,
		EarlyExitWindow: s.config.EarlyExitWindow,
		Logger:          log,
	})
	if err != nil {
		if strings.Contains(err.Error(), addrInUse) {
			return fmt.Errorf("%w: %w", ErrPortConflict, err)
		}
		return err
	}
	s.handle = h
	log.Debug("server launched", "pid", h.Pid())

	if err := s.waitReady(ctx, s.config.StartTimeout); err != nil {
		if errors.Is(err, process.ErrProcessExited) {
			tail := h.Logs().StderrTail(2048)
			if strings.Contains(tail, addrInUse) {
				return fmt.Errorf("%w: %w", ErrPortConflict, err)
			}
			if tail != "" {
				return fmt.Errorf("%w; stderr: %s", err, tail)
			}
		}
		return err
	}

	s.started = true
	log.Debug("server ready", "elapsed", time.Since(start))
	return nil
}

// Stop terminates the server with the given grace period and releases its
// ports. The only error is process.ErrShutdown, when the process could not be
// reaped. Stop on a server that is not running is a no-op.
func (s *Server) Stop(grace time.Duration) error {
	if !s.started {
		return nil
	}
	s.started = false

	err := process.TerminateAndNil(&s.handle, grace)
	s.releasePorts()
	return err
}

// Ports returns the ports held by the server, zero when it is not running.
func (s *Server) Ports() Ports {
	return s.held
}

// Pid returns the server process id, or 0 when it is not running.
func (s *Server) Pid() int {
	if s.handle == nil {
		return 0
	}
	return s.handle.Pid()
}

// Exited is closed when the server process exits. Nil when not running.
func (s *Server) Exited() <-chan struct{} {
	if s.handle == nil {
		return nil
	}
	return s.handle.Exited()
}

// DataDir returns the server's data directory.
func (s *Server) DataDir() string {
	return s.config.DataDir
}

func (s *Server) releasePorts() {
	if s.held != (Ports{}) {
		s.ports.Release(s.held.Slice()...)
		s.held = Ports{}
	}
}
