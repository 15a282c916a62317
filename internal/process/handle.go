package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/giantswarm/chenv/internal/sentinel"
)

// ErrLaunch is returned when the binary cannot be started or exits within
// the early-exit window.
const ErrLaunch = sentinel.Error("launch failed")

// ErrShutdown is returned by Terminate when the child could not be reaped.
// It means a process may have leaked.
const ErrShutdown = sentinel.Error("process could not be reaped")

// LaunchConfig describes a child process.
type LaunchConfig struct {
	Name   string   // log file prefix and log attribute, e.g. "clickhouse"
	Binary string   // absolute path to the executable
	Args   []string // arguments after the binary
	Dir    string   // working directory; log files are created here
	Env    []string // appended to the parent environment

	// Output, when set, receives a copy of stdout and stderr.
	Output io.Writer

	// EarlyExitWindow is how long Launch watches the child after start.
	// An exit inside the window is reported as ErrLaunch. Zero disables it.
	EarlyExitWindow time.Duration

	Logger *slog.Logger
}

func (c LaunchConfig) validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("process name must not be empty"))
	}
	if c.Binary == "" {
		errs = append(errs, errors.New("binary path must not be empty"))
	}
	if c.Dir == "" {
		errs = append(errs, errors.New("working directory must not be empty"))
	}
	if c.EarlyExitWindow < 0 {
		errs = append(errs, fmt.Errorf("early exit window must not be negative, got %s", c.EarlyExitWindow))
	}
	return errors.Join(errs...)
}

// Handle is a running child process. It is owned by exactly one server;
// only its owner's Terminate and KillAll may stop it.
type Handle struct {
	name      string
	cmd       *exec.Cmd
	logFiles  LogFiles
	log       *slog.Logger
	startedAt time.Time

	// exited is closed by the wait goroutine after waitErr is stored.
	exited  chan struct{}
	waitErr error

	mu         sync.Mutex // serializes Terminate
	terminated bool
}

// Launch starts the process described by cfg.
func Launch(cfg LaunchConfig) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid launch config: %w", ErrLaunch, err)
	}
	if err := checkExecutable(cfg.Binary); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	logFiles, err := NewLogFiles(cfg.Dir, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // binary comes from the artifact cache or caller config
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stdout = logFiles.stdoutFile
	cmd.Stderr = logFiles.stderrFile
	if cfg.Output != nil {
		cmd.Stdout = io.MultiWriter(logFiles.stdoutFile, cfg.Output)
		cmd.Stderr = io.MultiWriter(logFiles.stderrFile, cfg.Output)
	}
	configureSysProcAttr(cmd)

	installSignalHook()

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return nil, fmt.Errorf("%w: start %s: %w", ErrLaunch, cfg.Binary, err)
	}

	h := &Handle{
		name:      cfg.Name,
		cmd:       cmd,
		logFiles:  logFiles,
		log:       log.With("process", cfg.Name, "pid", cmd.Process.Pid),
		startedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	// The only cmd.Wait call for this process.
	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()
	track(h)

	if cfg.EarlyExitWindow > 0 {
		t := time.NewTimer(cfg.EarlyExitWindow)
		defer t.Stop()
		select {
		case <-h.exited:
			tail := h.logFiles.StderrTail(stderrTailBytes)
			_ = h.Terminate(0)
			return nil, fmt.Errorf("%w: %s exited immediately (%s): %s",
				ErrLaunch, cfg.Name, describeExit(h.waitErr), tail)
		case <-t.C:
		}
	}

	h.log.Debug("process started", "binary", cfg.Binary)
	return h, nil
}

// checkExecutable verifies path is a regular file with an execute bit.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("binary %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("binary %s is not executable (mode %s)", path, info.Mode().Perm())
	}
	return nil
}

// Pid returns the OS process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Exited returns a channel closed once the process has exited and been
// reaped. Safe to select on from any number of goroutines.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr returns the cmd.Wait result. Only meaningful after Exited closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.exited:
		return h.waitErr
	default:
		return nil
	}
}

// Running reports whether the process has not exited yet.
func (h *Handle) Running() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Logs returns the handle's log files.
func (h *Handle) Logs() *LogFiles {
	return &h.logFiles
}

// Terminate stops the process: SIGTERM, up to grace for a clean exit, then
// SIGKILL, then waits for the exit to be reaped. A grace of zero kills
// immediately. Calling Terminate again is a no-op that returns nil.
//
// The only error is ErrShutdown, when the process is still not reaped
// killDrainTimeout after SIGKILL.
func (h *Handle) Terminate(grace time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.terminated {
		return nil
	}
	h.terminated = true
	defer untrack(h)

	if err := terminate(h.cmd.Process, h.exited, grace, h.name); err != nil {
		h.log.Error("process could not be reaped; it may be orphaned", "error", err)
		return err
	}
	h.logFiles.Close()
	h.log.Debug("process stopped", "exit", describeExit(h.waitErr), "uptime", time.Since(h.startedAt))
	return nil
}

// kill sends SIGKILL without waiting for the Terminate lock, then reaps via
// Terminate. Used by KillAll, which may run concurrently with an owner's
// Terminate.
func (h *Handle) kill() {
	if h.Running() {
		_ = h.cmd.Process.Kill()
	}
	_ = h.Terminate(0)
}
