package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// stderrTailBytes is how much of the stderr log is attached to launch and
// readiness errors.
const stderrTailBytes = 2048

// killDrainTimeout bounds the wait for the exit after SIGKILL. SIGKILL cannot
// be caught, so hitting it means the kernel is not letting go of the child.
const killDrainTimeout = 10 * time.Second

// LogFiles holds the stdout/stderr log files of one process.
type LogFiles struct {
	stdoutFile *os.File
	stderrFile *os.File
	dir        string
	name       string
}

// NewLogFiles creates <name>-stdout.log and <name>-stderr.log in dir.
func NewLogFiles(dir, name string) (LogFiles, error) {
	l := LogFiles{dir: dir, name: name}
	stdout, err := os.Create(l.StdoutPath())
	if err != nil {
		return LogFiles{}, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err := os.Create(l.StderrPath())
	if err != nil {
		_ = stdout.Close()
		return LogFiles{}, fmt.Errorf("create stderr log: %w", err)
	}
	l.stdoutFile, l.stderrFile = stdout, stderr
	return l, nil
}

// StdoutPath returns the stdout log path.
func (l *LogFiles) StdoutPath() string {
	return filepath.Join(l.dir, l.name+"-stdout.log")
}

// StderrPath returns the stderr log path.
func (l *LogFiles) StderrPath() string {
	return filepath.Join(l.dir, l.name+"-stderr.log")
}

// Close closes both files. Safe to call more than once.
func (l *LogFiles) Close() {
	if l.stdoutFile != nil {
		_ = l.stdoutFile.Close()
		l.stdoutFile = nil
	}
	if l.stderrFile != nil {
		_ = l.stderrFile.Close()
		l.stderrFile = nil
	}
}

// StderrTail returns at most n trailing bytes of the stderr log, trimmed.
// Read errors yield an empty string.
func (l *LogFiles) StderrTail(n int64) string {
	return tailFile(l.StderrPath(), n)
}

func tailFile(path string, n int64) string {
	f, err := os.Open(path) //nolint:gosec // path built from the data dir
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := max(info.Size()-n, 0)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// waitClosed reports whether ch closed within timeout.
func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// terminate runs the SIGTERM, grace, SIGKILL, reap sequence. exited must be
// closed by the goroutine that owns cmd.Wait.
func terminate(proc *os.Process, exited <-chan struct{}, grace time.Duration, name string) error {
	select {
	case <-exited:
		return nil
	default:
	}

	if grace > 0 {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			// Signal fails only when the process already finished.
			if waitClosed(exited, killDrainTimeout) {
				return nil
			}
		} else if waitClosed(exited, grace) {
			return nil
		}
	}

	_ = proc.Kill()
	if !waitClosed(exited, killDrainTimeout) {
		return fmt.Errorf("%w: %s (pid %d) still running %s after SIGKILL",
			ErrShutdown, name, proc.Pid, killDrainTimeout)
	}
	return nil
}

// describeExit renders a cmd.Wait result for logs and errors. SIGTERM,
// SIGKILL and exit status 143 are the expected outcomes of Terminate.
func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return "signal " + status.Signal().String()
		}
		return fmt.Sprintf("exit status %d", exitErr.ExitCode())
	}
	return err.Error()
}
