// Package executor runs commands on the host through the configured shell
// interpreter. There is no sandboxing: callers decide what may run.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a command outlives the configured timeout.
// The process has been killed and no output is returned.
var ErrTimeout = errors.New("command timed out")

// Config configures an Executor.
type Config struct {
	// Shell is the interpreter binary, e.g. "powershell" or "pwsh".
	Shell string
	// ShellArgs precede the command text, which is always passed as a single
	// final argument.
	ShellArgs []string
	// Timeout is the hard wall-clock limit per command.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout and stderr each. Zero means 1 MiB.
	MaxOutputBytes int64
}

// Result is the outcome of a command that ran to completion. A non-zero exit
// code is still a Result, not an error.
type Result struct {
	ID        string        `json:"id"`
	ExitCode  int           `json:"returncode"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// Executor spawns one child process per call. It holds no per-call state and
// is safe for concurrent use.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Argv returns the argument vector Run would execute for command.
func (e *Executor) Argv(command string) []string {
	argv := make([]string, 0, len(e.cfg.ShellArgs)+2)
	argv = append(argv, e.cfg.Shell)
	argv = append(argv, e.cfg.ShellArgs...)
	return append(argv, command)
}

// Run executes command through the configured shell. The command text is
// handed to the interpreter as one argument; it never passes through a
// second shell.
func (e *Executor) Run(ctx context.Context, command string) (*Result, error) {
	return e.Exec(ctx, e.Argv(command))
}

// Exec runs argv directly with the configured timeout.
func (e *Executor) Exec(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("binary is required")
	}

	id := uuid.NewString()
	logger := e.logger.With(zap.String("exec_id", id), zap.String("binary", argv[0]))
	logger.Debug("Executing command", zap.Strings("args", argv[1:]), zap.Duration("timeout", e.cfg.Timeout))

	execCtx := ctx
	cancel := func() {}
	if e.cfg.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	// Grandchildren may keep the pipes open after the shell is killed.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: e.cfg.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: e.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("Command killed after timeout", zap.Duration("timeout", e.cfg.Timeout))
			return nil, ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command canceled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
		case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
			// The process exited; a background child kept the pipes open.
			logger.Warn("Output pipes held open after exit", zap.Duration("wait_delay", cmd.WaitDelay))
		default:
			logger.Error("Failed to run command", zap.Error(err))
			return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
	}

	result := &Result{
		ID:        id,
		ExitCode:  cmd.ProcessState.ExitCode(),
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}
	if result.Truncated {
		logger.Warn("Command output truncated", zap.Int64("discarded_bytes", stdout.discarded+stderr.discarded))
	}

	logger.Info("Command completed",
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", duration),
		zap.Int("stdout_bytes", len(result.Stdout)))
	return result, nil
}

// CommandString renders argv for display.
func CommandString(argv []string) string {
	return strings.Join(argv, " ")
}

// limitedWriter is an io.Writer that keeps at most max bytes and silently
// discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so the copier does not see a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
