package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Runner executes one command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands as subprocesses and logs their output.
type ExecRunner struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewExecRunner returns a runner that gives each command at most timeout.
func NewExecRunner(logger *slog.Logger, timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecRunner{logger: logger, timeout: timeout}
}

// ExitError reports a command that ran but failed.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// Run starts name with args and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGINT) }
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	command := name + " " + strings.Join(args, " ")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	r.logger.Debug("Command started", "pid", cmd.Process.Pid, "command", command)

	done := make(chan struct{})
	go func() {
		r.streamOutput(stdout, "stdout", nil)
		close(done)
	}()
	var lastErr strings.Builder
	r.streamOutput(stderr, "stderr", &lastErr)
	<-done

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", command, ctx.Err())
		}
		return &ExitError{Command: command, ExitCode: exitCodeFromError(err), Output: lastErr.String()}
	}
	return nil
}

// streamOutput logs each output line; the last stderr line is kept in last.
func (r *ExecRunner) streamOutput(reader io.Reader, source string, last *strings.Builder) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if source == "stderr" {
			r.logger.Warn(line, "source", source)
			if last != nil && strings.TrimSpace(line) != "" {
				last.Reset()
				last.WriteString(line)
			}
			continue
		}
		r.logger.Debug(line, "source", source)
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
