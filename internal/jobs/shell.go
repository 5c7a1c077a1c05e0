package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cronwire/internal/task/job"
	logx "cronwire/pkg/logx"
)

const (
	defaultShell   = "sh"
	maxOutputBytes = 64 << 10
	// waitDelay bounds how long Run waits for output pipes after the
	// process was killed.
	waitDelay = 2 * time.Second
)

var errNoCommand = errors.New("data.command is required")

// ExitError is returned when the command ran but exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command exited with code %d", e.Code)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.Code, e.Output)
}

// ShellJob runs data.command with "<shell> -c". The process is killed when
// the firing is cancelled or times out.
type ShellJob struct {
	log logx.Logger
}

func NewShellJob(log logx.Logger) *ShellJob {
	return &ShellJob{log: log.With(logx.String("comp", "job.shell"))}
}

func (j *ShellJob) Execute(ctx context.Context, ec *job.ExecutionContext) error {
	command := strings.TrimSpace(ec.Param("command"))
	if command == "" {
		return errNoCommand
	}
	shell := strings.TrimSpace(ec.Param("shell"))
	if shell == "" {
		shell = defaultShell
	}

	out := &cappedBuffer{max: maxOutputBytes}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = strings.TrimSpace(ec.Param("dir"))
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	fs := append(fields(ec),
		logx.String("command", command),
		logx.Duration("took", time.Since(start)),
	)
	output := strings.TrimSpace(out.String())
	if output != "" {
		fs = append(fs, logx.String("output", output))
	}

	if ctx.Err() != nil {
		j.log.Warn("command interrupted", fs...)
		return fmt.Errorf("%w: %w", job.ErrCancelled, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		fs = append(fs, logx.Int("exit_code", exitErr.ExitCode()))
		j.log.Warn("command failed", fs...)
		return &ExitError{Code: exitErr.ExitCode(), Output: output}
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", shell, err)
	}
	j.log.Debug("command finished", fs...)
	return nil
}

// cappedBuffer keeps the first max bytes and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "...(truncated)"
	}
	return b.buf.String()
}
