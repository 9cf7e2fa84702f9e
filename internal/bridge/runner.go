package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result is what a worker left behind.
type Result struct {
	Stdout          []byte
	Stderr          []byte
	ExitCode        int
	StdoutTruncated bool
	StderrTruncated bool
}

// Runner executes one worker invocation for one question. Implementations
// must honour ctx: when it is done the worker is terminated and ctx.Err() is
// returned. A worker that could not be started is reported by wrapping
// ErrSpawn. A worker that ran and exited, with any code, is not an error.
type Runner interface {
	Run(ctx context.Context, question string) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, question string) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, question string) (Result, error) {
	return f(ctx, question)
}

// DefaultMaxOutputBytes caps each captured stream.
const DefaultMaxOutputBytes = 1 << 20

// safeEnvVars are inherited from the server environment. Everything else,
// including the signing secret and store DSN, is withheld.
var safeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"LANG",
	"LC_ALL",
	"TZ",
	"TERM",
	"TMPDIR",
}

// ProcessRunner spawns Command with Args followed by the question as the
// final argument. Each Run gets a fresh process in its own process group,
// stdin from the null device, and a sanitized environment.
type ProcessRunner struct {
	Command        string
	Args           []string
	Dir            string
	EnvPassthrough []string // extra variable names copied from the server env
	MaxOutputBytes int      // per stream; <= 0 means DefaultMaxOutputBytes

	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed. Zero means one second.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, question string) (Result, error) {
	args := make([]string, 0, len(r.Args)+1)
	args = append(args, r.Args...)
	args = append(args, question)

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.Dir
	cmd.Env = workerEnvironment(r.EnvPassthrough)
	cmd.Stdin = nil // null device

	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := newCappedBuffer(limit)
	stderr := newCappedBuffer(limit)
	// Non-*os.File writers make exec copy each pipe in its own goroutine, so
	// both streams drain while the worker runs.
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	waitErr := cmd.Wait()
	res := Result{
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		ExitCode:        cmd.ProcessState.ExitCode(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// exited, but a grandchild kept the pipes open
		default:
			return res, waitErr
		}
	}
	return res, nil
}

// workerEnvironment returns the allowlisted variables plus the configured
// pass-through names that are set and non-empty.
func workerEnvironment(passthrough []string) []string {
	env := make([]string, 0, len(safeEnvVars)+len(passthrough))
	seen := make(map[string]struct{}, len(safeEnvVars)+len(passthrough))
	for _, names := range [][]string{safeEnvVars, passthrough} {
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if value := os.Getenv(name); value != "" {
				env = append(env, name+"="+value)
			}
		}
	}
	return env
}

// cappedBuffer keeps the first limit bytes written and silently discards the
// rest, always reporting a full write so the producer never blocks.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
			b.truncated = true
		} else {
			b.buf = append(b.buf, p...)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte   { return b.buf }
func (b *cappedBuffer) Truncated() bool { return b.truncated }
