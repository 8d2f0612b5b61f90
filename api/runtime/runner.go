package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrTimedOut is returned when a command outlives its deadline. The process
// has been killed by the time Run returns.
var ErrTimedOut = errors.New("execution timed out")

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

type Line struct {
	Stream Stream
	Text   string
}

type RunResult struct {
	ExitCode int
	Output   string // combined output, truncated
	Duration time.Duration
}

// Runner executes a command and streams its output line by line. onLine is
// called from a single goroutine in arrival order. A non-zero exit is reported
// through RunResult.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, opts RunOpts, onLine func(Line)) (*RunResult, error)
}

type RunOpts struct {
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration // zero means no deadline beyond ctx
}
