package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	maxOutputBytes = 64 * 1024 // 64KB
	maxLineBytes   = 1024 * 1024
	waitDelay      = 10 * time.Second
)

// ScriptRunner runs local commands, typically `bash <script>` inside the
// deploy directory.
type ScriptRunner struct{}

func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{}
}

func (s *ScriptRunner) Run(ctx context.Context, opts RunOpts, onLine func(Line)) (*RunResult, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("empty command")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	// Gradle daemons inherit the pipes; don't wait on them forever.
	cmd.WaitDelay = waitDelay

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command[0], err)
	}

	lines := make(chan Line, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(outR, Stdout, lines, &readers)
	go scanLines(errR, Stderr, lines, &readers)

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		outW.Close()
		errW.Close()
		readers.Wait()
		close(lines)
		waitErr <- err
	}()

	var output strings.Builder
	truncated := false
	for l := range lines {
		if !truncated {
			if output.Len()+len(l.Text)+1 > maxOutputBytes {
				output.WriteString("... (output truncated at 64KB)\n")
				truncated = true
			} else {
				output.WriteString(l.Text)
				output.WriteByte('\n')
			}
		}
		if onLine != nil {
			onLine(l)
		}
	}
	err := <-waitErr

	result := &RunResult{
		Output:   output.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.ExitCode = -1
			return result, fmt.Errorf("%w after %s", ErrTimedOut, opts.Timeout)
		}
		if ctx.Err() != nil {
			result.ExitCode = -1
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil // non-zero exit is not a runner error
		}
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}

func scanLines(r *io.PipeReader, stream Stream, out chan<- Line, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		out <- Line{Stream: stream, Text: strings.TrimRight(sc.Text(), "\r")}
	}
	if sc.Err() != nil {
		// Keep the writer unblocked after an oversized line.
		io.Copy(io.Discard, r)
	}
}
