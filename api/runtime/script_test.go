package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collect(t *testing.T, opts RunOpts) (*RunResult, []Line, error) {
	t.Helper()
	var lines []Line
	res, err := NewScriptRunner().Run(context.Background(), opts, func(l Line) {
		lines = append(lines, l)
	})
	return res, lines, err
}

func TestScriptRunnerStreamsStdout(t *testing.T) {
	res, lines, err := collect(t, RunOpts{
		Command: []string{"sh", "-c", "echo one; echo two; echo three"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines: %+v", len(lines), lines)
	}
	for i, w := range want {
		if lines[i].Text != w || lines[i].Stream != Stdout {
			t.Errorf("line %d = %+v, want stdout %q", i, lines[i], w)
		}
	}
	if res.Output != "one\ntwo\nthree\n" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestScriptRunnerStderrAndExitCode(t *testing.T) {
	res, lines, err := collect(t, RunOpts{
		Command: []string{"sh", "-c", "echo broken >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if len(lines) != 1 || lines[0].Stream != Stderr || lines[0].Text != "broken" {
		t.Errorf("lines = %+v", lines)
	}
}

func TestScriptRunnerDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "build.sh"), []byte("echo \"$GREETING from $(basename \"$PWD\")\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, lines, err := collect(t, RunOpts{
		Command: []string{"sh", "build.sh"},
		Dir:     dir,
		Env:     map[string]string{"GREETING": "hello"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "hello from " + filepath.Base(dir)
	if len(lines) != 1 || lines[0].Text != want {
		t.Errorf("lines = %+v, want %q", lines, want)
	}
}

func TestScriptRunnerTimeout(t *testing.T) {
	start := time.Now()
	res, _, err := collect(t, RunOpts{
		Command: []string{"sh", "-c", "echo started; exec sleep 10"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if res == nil || res.ExitCode != -1 {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
}

func TestScriptRunnerMissingBinary(t *testing.T) {
	_, _, err := collect(t, RunOpts{Command: []string{"/definitely/not/here"}})
	if err == nil {
		t.Fatal("expected start error")
	}
}

func TestScriptRunnerEmptyCommand(t *testing.T) {
	if _, _, err := collect(t, RunOpts{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
