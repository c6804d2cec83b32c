package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cinder-ai/cinder/pkg/models"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	e := NewExecutor(nil, models.ExecutionLimits{})

	res, err := e.Run(context.Background(), Request{Command: "echo hello; echo oops >&2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	e := NewExecutor(nil, models.ExecutionLimits{})

	res, err := e.Run(context.Background(), Request{Command: "exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunTruncatesOutputAtCap(t *testing.T) {
	const maxOut = 4096
	e := NewExecutor(nil, models.ExecutionLimits{MaxOutputBytes: maxOut})

	res, err := e.Run(context.Background(), Request{
		Command: "yes | head -c 8192",
		Limits:  models.ExecutionLimits{MaxOutputBytes: maxOut},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Fatal("result should be marked truncated")
	}
	if len(res.Stdout) != maxOut {
		t.Fatalf("stdout length = %d, want exactly %d", len(res.Stdout), maxOut)
	}
	if res.TimedOut {
		t.Fatal("truncation must not be reported as timeout")
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	e := NewExecutor(nil, models.ExecutionLimits{})

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Command: "sleep 5",
		Limits:  models.ExecutionLimits{Timeout: time.Second},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatal("result should be marked timed out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v, want under 2s", elapsed)
	}
}

func TestRunContextCancellation(t *testing.T) {
	e := NewExecutor(nil, models.ExecutionLimits{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := e.Run(ctx, Request{Command: "sleep 5"})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSanitizedEnv(t *testing.T) {
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")
	t.Setenv("BASH_ENV", "/tmp/evil.sh")

	env := SanitizedEnv(map[string]string{
		"MY_VAR":          "ok",
		"LD_LIBRARY_PATH": "/tmp",
	})

	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "evil") {
		t.Fatal("LD_PRELOAD/BASH_ENV values must be stripped")
	}
	if !strings.Contains(joined, "PATH=/usr/local/bin:/usr/bin:/bin") {
		t.Fatal("PATH must be pinned")
	}
	if !strings.Contains(joined, "MY_VAR=ok") {
		t.Fatal("caller env should be merged")
	}
	if strings.Contains(joined, "LD_LIBRARY_PATH=/tmp") {
		t.Fatal("caller LD_* injection must be rejected")
	}
}

func TestCapWriterExactBoundary(t *testing.T) {
	w := newCapWriter(5)
	n, err := w.Write([]byte("12345"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if w.Truncated() {
		t.Fatal("exact fit is not truncation")
	}
	if _, err := w.Write([]byte("6")); err != nil {
		t.Fatal(err)
	}
	if !w.Truncated() || w.String() != "12345" {
		t.Fatalf("overflow should truncate, got %q truncated=%v", w.String(), w.Truncated())
	}
}
