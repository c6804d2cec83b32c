// Package sandbox runs already-validated shell commands with resource,
// time, output, and environment limits. Commands must pass the safety
// validator before they get here.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/pkg/models"
)

// TruncationSentinel is appended to captured output that hit the byte cap.
const TruncationSentinel = "\n[output truncated]"

// killGrace is how long a timed-out process group gets between SIGTERM and
// SIGKILL.
const killGrace = 5 * time.Second

// Request describes one sandboxed execution.
type Request struct {
	Command     string
	Dir         string
	Env         map[string]string
	Limits      models.ExecutionLimits
	Interactive bool
}

// Result is the outcome of a sandboxed execution. In PTY mode stderr is
// merged into stdout.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
}

// Executor spawns sandboxed children. Safe for concurrent use.
type Executor struct {
	logger   *observability.Logger
	defaults models.ExecutionLimits
}

// NewExecutor builds an executor with default limits applied to requests
// that leave fields zero.
func NewExecutor(logger *observability.Logger, defaults models.ExecutionLimits) *Executor {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	if defaults.MaxOutputBytes <= 0 {
		defaults.MaxOutputBytes = 1 << 20
	}
	if defaults.MaxMemoryMB <= 0 {
		defaults.MaxMemoryMB = 512
	}
	if defaults.MaxOpenFiles <= 0 {
		defaults.MaxOpenFiles = 100
	}
	if defaults.MaxCPUPercent <= 0 {
		defaults.MaxCPUPercent = 80
	}
	return &Executor{logger: logger, defaults: defaults}
}

// Run executes the request. The returned error is reserved for OS-level
// spawn failures; command failures (non-zero exit, timeout) are reported in
// the Result.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	limits := e.mergeLimits(req.Limits)
	if req.Interactive {
		return e.runInteractive(ctx, req, limits)
	}
	return e.run(ctx, req, limits)
}

func (e *Executor) run(ctx context.Context, req Request, limits models.ExecutionLimits) (*Result, error) {
	start := time.Now()

	// Resource caps are set inside the child shell before the command
	// runs: CPU seconds, address space, open files, no core dumps.
	cpuSeconds := int(limits.Timeout.Seconds()) + 5
	wrapped := fmt.Sprintf("ulimit -t %d -v %d -n %d -c 0 2>/dev/null; %s",
		cpuSeconds, limits.MaxMemoryMB*1024, limits.MaxOpenFiles, req.Command)

	cmd := exec.Command("sh", "-c", wrapped)
	cmd.Dir = req.Dir
	cmd.Env = SanitizedEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newCapWriter(limits.MaxOutputBytes)
	stderr := newCapWriter(limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn command: %w", err)
	}
	pgid := cmd.Process.Pid
	// Lower priority so tool children never starve the interactive session.
	_ = syscall.Setpriority(syscall.PRIO_PGRP, pgid, 10)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(limits.Timeout)
	defer timer.Stop()

	result := &Result{}
	select {
	case err := <-done:
		result.ExitCode = exitCode(err)

	case <-ctx.Done():
		killGroup(pgid, done)
		result.ExitCode = -1
		result.Duration = time.Since(start)
		result.Stdout, result.Stderr = stdout.String(), stderr.String()
		result.Truncated = stdout.Truncated() || stderr.Truncated()
		return result, ctx.Err()

	case <-timer.C:
		killGroup(pgid, done)
		result.TimedOut = true
		result.ExitCode = -1
	}

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.Truncated() || stderr.Truncated()

	if e.logger != nil {
		e.logger.Debug(ctx, "sandbox execution finished",
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"truncated", result.Truncated,
			"duration_ms", result.Duration.Milliseconds())
	}
	return result, nil
}

func (e *Executor) mergeLimits(limits models.ExecutionLimits) models.ExecutionLimits {
	if limits.Timeout <= 0 {
		limits.Timeout = e.defaults.Timeout
	}
	if limits.MaxOutputBytes <= 0 {
		limits.MaxOutputBytes = e.defaults.MaxOutputBytes
	}
	if limits.MaxMemoryMB <= 0 {
		limits.MaxMemoryMB = e.defaults.MaxMemoryMB
	}
	if limits.MaxOpenFiles <= 0 {
		limits.MaxOpenFiles = e.defaults.MaxOpenFiles
	}
	if limits.MaxCPUPercent <= 0 {
		limits.MaxCPUPercent = e.defaults.MaxCPUPercent
	}
	return limits
}

// killGroup terminates a process group: SIGTERM, then SIGKILL after the
// grace period if the child has not exited.
func killGroup(pgid int, done <-chan error) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// SanitizedEnv builds the child environment: current env with a pinned
// PATH, blank BASH_ENV/ENV, and LD_* injection stripped. Caller-supplied
// entries pass through the same filter.
func SanitizedEnv(extra map[string]string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra)+3)
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if rejectedEnvKey(key) {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"BASH_ENV=",
		"ENV=",
	)
	for key, value := range extra {
		if rejectedEnvKey(key) {
			continue
		}
		env = append(env, key+"="+value)
	}
	return env
}

func rejectedEnvKey(key string) bool {
	switch key {
	case "PATH", "BASH_ENV", "ENV":
		return true
	}
	return strings.HasPrefix(key, "LD_")
}

// capWriter is a bounded output buffer. Writes past the cap are discarded
// (the child keeps running) and the buffer is marked truncated.
type capWriter struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newCapWriter(max int) *capWriter {
	return &capWriter{max: max}
}

func (w *capWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.max - len(w.buf)
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf = append(w.buf, p[:remaining]...)
		w.truncated = true
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *capWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *capWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
