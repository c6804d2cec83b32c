package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/cinder-ai/cinder/pkg/models"
)

// runInteractive executes the command attached to a PTY pair, proxying
// bytes between the host terminal and the child. Stderr is merged into
// stdout by the PTY. Terminal attributes are restored on every exit path.
func (e *Executor) runInteractive(ctx context.Context, req Request, limits models.ExecutionLimits) (*Result, error) {
	start := time.Now()

	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = SanitizedEnv(req.Env)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to open pty: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Window-size propagation. The prior handler disposition comes back
	// when we stop notifications.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH

	stdinFd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(stdinFd) {
		oldState, err = term.MakeRaw(stdinFd)
		if err != nil {
			return nil, fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdinFd, oldState) }()
	}

	// Host keystrokes into the PTY. The copy unblocks when ptmx closes.
	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()

	// Cancellation closes the PTY, which unblocks the output copy below
	// and delivers SIGHUP to the child session.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ptmx.Close()
		case <-stop:
		}
	}()

	capture := newCapWriter(limits.MaxOutputBytes)
	_, _ = io.Copy(io.MultiWriter(os.Stdout, capture), ptmx)

	waitErr := cmd.Wait()

	result := &Result{
		Stdout:    capture.String(),
		ExitCode:  exitCode(waitErr),
		Duration:  time.Since(start),
		Truncated: capture.Truncated(),
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}
