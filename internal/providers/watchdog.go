package providers

import (
	"context"
	"time"
)

// Watchdog wraps a Provider and enforces liveness on its streams: the
// first chunk must arrive within InitTimeout and every subsequent chunk
// within StallTimeout. On violation the relay emits an error chunk and
// cancels the inner stream.
type Watchdog struct {
	inner Provider

	// InitTimeout bounds the wait for the first chunk (default 10s).
	InitTimeout time.Duration

	// StallTimeout bounds the gap between chunks (default 30s).
	StallTimeout time.Duration
}

// NewWatchdog wraps the provider with default liveness windows.
func NewWatchdog(inner Provider) *Watchdog {
	return &Watchdog{
		inner:        inner,
		InitTimeout:  10 * time.Second,
		StallTimeout: 30 * time.Second,
	}
}

func (w *Watchdog) Name() string        { return w.inner.Name() }
func (w *Watchdog) SupportsTools() bool { return w.inner.SupportsTools() }

// Stream relays the inner stream, watching for init and stall timeouts.
func (w *Watchdog) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	innerCtx, cancel := context.WithCancel(ctx)
	src, err := w.inner.Stream(innerCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)
		defer cancel()

		timer := time.NewTimer(w.InitTimeout)
		defer timer.Stop()
		first := true

		for {
			select {
			case chunk, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if chunk.Done || chunk.Err != nil {
					return
				}
				first = false
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.StallTimeout)

			case <-timer.C:
				err := ErrStreamStalled
				if first {
					err = ErrInitTimeout
				}
				select {
				case out <- &Chunk{Err: err, Done: true}:
				case <-ctx.Done():
				}
				return

			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
