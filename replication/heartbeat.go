package replication

import (
	"context"
	"sync"
	"time"
)

// DefaultKeepAliveInterval paces KeepAlive when ctx carries no interval.
const DefaultKeepAliveInterval = 30 * time.Second

// Heartbeater receives liveness signals from a running step so the
// orchestrator can tell slow work from a hang.
type Heartbeater interface {
	Heartbeat(stage string)
}

// HeartbeaterFunc adapts a plain function to the Heartbeater interface.
type HeartbeaterFunc func(stage string)

// Heartbeat calls f(stage).
func (f HeartbeaterFunc) Heartbeat(stage string) { f(stage) }

type (
	heartbeatKey struct{}
	intervalKey  struct{}
)

// WithHeartbeater returns a context carrying hb.
func WithHeartbeater(
	ctx context.Context,
	hb Heartbeater,
) context.Context {
	return context.WithValue(ctx, heartbeatKey{}, hb)
}

// WithKeepAliveInterval returns a context telling KeepAlive how often to
// beat. Watchdogs set it well below their timeout.
func WithKeepAliveInterval(
	ctx context.Context,
	every time.Duration,
) context.Context {
	return context.WithValue(ctx, intervalKey{}, every)
}

// Heartbeat signals liveness to the Heartbeater carried by ctx, if any.
func Heartbeat(ctx context.Context, stage string) {
	if hb, ok := ctx.Value(heartbeatKey{}).(Heartbeater); ok {
		hb.Heartbeat(stage)
	}
}

// KeepAlive heartbeats stage periodically until stop is called or ctx is
// done. It covers single blocking operations, such as a long clone, that
// cannot beat on their own. Without a Heartbeater in ctx it does nothing.
func KeepAlive(ctx context.Context, stage string) (stop func()) {
	hb, ok := ctx.Value(heartbeatKey{}).(Heartbeater)
	if !ok {
		return func() {}
	}

	every, _ := ctx.Value(intervalKey{}).(time.Duration)
	if every <= 0 {
		every = DefaultKeepAliveInterval
	}

	done := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb.Heartbeat(stage)
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
