package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/byte4ever/mpbridge/replication"
)

// ErrHeartbeatTimeout is the cancellation cause of a step that stopped
// reporting liveness.
var ErrHeartbeatTimeout = errors.New("heartbeat timeout")

// Watch returns a context carrying a Heartbeater. Unless a heartbeat
// arrives at least every timeout, the context is cancelled with cause
// ErrHeartbeatTimeout. Child processes keep it alive while they run, at a
// third of timeout. Call stop when the step is done.
func Watch(
	ctx context.Context,
	timeout time.Duration,
) (watched context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	beats := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-beats:
				timer.Reset(timeout)
			case <-timer.C:
				cancel(ErrHeartbeatTimeout)

				return
			}
		}
	}()

	hb := replication.HeartbeaterFunc(func(string) {
		select {
		case beats <- struct{}{}:
		default:
		}
	})

	var once sync.Once

	watched = replication.WithHeartbeater(ctx, hb)
	watched = replication.WithKeepAliveInterval(watched, timeout/3)

	return watched, func() {
		once.Do(func() {
			close(done)
			cancel(nil)
		})
	}
}

// stalled reports whether ctx was cancelled by its watchdog.
func stalled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrHeartbeatTimeout)
}
