// Package schedule runs periodic callbacks behind a cancellable handle.
package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// CancelToken stops a scheduled callback. Cancel is safe to call more than
// once and from inside the callback itself.
type CancelToken interface {
	Cancel()
	Cancelled() bool
}

type token struct {
	cancelled atomic.Bool
	once      sync.Once
	stop      chan struct{}
}

func (t *token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.stop)
	})
}

func (t *token) Cancelled() bool { return t.cancelled.Load() }

// Every invokes fn once per interval until the returned token is cancelled.
// Cancel does not wait for an in-flight fn; fn is never invoked again after
// Cancel returns.
func Every(c clock.WithTicker, interval time.Duration, fn func()) CancelToken {
	t := &token{stop: make(chan struct{})}
	ticker := c.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C():
				if t.Cancelled() {
					return
				}
				fn()
			}
		}
	}()

	return t
}
