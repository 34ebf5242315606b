package watcher

import (
	"context"
	"sync"
)

// Counter receives one CountDown per resolved watch target.
type Counter interface {
	CountDown()
}

type nopCounter struct{}

func (nopCounter) CountDown() {}

// Latch is a countdown latch: Done is closed once CountDown has been called
// count times. Extra CountDown calls are ignored, so several watchers may
// share one latch without coordinating.
type Latch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// NewLatch returns a latch that opens after n count-downs. A latch created
// with n <= 0 is already open.
func NewLatch(n int) *Latch {
	l := &Latch{count: n, done: make(chan struct{})}
	if n <= 0 {
		l.count = 0
		close(l.done)
	}
	return l
}

func (l *Latch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// Count returns the number of count-downs still outstanding.
func (l *Latch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the latch opens or ctx is done, in which case ctx's error
// is returned.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
