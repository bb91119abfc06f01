// Package shutdown coordinates graceful termination of the web server:
// in-flight generations are allowed to finish, then registered cleanup
// functions run in priority order.
package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTrackerClosed = errors.New("shutdown: no new work accepted")
	ErrWaitTimeout   = errors.New("shutdown: in-flight work did not finish in time")
)

// Tracker counts in-flight generations. Once closed it refuses new ones
// so Wait can observe a count that only goes down.
type Tracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active int64
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Start registers one unit of work. It returns false after Close; on true
// the caller must call Done exactly once.
func (t *Tracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	atomic.AddInt64(&t.active, 1)
	return true
}

func (t *Tracker) Done() {
	atomic.AddInt64(&t.active, -1)
	t.wg.Done()
}

// Wait blocks until all started work is done or timeout elapses.
func (t *Tracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Tracker) Active() int64 {
	return atomic.LoadInt64(&t.active)
}

func (t *Tracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
