// Package reserve implements the blocking side of job reservation:
// parking a connection that calls reserve against an empty watch list
// until a job becomes ready on one of its watched tubes, or its
// deadline passes. The waiter-parking design (a FIFO of per-waiter
// wake channels, removed on timeout) follows the sema/waiters pattern
// used for blocking queue gets elsewhere in the ecosystem.
package reserve

import (
	"context"
	"sync"
	"time"

	"github.com/jobtube/beanstalkd/internal/proto"
	"github.com/jobtube/beanstalkd/internal/store"
)

type waiter struct {
	watch map[string]bool
	ready chan struct{}
}

// Coordinator wakes parked reserve calls as jobs become ready. It
// implements the JobReady half of store.Sink; the server wires the
// remaining Sink methods (JobExpired, DeadlineSoon) directly to the
// connection registry.
type Coordinator struct {
	st *store.Store

	mu      sync.Mutex
	waiters []*waiter
}

// New constructs a Coordinator bound to st.
func New(st *store.Store) *Coordinator {
	return &Coordinator{st: st}
}

// JobReady implements store.Sink. It wakes the earliest-parked waiter
// watching tube, if any; that waiter re-attempts ReserveNext once
// woken, so ties for the same job resolve correctly even if several
// waiters are woken in quick succession by unrelated events.
func (c *Coordinator) JobReady(tube string, jobID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w.watch[tube] {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			close(w.ready)
			return
		}
	}
}

func (c *Coordinator) park(watch []string) *waiter {
	set := make(map[string]bool, len(watch))
	for _, t := range watch {
		set[t] = true
	}
	w := &waiter{watch: set, ready: make(chan struct{})}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

func (c *Coordinator) unpark(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Reserve attempts to reserve a job from one of the watched tubes,
// blocking until one becomes available, deadline passes (zero means
// no deadline), or ctx is cancelled (connection closed).
//
// It returns proto.ErrTimedOut if deadline passes first and
// proto.ErrDraining if draining is signalled while parked.
func (c *Coordinator) Reserve(ctx context.Context, watch []string, connID uint64, deadline time.Time, draining <-chan struct{}) (*store.Job, error) {
	if j, ok := c.st.ReserveNext(watch, connID); ok {
		return j, nil
	}

	var timeoutC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		w := c.park(watch)
		select {
		case <-w.ready:
			if j, ok := c.st.ReserveNext(watch, connID); ok {
				return j, nil
			}
			// Another waiter or a direct caller won the race; park again.
			continue
		case <-timeoutC:
			c.unpark(w)
			return nil, proto.ErrTimedOut
		case <-draining:
			c.unpark(w)
			return nil, proto.ErrDraining
		case <-ctx.Done():
			c.unpark(w)
			return nil, ctx.Err()
		}
	}
}
