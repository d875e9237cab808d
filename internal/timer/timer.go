// Package timer drives every time-based state transition in the job
// store: delayed->ready promotion, TTR expiry, and the one-shot
// deadline-soon signal. It owns a single min-heap ordered by
// deadline, in the style of the timer-wheel/heap pattern used for
// connection deadlines elsewhere in the ecosystem (container/heap
// driving a single background goroutine rather than one timer per
// event).
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jobtube/beanstalkd/internal/store"
)

type kind int

const (
	kindDelay kind = iota
	kindTTR
	kindDeadlineSoon
)

// entry is one scheduled fire. epoch lets the store discard a fire
// that no longer corresponds to the job's current reservation —
// scheduling never needs an explicit cancel, since a stale entry is
// simply a no-op when it eventually pops.
type entry struct {
	at     time.Time
	kind   kind
	jobID  uint64
	epoch  uint32
	connID uint64
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service is the process's single timer heap. It implements
// store.Scheduler; the store that fires its callbacks is wired in at
// construction since neither package may import the other cyclically.
type Service struct {
	mu sync.Mutex
	h  entryHeap

	wake chan struct{}
	st   *store.Store
}

// New constructs a Service bound to st. Call Run to start processing.
func New(st *store.Store) *Service {
	return &Service{
		wake: make(chan struct{}, 1),
		st:   st,
	}
}

func (s *Service) push(e *entry) {
	s.mu.Lock()
	heap.Push(&s.h, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ScheduleDelay registers a delayed->ready promotion for jobID at at.
func (s *Service) ScheduleDelay(jobID uint64, at time.Time, epoch uint32) {
	s.push(&entry{at: at, kind: kindDelay, jobID: jobID, epoch: epoch})
}

// ScheduleTTR registers a reservation expiry for jobID at at.
func (s *Service) ScheduleTTR(jobID uint64, at time.Time, epoch uint32) {
	s.push(&entry{at: at, kind: kindTTR, jobID: jobID, epoch: epoch})
}

// ScheduleDeadlineSoon registers a deadline-soon signal for connID's
// reservation of jobID at at.
func (s *Service) ScheduleDeadlineSoon(jobID uint64, at time.Time, epoch uint32, connID uint64) {
	s.push(&entry{at: at, kind: kindDeadlineSoon, jobID: jobID, epoch: epoch, connID: connID})
}

// Run processes the heap until ctx is cancelled. It is meant to run in
// its own goroutine for the life of the process.
func (s *Service) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration
		if len(s.h) == 0 {
			next = time.Hour
		} else {
			next = time.Until(s.h[0].at)
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next < 0 {
			next = 0
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Service) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.h) == 0 || s.h[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.h).(*entry)
		s.mu.Unlock()

		switch e.kind {
		case kindDelay:
			s.st.FireDelay(e.jobID, e.epoch)
		case kindTTR:
			s.st.FireTTR(e.jobID, e.epoch)
		case kindDeadlineSoon:
			s.st.FireDeadlineSoon(e.jobID, e.epoch, e.connID)
		}
	}
}
