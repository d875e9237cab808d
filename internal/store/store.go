package store

import (
	"sort"
	"sync"
	"time"
)

const defaultTubeName = "default"

// deadlineSoonMargin is how far before TTR expiry the store schedules
// the deadline-soon timer.
const deadlineSoonMargin = 1 * time.Second

// Store holds every job and tube in the process. All mutating methods
// take the single store-wide mutex for their whole body; none may
// perform blocking I/O while holding it, which is why publishing to
// Sink and Scheduler must be non-blocking.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	nextID uint64
	tubes  map[string]*Tube
	jobs   map[uint64]*Job

	sink      Sink
	scheduler Scheduler
}

// New constructs an empty store. sink and scheduler are wired by the
// caller (see internal/server). scheduler may be nil at construction
// and supplied later with SetScheduler, since the timer service that
// implements it typically needs a *Store to construct in turn.
func New(sink Sink, scheduler Scheduler) *Store {
	s := &Store{
		now:       time.Now,
		tubes:     make(map[string]*Tube),
		jobs:      make(map[uint64]*Job),
		sink:      sink,
		scheduler: scheduler,
	}
	s.tubes[defaultTubeName] = newTube(defaultTubeName)
	return s
}

// SetScheduler wires the timer service after construction, breaking
// the store/timer circular dependency at the type level.
func (s *Store) SetScheduler(scheduler Scheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = scheduler
}

func (s *Store) getOrCreateTube(name string) *Tube {
	t, ok := s.tubes[name]
	if !ok {
		t = newTube(name)
		s.tubes[name] = t
	}
	return t
}

func (s *Store) maybeReap(t *Tube) {
	if t.Name == defaultTubeName {
		return
	}
	if t.RefCount > 0 || !t.empty() {
		return
	}
	// Reserved jobs sit on none of the tube's lists but still belong to it.
	for _, j := range s.jobs {
		if j.Tube == t.Name {
			return
		}
	}
	delete(s.tubes, t.Name)
}

// Retain marks name as referenced by one more connection (as its used
// tube, or as a member of its watch list), creating the tube if this
// is the first reference.
func (s *Store) Retain(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateTube(name).RefCount++
}

// Release undoes a prior Retain, reaping the tube if it is now both
// unreferenced and empty.
func (s *Store) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[name]
	if !ok {
		return
	}
	t.RefCount--
	s.maybeReap(t)
}

func (s *Store) bump(j *Job) uint32 {
	j.Epoch++
	return j.Epoch
}

// Put creates a new job in tube, in the delayed state if delay > 0,
// otherwise ready, and returns its id.
func (s *Store) Put(tube string, pri, delay, ttr uint32, body []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nextID++
	j := &Job{
		ID:         s.nextID,
		Tube:       tube,
		Body:       body,
		Pri:        pri,
		TTRSeconds: ttr,
		CreatedAt:  now,
	}
	s.jobs[j.ID] = j
	t := s.getOrCreateTube(tube)

	if delay > 0 {
		j.State = Delayed
		j.DelayExpiresAt = now.Add(time.Duration(delay) * time.Second)
		t.Delayed = append(t.Delayed, j)
		epoch := s.bump(j)
		s.scheduler.ScheduleDelay(j.ID, j.DelayExpiresAt, epoch)
	} else {
		j.State = Ready
		t.insertReady(j)
		s.sink.JobReady(tube, j.ID)
	}
	return j.ID
}

// ReserveNext returns the highest-priority, oldest ready job among the
// given watched tubes (skipping paused tubes), reserving it for
// connID. Ties across tubes break by tube name ascending.
func (s *Store) ReserveNext(watch []string, connID uint64) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *Job
	var bestTube string
	for _, name := range watch {
		t, ok := s.tubes[name]
		if !ok || len(t.Ready) == 0 || t.isPaused(now) {
			continue
		}
		head := t.Ready[0]
		if best == nil || head.Pri < best.Pri || (head.Pri == best.Pri && name < bestTube) {
			best, bestTube = head, name
		}
	}
	if best == nil {
		return nil, false
	}
	s.reserve(best, connID, now)
	return best, true
}

// ReserveByID reserves a specific job regardless of which tube or
// state it is in (ready, delayed, or buried), provided it is not
// already reserved by another connection.
func (s *Store) ReserveByID(id uint64, connID uint64) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.State == Reserved {
		return nil, false
	}
	s.reserve(j, connID, s.now())
	return j, true
}

func (s *Store) reserve(j *Job, connID uint64, now time.Time) {
	s.removeFromList(j)
	j.State = Reserved
	j.ReserverConnID = connID
	j.Reserves++
	j.TTRExpiresAt = now.Add(j.ttr())
	epoch := s.bump(j)

	s.scheduler.ScheduleTTR(j.ID, j.TTRExpiresAt, epoch)
	soonAt := j.TTRExpiresAt.Add(-deadlineSoonMargin)
	if soonAt.Before(now) {
		soonAt = now
	}
	s.scheduler.ScheduleDeadlineSoon(j.ID, soonAt, epoch, connID)
}

// Delete removes id entirely. If the job is currently reserved by a
// different connection, it reports not-found, mirroring the protocol
// NOT_FOUND rule for ownership-gated operations.
func (s *Store) Delete(id uint64, connID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	if j.State == Reserved && j.ReserverConnID != connID {
		return false
	}
	s.removeFromList(j)
	delete(s.jobs, id)
	s.bump(j)
	if t, ok := s.tubes[j.Tube]; ok {
		s.maybeReap(t)
	}
	return true
}

func (s *Store) removeFromList(j *Job) {
	t, ok := s.tubes[j.Tube]
	if !ok {
		return
	}
	switch j.State {
	case Ready:
		t.removeReady(j)
	case Delayed:
		t.removeDelayed(j)
	case Buried:
		t.removeBuried(j)
	}
}

// Release puts a reserved job back into the ready (or delayed, if
// delay > 0) state with a new priority, on behalf of connID.
func (s *Store) Release(id uint64, connID uint64, pri, delay uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.State != Reserved || j.ReserverConnID != connID {
		return false
	}
	j.Pri = pri
	j.Releases++
	j.ReserverConnID = 0
	now := s.now()
	t := s.tubes[j.Tube]

	if delay > 0 {
		j.State = Delayed
		j.DelayExpiresAt = now.Add(time.Duration(delay) * time.Second)
		t.Delayed = append(t.Delayed, j)
		epoch := s.bump(j)
		s.scheduler.ScheduleDelay(id, j.DelayExpiresAt, epoch)
	} else {
		j.State = Ready
		t.insertReady(j)
		s.bump(j)
		s.sink.JobReady(j.Tube, id)
	}
	return true
}

// Bury moves a reserved job to the buried state with a new priority.
func (s *Store) Bury(id uint64, connID uint64, pri uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.State != Reserved || j.ReserverConnID != connID {
		return false
	}
	j.Pri = pri
	j.Buries++
	j.ReserverConnID = 0
	j.State = Buried
	s.bump(j)
	t := s.tubes[j.Tube]
	t.Buried = append(t.Buried, j)
	return true
}

// Touch resets a reserved job's TTR deadline to now+ttr.
func (s *Store) Touch(id uint64, connID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.State != Reserved || j.ReserverConnID != connID {
		return false
	}
	now := s.now()
	j.TTRExpiresAt = now.Add(j.ttr())
	epoch := s.bump(j)
	s.scheduler.ScheduleTTR(id, j.TTRExpiresAt, epoch)
	soonAt := j.TTRExpiresAt.Add(-deadlineSoonMargin)
	if soonAt.Before(now) {
		soonAt = now
	}
	s.scheduler.ScheduleDeadlineSoon(id, soonAt, epoch, connID)
	return true
}

// Kick moves up to bound jobs out of the buried state into ready, in
// bury order; if none are buried, it instead promotes up to bound
// delayed jobs, oldest-scheduled first. It returns the count kicked.
func (s *Store) Kick(tube string, bound uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tubes[tube]
	if !ok {
		return 0
	}
	n := 0
	for n < int(bound) && len(t.Buried) > 0 {
		j := t.Buried[0]
		t.Buried = t.Buried[1:]
		j.State = Ready
		j.Kicks++
		s.bump(j)
		t.insertReady(j)
		s.sink.JobReady(tube, j.ID)
		n++
	}
	if n > 0 {
		return n
	}
	for n < int(bound) {
		j := t.oldestDelayed()
		if j == nil {
			break
		}
		t.removeDelayed(j)
		j.State = Ready
		j.Kicks++
		s.bump(j)
		t.insertReady(j)
		s.sink.JobReady(tube, j.ID)
		n++
	}
	return n
}

// KickJob promotes a single buried or delayed job to ready regardless
// of its tube's other queues.
func (s *Store) KickJob(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || (j.State != Buried && j.State != Delayed) {
		return false
	}
	t := s.tubes[j.Tube]
	s.removeFromList(j)
	j.State = Ready
	j.Kicks++
	s.bump(j)
	t.insertReady(j)
	s.sink.JobReady(j.Tube, id)
	return true
}

// Peek returns the job with the given id regardless of state.
func (s *Store) Peek(id uint64) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// PeekReady returns the head of tube's ready list.
func (s *Store) PeekReady(tube string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[tube]
	if !ok || len(t.Ready) == 0 {
		return nil, false
	}
	return t.Ready[0], true
}

// PeekDelayed returns the delayed job in tube that will be promoted
// soonest.
func (s *Store) PeekDelayed(tube string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[tube]
	if !ok {
		return nil, false
	}
	j := t.oldestDelayed()
	return j, j != nil
}

// PeekBuried returns the oldest buried job in tube.
func (s *Store) PeekBuried(tube string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[tube]
	if !ok || len(t.Buried) == 0 {
		return nil, false
	}
	return t.Buried[0], true
}

// PauseTube prevents tube's jobs from being reserved for the given
// duration. A duration of zero unpauses it immediately.
func (s *Store) PauseTube(tube string, delaySeconds uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[tube]
	if !ok {
		return false
	}
	if delaySeconds == 0 {
		t.PausedUntil = time.Time{}
		t.PauseDuration = 0
		return true
	}
	t.PausedUntil = s.now().Add(time.Duration(delaySeconds) * time.Second)
	t.PauseDuration = delaySeconds
	return true
}

// ListTubeNames returns every known tube name, sorted.
func (s *Store) ListTubeNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tubes))
	for name := range s.tubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReleaseConnectionJobs releases every job still reserved by connID,
// as required when its connection disconnects. It returns the ids
// released.
func (s *Store) ReleaseConnectionJobs(connID uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []uint64
	for id, j := range s.jobs {
		if j.State != Reserved || j.ReserverConnID != connID {
			continue
		}
		j.ReserverConnID = 0
		j.Releases++
		j.State = Ready
		s.bump(j)
		t := s.tubes[j.Tube]
		t.insertReady(j)
		s.sink.JobReady(j.Tube, id)
		released = append(released, id)
	}
	return released
}

// FireDelay is invoked by the timer service when a scheduled delay
// deadline elapses. It promotes the job to ready only if epoch still
// matches the job's current epoch (i.e. nothing else touched the job
// since the timer was scheduled).
func (s *Store) FireDelay(jobID uint64, epoch uint32) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok || j.Epoch != epoch || j.State != Delayed {
		s.mu.Unlock()
		return
	}
	t := s.tubes[j.Tube]
	t.removeDelayed(j)
	j.State = Ready
	t.insertReady(j)
	tube := j.Tube
	s.mu.Unlock()
	s.sink.JobReady(tube, jobID)
}

// FireTTR is invoked by the timer service when a reservation's TTR
// elapses without the client deleting, releasing, burying or
// re-touching it.
func (s *Store) FireTTR(jobID uint64, epoch uint32) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok || j.Epoch != epoch || j.State != Reserved {
		s.mu.Unlock()
		return
	}
	connID := j.ReserverConnID
	j.Timeouts++
	j.ReserverConnID = 0
	j.State = Ready
	t := s.tubes[j.Tube]
	t.insertReady(j)
	tube := j.Tube
	s.mu.Unlock()

	s.sink.JobExpired(connID, jobID)
	s.sink.JobReady(tube, jobID)
}

// FireDeadlineSoon is invoked by the timer service shortly before a
// reservation's TTR would otherwise expire.
func (s *Store) FireDeadlineSoon(jobID uint64, epoch uint32, connID uint64) {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	valid := ok && j.Epoch == epoch && j.State == Reserved && j.ReserverConnID == connID
	s.mu.Unlock()
	if valid {
		s.sink.DeadlineSoon(connID, jobID)
	}
}
