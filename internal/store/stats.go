package store

import "time"

// GlobalStats summarizes job and tube counts across the whole store.
// Command-invocation counters live alongside this in the connection
// layer (conn.CommandCounters), which is the only place that observes
// verbs.
type GlobalStats struct {
	CurrentJobsReady    uint64
	CurrentJobsReserved uint64
	CurrentJobsDelayed  uint64
	CurrentJobsBuried   uint64
	CurrentTubes        uint64
	TotalJobs           uint64
}

// GlobalStats computes a fresh snapshot.
func (s *Store) GlobalStats() GlobalStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var g GlobalStats
	g.CurrentTubes = uint64(len(s.tubes))
	g.TotalJobs = s.nextID
	for _, j := range s.jobs {
		switch j.State {
		case Ready:
			g.CurrentJobsReady++
		case Reserved:
			g.CurrentJobsReserved++
		case Delayed:
			g.CurrentJobsDelayed++
		case Buried:
			g.CurrentJobsBuried++
		}
	}
	return g
}

// TubeStats summarizes one tube's job counts and pause state.
type TubeStats struct {
	Name                string
	CurrentJobsReady    uint64
	CurrentJobsReserved uint64
	CurrentJobsDelayed  uint64
	CurrentJobsBuried   uint64
	TotalJobs           uint64
	Pause               uint64
	PauseTimeLeft       uint64
}

// TubeStats computes a snapshot for the named tube.
func (s *Store) TubeStats(name string) (TubeStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tubes[name]
	if !ok {
		return TubeStats{}, false
	}
	ts := TubeStats{
		Name:                name,
		CurrentJobsReady:    uint64(len(t.Ready)),
		CurrentJobsDelayed:  uint64(len(t.Delayed)),
		CurrentJobsBuried:   uint64(len(t.Buried)),
		CurrentJobsReserved: 0,
	}
	for _, j := range s.jobs {
		if j.Tube == name && j.State == Reserved {
			ts.CurrentJobsReserved++
		}
		if j.Tube == name {
			ts.TotalJobs++
		}
	}
	now := s.now()
	if t.isPaused(now) {
		left := t.PausedUntil.Sub(now)
		if left > 0 {
			ts.PauseTimeLeft = uint64(left / time.Second)
		}
		ts.Pause = uint64(t.PauseDuration)
	}
	return ts, true
}

// JobStats summarizes one job's metadata and usage counters.
type JobStats struct {
	ID       uint64
	Tube     string
	State    string
	Pri      uint32
	Age      uint64
	TTR      uint32
	Reserves uint64
	Timeouts uint64
	Releases uint64
	Buries   uint64
	Kicks    uint64
}

// JobStats returns a snapshot of job id's stats.
func (s *Store) JobStats(id uint64) (JobStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobStats{}, false
	}
	return JobStats{
		ID:       j.ID,
		Tube:     j.Tube,
		State:    j.State.String(),
		Pri:      j.Pri,
		Age:      uint64(s.now().Sub(j.CreatedAt) / time.Second),
		TTR:      j.TTRSeconds,
		Reserves: j.Reserves,
		Timeouts: j.Timeouts,
		Releases: j.Releases,
		Buries:   j.Buries,
		Kicks:    j.Kicks,
	}, true
}
