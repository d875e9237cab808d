package conn

import "sync/atomic"

// CommandCounters tallies invocations per verb, process-wide. It backs
// the cmd-* fields of the `stats` reply; the job/tube counts in that
// same reply come straight from the store.
type CommandCounters struct {
	Put                uint64
	Peek               uint64
	PeekReady          uint64
	PeekDelayed        uint64
	PeekBuried         uint64
	Reserve            uint64
	ReserveWithTimeout uint64
	Delete             uint64
	Release            uint64
	Use                uint64
	Watch              uint64
	Ignore             uint64
	Bury               uint64
	Kick               uint64
	Touch              uint64
	Stats              uint64
	StatsJob           uint64
	StatsTube          uint64
	ListTubes          uint64
	ListTubeUsed       uint64
	ListTubesWatched   uint64
	PauseTube          uint64
}

// NewCommandCounters returns a zeroed counter set.
func NewCommandCounters() *CommandCounters { return &CommandCounters{} }

func incr(p *uint64) { atomic.AddUint64(p, 1) }

func (c *CommandCounters) snapshot() CommandCounters {
	return CommandCounters{
		Put:                atomic.LoadUint64(&c.Put),
		Peek:               atomic.LoadUint64(&c.Peek),
		PeekReady:          atomic.LoadUint64(&c.PeekReady),
		PeekDelayed:        atomic.LoadUint64(&c.PeekDelayed),
		PeekBuried:         atomic.LoadUint64(&c.PeekBuried),
		Reserve:            atomic.LoadUint64(&c.Reserve),
		ReserveWithTimeout: atomic.LoadUint64(&c.ReserveWithTimeout),
		Delete:             atomic.LoadUint64(&c.Delete),
		Release:            atomic.LoadUint64(&c.Release),
		Use:                atomic.LoadUint64(&c.Use),
		Watch:              atomic.LoadUint64(&c.Watch),
		Ignore:             atomic.LoadUint64(&c.Ignore),
		Bury:               atomic.LoadUint64(&c.Bury),
		Kick:               atomic.LoadUint64(&c.Kick),
		Touch:              atomic.LoadUint64(&c.Touch),
		Stats:              atomic.LoadUint64(&c.Stats),
		StatsJob:           atomic.LoadUint64(&c.StatsJob),
		StatsTube:          atomic.LoadUint64(&c.StatsTube),
		ListTubes:          atomic.LoadUint64(&c.ListTubes),
		ListTubeUsed:       atomic.LoadUint64(&c.ListTubeUsed),
		ListTubesWatched:   atomic.LoadUint64(&c.ListTubesWatched),
		PauseTube:          atomic.LoadUint64(&c.PauseTube),
	}
}
