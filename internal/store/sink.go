package store

import "time"

// Sink receives state-change notifications the store must publish
// without blocking while holding its lock. A single adapter (conn.Hub,
// wired by the server package) fans these out to the reservation
// coordinator and to each connection's async-reply channel.
type Sink interface {
	// JobReady fires whenever a job becomes available to be reserved:
	// on put with no delay, on delay expiry, on release, on kick, and
	// on TTR expiry.
	JobReady(tube string, jobID uint64)

	// JobExpired fires when the timer service reaps a reservation
	// whose TTR ran out. The owning connection must drop jobID from
	// its reserved set; no reply is sent to the client.
	JobExpired(connID, jobID uint64)

	// DeadlineSoon fires once, shortly before a reservation's TTR
	// expires, so the owning connection can push an unsolicited
	// DEADLINE_SOON line, whether or not the client is blocked in
	// reserve.
	DeadlineSoon(connID, jobID uint64)
}

// Scheduler is the store's view of the timer service: a place to
// register future (job, epoch) events. Implementations must not block
// the caller.
type Scheduler interface {
	ScheduleDelay(jobID uint64, at time.Time, epoch uint32)
	ScheduleTTR(jobID uint64, at time.Time, epoch uint32)
	ScheduleDeadlineSoon(jobID uint64, at time.Time, epoch uint32, connID uint64)
}
