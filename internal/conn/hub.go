// Package conn implements the per-connection protocol driver: the
// state machine that owns a connection's used tube, watch-set and
// reserved-job set, dispatches parsed commands against the job store,
// and serializes replies — including asynchronous DEADLINE_SOON
// pushes — back onto the wire without ever splitting a frame.
package conn

import (
	"sync"

	"github.com/jobtube/beanstalkd/internal/reserve"
)

// Hub fans out store.Sink notifications: ready events go to the
// reservation coordinator, while per-connection events (deadline-soon,
// unsolicited expiry) are routed to the owning Session by connection
// id. It is the concrete store.Sink implementation wired at server
// start.
type Hub struct {
	Coord *reserve.Coordinator

	mu       sync.Mutex
	sessions map[uint64]*Session
}

// NewHub constructs a Hub bound to coord.
func NewHub(coord *reserve.Coordinator) *Hub {
	return &Hub{Coord: coord, sessions: make(map[uint64]*Session)}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) session(id uint64) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// JobReady implements store.Sink.
func (h *Hub) JobReady(tube string, jobID uint64) {
	h.Coord.JobReady(tube, jobID)
}

// JobExpired implements store.Sink: the owning session drops jobID
// from its reserved set. No reply is sent.
func (h *Hub) JobExpired(connID, jobID uint64) {
	if s := h.session(connID); s != nil {
		s.onJobExpired(jobID)
	}
}

// DeadlineSoon implements store.Sink: the owning session pushes an
// unsolicited DEADLINE_SOON line if it is still connected.
func (h *Hub) DeadlineSoon(connID, jobID uint64) {
	if s := h.session(connID); s != nil {
		s.onDeadlineSoon(jobID)
	}
}
