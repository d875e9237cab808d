package conn

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jobtube/beanstalkd/internal/proto"
	"github.com/jobtube/beanstalkd/internal/reserve"
	"github.com/jobtube/beanstalkd/internal/store"
)

const defaultTube = "default"

// Session is one connection's protocol driver: it owns the used tube,
// watch-set and reserved-job set, and dispatches commands against the
// store sequentially — exactly one command from a given connection is
// ever in flight. Asynchronous pushes (DEADLINE_SOON) are funneled
// through the same outbound channel as command replies so a frame is
// never split and command responses stay in issue order.
type Session struct {
	id         uint64
	conn       net.Conn
	dec        *proto.Decoder
	maxJobSize int

	st       *store.Store
	coord    *reserve.Coordinator
	hub      *Hub
	counters *CommandCounters
	instance string

	draining <-chan struct{}
	out      chan []byte

	used  string
	watch map[string]bool

	// reservedMu guards reserved: the dispatch goroutine mutates it on
	// every reserve/delete/release/bury/touch, while onJobExpired can
	// be called concurrently from the timer goroutine via Hub.
	reservedMu sync.Mutex
	reserved   map[uint64]bool

	log *logrus.Entry
}

// New constructs a Session for an accepted connection. id must be
// unique for the life of the process.
func New(id uint64, c net.Conn, st *store.Store, coord *reserve.Coordinator, hub *Hub, counters *CommandCounters, instance string, maxJobSize int, draining <-chan struct{}) *Session {
	return &Session{
		id:         id,
		conn:       c,
		dec:        proto.NewDecoder(c, maxJobSize),
		maxJobSize: maxJobSize,
		st:         st,
		coord:      coord,
		hub:        hub,
		counters:   counters,
		instance:   instance,
		draining:   draining,
		out:        make(chan []byte, 16),
		used:       defaultTube,
		watch:      map[string]bool{defaultTube: true},
		reserved:   make(map[uint64]bool),
		log:        logrus.WithField("conn", id),
	}
}

// Serve runs the session until the connection closes or ctx is
// cancelled. It always returns after releasing every job the
// connection held in reservation and unregistering from the hub.
func (s *Session) Serve(ctx context.Context) {
	s.st.Retain(defaultTube)
	s.st.Retain(defaultTube)
	s.hub.register(s)

	stopWriter := make(chan struct{})
	writerDone := make(chan struct{})
	go s.writeLoop(stopWriter, writerDone)

	s.readLoop(ctx)

	// Unregister before tearing down the writer so the hub can no
	// longer hand a timer/deadline-soon event to this session; out is
	// never closed, so any send still briefly in flight is harmless.
	s.hub.unregister(s.id)
	close(stopWriter)
	<-writerDone
	s.conn.Close()
	s.cleanup()
}

func (s *Session) cleanup() {
	released := s.st.ReleaseConnectionJobs(s.id)
	if len(released) > 0 {
		s.log.WithField("jobs", released).Debug("released reservations on disconnect")
	}
	s.st.Release(s.used)
	for tube := range s.watch {
		s.st.Release(tube)
	}
}

func (s *Session) writeLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case frame := <-s.out:
			if _, err := s.conn.Write(frame); err != nil {
				s.log.WithError(err).Debug("write failed")
				return
			}
		case <-stop:
			return
		}
	}
}

// send queues a reply frame for the writer goroutine. If the peer has
// stopped reading and the outbound buffer is full, this blocks —
// applying backpressure to this connection's dispatch loop without
// affecting any other connection.
func (s *Session) send(tokens []proto.Token) {
	s.out <- proto.Encode(tokens)
}

// sendAsync queues a server-initiated frame (DEADLINE_SOON) that isn't
// a reply to anything this connection sent. It is invoked from the
// single timer goroutine via Hub, so it must never block: a peer that
// has stopped reading would otherwise stall every other connection's
// delay/TTR timers behind a full out channel. A dropped push just
// means the client gets no warning before the TTR lapses; it learns
// of the lapse when a later command on that job replies NOT_FOUND.
func (s *Session) sendAsync(tokens []proto.Token) {
	select {
	case s.out <- proto.Encode(tokens):
	default:
		s.log.Debug("dropped async push: outbound buffer full")
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		tokens, err := s.dec.ReadCommand()
		if err != nil {
			if d, ok := err.(proto.Desync); ok {
				s.send([]proto.Token{proto.Name(string(d.Err))})
				return
			}
			if pe, ok := err.(proto.ProtoError); ok {
				s.send([]proto.Token{proto.Name(string(pe))})
				continue
			}
			if err != io.EOF {
				s.log.WithError(errors.Wrap(err, "read command")).Debug("connection read error")
			}
			return
		}
		cmd, err := proto.Parse(tokens)
		if err != nil {
			s.send([]proto.Token{proto.Name(string(err.(proto.ProtoError)))})
			continue
		}
		if cmd.Kind == proto.CmdQuit {
			return
		}
		s.dispatch(ctx, cmd)
	}
}

func (s *Session) dispatch(ctx context.Context, cmd proto.Command) {
	switch cmd.Kind {
	case proto.CmdPut:
		incr(&s.counters.Put)
		s.handlePut(cmd)
	case proto.CmdUse:
		incr(&s.counters.Use)
		s.handleUse(cmd)
	case proto.CmdReserve:
		incr(&s.counters.Reserve)
		s.handleReserve(ctx, time.Time{})
	case proto.CmdReserveWithTimeout:
		incr(&s.counters.ReserveWithTimeout)
		var deadline time.Time
		if cmd.Seconds == 0 {
			deadline = time.Now()
		} else {
			deadline = time.Now().Add(time.Duration(cmd.Seconds) * time.Second)
		}
		s.handleReserve(ctx, deadline)
	case proto.CmdReserveJob:
		incr(&s.counters.Reserve)
		s.handleReserveJob(cmd)
	case proto.CmdDelete:
		incr(&s.counters.Delete)
		s.handleDelete(cmd)
	case proto.CmdRelease:
		incr(&s.counters.Release)
		s.handleRelease(cmd)
	case proto.CmdBury:
		incr(&s.counters.Bury)
		s.handleBury(cmd)
	case proto.CmdTouch:
		incr(&s.counters.Touch)
		s.handleTouch(cmd)
	case proto.CmdWatch:
		incr(&s.counters.Watch)
		s.handleWatch(cmd)
	case proto.CmdIgnore:
		incr(&s.counters.Ignore)
		s.handleIgnore(cmd)
	case proto.CmdPeek:
		incr(&s.counters.Peek)
		s.handlePeek(cmd)
	case proto.CmdPeekReady:
		incr(&s.counters.PeekReady)
		s.handlePeekState(s.st.PeekReady)
	case proto.CmdPeekDelayed:
		incr(&s.counters.PeekDelayed)
		s.handlePeekState(s.st.PeekDelayed)
	case proto.CmdPeekBuried:
		incr(&s.counters.PeekBuried)
		s.handlePeekState(s.st.PeekBuried)
	case proto.CmdKick:
		incr(&s.counters.Kick)
		n := s.st.Kick(s.used, cmd.Bound)
		s.send([]proto.Token{proto.Name("KICKED"), countTok(n)})
	case proto.CmdKickJob:
		incr(&s.counters.Kick)
		if s.st.KickJob(cmd.ID) {
			s.send([]proto.Token{proto.Name("KICKED")})
		} else {
			s.send(notFound())
		}
	case proto.CmdStatsJob:
		incr(&s.counters.StatsJob)
		s.handleStatsJob(cmd)
	case proto.CmdStatsTube:
		incr(&s.counters.StatsTube)
		s.handleStatsTube(cmd)
	case proto.CmdStats:
		incr(&s.counters.Stats)
		s.handleStats()
	case proto.CmdListTubes:
		incr(&s.counters.ListTubes)
		s.handleListTubes()
	case proto.CmdListTubeUsed:
		incr(&s.counters.ListTubeUsed)
		s.send([]proto.Token{proto.Name("USING"), proto.Name(s.used)})
	case proto.CmdListTubesWatched:
		incr(&s.counters.ListTubesWatched)
		s.handleListTubesWatched()
	case proto.CmdPauseTube:
		incr(&s.counters.PauseTube)
		if s.st.PauseTube(cmd.Tube, cmd.Delay) {
			s.send([]proto.Token{proto.Name("PAUSED")})
		} else {
			s.send(notFound())
		}
	default:
		s.send([]proto.Token{proto.Name(string(proto.ErrBadFormat))})
	}
}

func notFound() []proto.Token { return []proto.Token{proto.Name(string(proto.ErrNotFound))} }

func (s *Session) handlePut(cmd proto.Command) {
	select {
	case <-s.draining:
		s.send([]proto.Token{proto.Name(string(proto.ErrDraining))})
		return
	default:
	}
	id := s.st.Put(s.used, cmd.Pri, cmd.Delay, cmd.TTR, cmd.Body)
	s.send([]proto.Token{proto.Name("INSERTED"), idTok(id)})
}

func (s *Session) handleUse(cmd proto.Command) {
	if cmd.Tube != s.used {
		s.st.Release(s.used)
		s.used = cmd.Tube
		s.st.Retain(s.used)
	}
	s.send([]proto.Token{proto.Name("USING"), proto.Name(s.used)})
}

func (s *Session) watchList() []string {
	list := make([]string, 0, len(s.watch))
	for t := range s.watch {
		list = append(list, t)
	}
	return list
}

func (s *Session) handleReserve(ctx context.Context, deadline time.Time) {
	j, err := s.coord.Reserve(ctx, s.watchList(), s.id, deadline, s.draining)
	if err != nil {
		if pe, ok := err.(proto.ProtoError); ok {
			s.send([]proto.Token{proto.Name(string(pe))})
		} else {
			s.send([]proto.Token{proto.Name(string(proto.ErrTimedOut))})
		}
		return
	}
	s.markReserved(j.ID)
	s.send(jobBody(j))
}

func (s *Session) handleReserveJob(cmd proto.Command) {
	j, ok := s.st.ReserveByID(cmd.ID, s.id)
	if !ok {
		s.send(notFound())
		return
	}
	s.markReserved(j.ID)
	s.send(jobBody(j))
}

func (s *Session) handleDelete(cmd proto.Command) {
	if s.st.Delete(cmd.ID, s.id) {
		s.unmarkReserved(cmd.ID)
		s.send([]proto.Token{proto.Name("DELETED")})
		return
	}
	s.send(notFound())
}

func (s *Session) handleRelease(cmd proto.Command) {
	if s.st.Release(cmd.ID, s.id, cmd.Pri, cmd.Delay) {
		s.unmarkReserved(cmd.ID)
		s.send([]proto.Token{proto.Name("RELEASED")})
		return
	}
	s.send(notFound())
}

func (s *Session) handleBury(cmd proto.Command) {
	if s.st.Bury(cmd.ID, s.id, cmd.Pri) {
		s.unmarkReserved(cmd.ID)
		s.send([]proto.Token{proto.Name("BURIED")})
		return
	}
	s.send(notFound())
}

func (s *Session) markReserved(jobID uint64) {
	s.reservedMu.Lock()
	s.reserved[jobID] = true
	s.reservedMu.Unlock()
}

func (s *Session) unmarkReserved(jobID uint64) {
	s.reservedMu.Lock()
	delete(s.reserved, jobID)
	s.reservedMu.Unlock()
}

func (s *Session) handleTouch(cmd proto.Command) {
	if s.st.Touch(cmd.ID, s.id) {
		s.send([]proto.Token{proto.Name("TOUCHED")})
		return
	}
	s.send(notFound())
}

func (s *Session) handleWatch(cmd proto.Command) {
	if !s.watch[cmd.Tube] {
		s.watch[cmd.Tube] = true
		s.st.Retain(cmd.Tube)
	}
	s.send([]proto.Token{proto.Name("WATCHING"), countTok(len(s.watch))})
}

func (s *Session) handleIgnore(cmd proto.Command) {
	if s.watch[cmd.Tube] {
		if len(s.watch) == 1 {
			s.send([]proto.Token{proto.Name(string(proto.ErrNotIgnored))})
			return
		}
		delete(s.watch, cmd.Tube)
		s.st.Release(cmd.Tube)
	}
	s.send([]proto.Token{proto.Name("WATCHING"), countTok(len(s.watch))})
}

func (s *Session) handlePeek(cmd proto.Command) {
	j, ok := s.st.Peek(cmd.ID)
	if !ok {
		s.send(notFound())
		return
	}
	s.send(foundBody(j))
}

func (s *Session) handlePeekState(lookup func(string) (*store.Job, bool)) {
	j, ok := lookup(s.used)
	if !ok {
		s.send(notFound())
		return
	}
	s.send(foundBody(j))
}

func foundBody(j *store.Job) []proto.Token {
	return []proto.Token{proto.Name("FOUND"), idTok(j.ID), countTok(len(j.Body)), proto.CRLF, proto.BytesTok(j.Body), proto.CRLF}
}

func (s *Session) handleStatsJob(cmd proto.Command) {
	js, ok := s.st.JobStats(cmd.ID)
	if !ok {
		s.send(notFound())
		return
	}
	doc := jobStatsDoc{
		ID: js.ID, Tube: js.Tube, State: js.State, Pri: js.Pri, Age: js.Age, TTR: js.TTR,
		Reserves: js.Reserves, Timeouts: js.Timeouts, Releases: js.Releases, Buries: js.Buries, Kicks: js.Kicks,
	}
	s.send(append([]proto.Token{proto.Name("OK")}, yamlBody(doc)...))
}

func (s *Session) handleStatsTube(cmd proto.Command) {
	ts, ok := s.st.TubeStats(cmd.Tube)
	if !ok {
		s.send(notFound())
		return
	}
	doc := tubeStatsDoc{
		Name: ts.Name, CurrentJobsReady: ts.CurrentJobsReady, CurrentJobsReserved: ts.CurrentJobsReserved,
		CurrentJobsDelayed: ts.CurrentJobsDelayed, CurrentJobsBuried: ts.CurrentJobsBuried,
		TotalJobs: ts.TotalJobs, Pause: ts.Pause, PauseTimeLeft: ts.PauseTimeLeft,
	}
	s.send(append([]proto.Token{proto.Name("OK")}, yamlBody(doc)...))
}

func (s *Session) handleStats() {
	gs := s.st.GlobalStats()
	c := s.counters.snapshot()
	doc := globalStatsDoc{
		CurrentJobsReady: gs.CurrentJobsReady, CurrentJobsReserved: gs.CurrentJobsReserved,
		CurrentJobsDelayed: gs.CurrentJobsDelayed, CurrentJobsBuried: gs.CurrentJobsBuried,
		CurrentTubes: gs.CurrentTubes, TotalJobs: gs.TotalJobs,
		CmdPut: c.Put, CmdPeek: c.Peek, CmdPeekReady: c.PeekReady, CmdPeekDelayed: c.PeekDelayed,
		CmdPeekBuried: c.PeekBuried, CmdReserve: c.Reserve, CmdReserveWithTimeout: c.ReserveWithTimeout,
		CmdDelete: c.Delete, CmdRelease: c.Release, CmdUse: c.Use, CmdWatch: c.Watch, CmdIgnore: c.Ignore,
		CmdBury: c.Bury, CmdKick: c.Kick, CmdTouch: c.Touch, CmdStats: c.Stats, CmdStatsJob: c.StatsJob,
		CmdStatsTube: c.StatsTube, CmdListTubes: c.ListTubes, CmdListTubeUsed: c.ListTubeUsed,
		CmdListTubesWatched: c.ListTubesWatched, CmdPauseTube: c.PauseTube, ID: s.instance,
	}
	s.send(append([]proto.Token{proto.Name("OK")}, yamlBody(doc)...))
}

func (s *Session) handleListTubes() {
	names := s.st.ListTubeNames()
	s.send(append([]proto.Token{proto.Name("OK")}, yamlBody(names)...))
}

func (s *Session) handleListTubesWatched() {
	names := s.watchList()
	sort.Strings(names)
	s.send(append([]proto.Token{proto.Name("OK")}, yamlBody(names)...))
}

func (s *Session) onJobExpired(jobID uint64) {
	s.unmarkReserved(jobID)
}

func (s *Session) onDeadlineSoon(uint64) {
	s.sendAsync([]proto.Token{proto.Name(string(proto.ErrDeadlineSoon))})
}
