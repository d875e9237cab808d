// Package server wires the codec, job store, timer service,
// reservation coordinator and connection driver into a runnable TCP
// server, supervising the accept loop and timer service as sibling
// members of an errgroup so either one exiting tears down the other.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jobtube/beanstalkd/internal/conn"
	"github.com/jobtube/beanstalkd/internal/proto"
	"github.com/jobtube/beanstalkd/internal/reserve"
	"github.com/jobtube/beanstalkd/internal/store"
	"github.com/jobtube/beanstalkd/internal/timer"
)

// Config controls the knobs the core leaves to its external
// collaborator: the listen address and the job-size ceiling.
type Config struct {
	Address    string
	MaxJobSize int
}

// DefaultMaxJobSize is MAX_JOB_SIZE's default per the wire contract.
const DefaultMaxJobSize = proto.DefaultMaxJobSize

// Server owns the listener, the job store and its collaborators, and
// the set of live connections.
type Server struct {
	cfg      Config
	instance string

	store    *store.Store
	timerSvc *timer.Service
	coord    *reserve.Coordinator
	hub      *conn.Hub
	counters *conn.CommandCounters

	mu       sync.Mutex
	nextConn uint64
	draining chan struct{}

	connWG sync.WaitGroup
	ln     net.Listener
}

// New builds a Server ready to Serve. instanceID is surfaced in the
// `stats` reply's id field (a process instance identifier, not a job
// or connection id).
func New(cfg Config, instanceID string) *Server {
	if cfg.MaxJobSize == 0 {
		cfg.MaxJobSize = DefaultMaxJobSize
	}
	s := &Server{
		cfg:      cfg,
		instance: instanceID,
		counters: conn.NewCommandCounters(),
		draining: make(chan struct{}),
	}

	hub := conn.NewHub(nil)
	st := store.New(hub, nil)
	timerSvc := timer.New(st)
	st.SetScheduler(timerSvc)
	coord := reserve.New(st)
	hub.Coord = coord

	s.store = st
	s.timerSvc = timerSvc
	s.coord = coord
	s.hub = hub
	return s
}

// Serve binds the listener and accepts connections until ctx is
// cancelled. It blocks until every connection has wound down.
//
// The accept loop and the timer service run as sibling members of an
// errgroup: either returning ends the other via the group's shared
// context, the same cancel-on-exit supervision the teacher gives its
// broker dispatcher and workers.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return errors.Wrap(err, "bind listener")
	}
	s.ln = ln
	logrus.WithField("addr", ln.Addr()).Info("beanstalkd core listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.timerSvc.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			c, err := ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					s.connWG.Wait()
					return nil
				default:
					logrus.WithError(err).Warn("accept failed")
					continue
				}
			}
			s.connWG.Add(1)
			go func() {
				defer s.connWG.Done()
				s.serveConn(gctx, c)
			}()
		}
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	s.mu.Lock()
	s.nextConn++
	id := s.nextConn
	s.mu.Unlock()

	sess := conn.New(id, c, s.store, s.coord, s.hub, s.counters, s.instance, s.cfg.MaxJobSize, s.draining)
	sess.Serve(ctx)
}

// Drain signals that put should start failing with DRAINING — e.g. on
// SIGUSR1, so an operator can stop accepting new work ahead of a
// planned restart without killing in-flight reservations.
func (s *Server) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.draining:
	default:
		close(s.draining)
	}
}

// Draining reports whether Drain has been called.
func (s *Server) Draining() bool {
	select {
	case <-s.draining:
		return true
	default:
		return false
	}
}
