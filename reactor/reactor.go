// Package reactor owns the listening socket(s), accepts connections, and
// promotes each to its own goroutine running the session FSM — the
// idiomatic Go realization of a readiness-driven multiplexer: the Go
// runtime's netpoller is the thing actually doing non-blocking I/O
// multiplexing underneath a blocking-looking per-goroutine read, the same
// way one select()-driven loop did in the reference C emulator.
package reactor

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gfx.cafe/gfx/pgwired/config"
	"gfx.cafe/gfx/pgwired/dispatch"
	"gfx.cafe/gfx/pgwired/internal/obslog"
	"gfx.cafe/gfx/pgwired/perror"
	"gfx.cafe/gfx/pgwired/pgmetrics"
	"gfx.cafe/gfx/pgwired/protocol"
	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire"
	"gfx.cafe/gfx/pgwired/wire/backend"
)

// Server accepts connections on one or more listeners and drives each
// through the protocol state machine, using Table for application logic.
type Server struct {
	Config  config.Config
	Table   *dispatch.Table
	Log     *zap.Logger
	Metrics *pgmetrics.Registry
	TLS     *tls.Config

	sessions *sessionTable
	open     atomic.Int64
	nextID   atomic.Uint64

	listeners []net.Listener
	wg        sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Server ready to Listen/Serve. log and metrics may be nil,
// in which case logging/metrics are no-ops.
func New(cfg config.Config, table *dispatch.Table, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if table == nil {
		table = dispatch.NewTable()
	}
	return &Server{
		Config:   cfg,
		Table:    table,
		Log:      log,
		sessions: newSessionTable(),
		closed:   make(chan struct{}),
	}
}

// Listen opens a TCP listener on addr and starts the accept loop. Call Close to stop it.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, ln)
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Close stops accepting new connections and closes every listener. It
// does not forcibly close sessions already in progress.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, ln := range s.listeners {
			if cerr := ln.Close(); cerr != nil {
				err = cerr
			}
		}
	})
	s.wg.Wait()
	return err
}

// ActiveSessions reports how many connections are currently registered
// (i.e. past authentication) in the cancel-lookup table.
func (s *Server) ActiveSessions() int { return s.sessions.len() }

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.Log.Warn("accept error", zap.Error(err))
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	started := time.Now()
	s.Metrics.RecordAccept()
	defer conn.Close()

	if max := s.Config.MaxConnections; max > 0 && int(s.open.Add(1)) > max {
		s.open.Add(-1)
		s.rejectTooManyConnections(conn)
		return
	}
	defer s.open.Add(-1)

	id := s.nextID.Add(1)
	sess := session.New(id, conn)
	if s.Config.MaxFrameSize > 0 {
		sess.Dec.SetMaxFrameSize(s.Config.MaxFrameSize)
		sess.Enc.SetMaxFrameSize(s.Config.MaxFrameSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := protocol.Options{
		TLSConfig:      s.TLS,
		StartupTimeout: s.Config.StartupTimeout,
		AllocateBackendKey: func() session.BackendKey {
			return newBackendKey()
		},
		OnCancelRequest: func(_ context.Context, pid, secret uint32) error {
			s.Metrics.RecordCancelRequest()
			s.sessions.cancel(pid, secret)
			return nil
		},
		RegisterSession: func(registered *session.Session) {
			s.sessions.register(registered.BackendKey.PID, registered.BackendKey.Secret, func() {
				registered.RequestCancel()
			})
			obslog.Connected(s.Log, registered.ID, registered.TraceID, registered.User, registered.Database, conn.RemoteAddr().String())
		},
		UnregisterSession: func(sess *session.Session) {
			s.sessions.unregister(sess.BackendKey.PID, sess.BackendKey.Secret)
		},
		OnFrame: func(fs *session.Session, typ byte, length int, summary string) {
			s.Metrics.RecordFrame(pgmetrics.DirectionInbound, typ)
			obslog.Frame(s.Log, obslog.Inbound, fs.ID, fs.TraceID, typ, length, summary)
		},
	}

	err := protocol.Serve(ctx, sess, s.Table, opts)
	normalized := normalizeServeErr(err)
	obslog.Disconnected(s.Log, id, sess.TraceID, normalized)
	code := ""
	if pe := perror.Wrap(normalized); pe != nil {
		code = string(pe.Code())
	}
	s.Metrics.RecordClose(started, code)
}

func normalizeServeErr(err error) error {
	if errors.Is(err, protocol.ErrTerminated) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) rejectTooManyConnections(conn net.Conn) {
	pe := perror.New(perror.FATAL, perror.TooManyConnections, "sorry, too many clients already")
	enc := wire.NewEncoder(conn)
	backend.ErrorResponse(enc, pe)
	_ = enc.Flush(context.Background())
	s.Log.Info("rejected connection over max_connections", zap.String("remote", conn.RemoteAddr().String()))
}
