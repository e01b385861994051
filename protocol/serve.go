// Package protocol drives a single Session through the wire protocol's
// state machine, decoding each frame and calling into a dispatch.Table.
// It is the "Session FSM" of the emulator: legality of a message is
// judged purely from the session's current Phase, independent of what
// any handler chooses to do.
package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"gfx.cafe/gfx/pgwired/dispatch"
	"gfx.cafe/gfx/pgwired/perror"
	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire"
	"gfx.cafe/gfx/pgwired/wire/backend"
)

// ErrTerminated is returned by Serve when the client sent Terminate or
// closed the connection cleanly.
var ErrTerminated = errors.New("protocol: session terminated")

// Options configures one Serve invocation.
type Options struct {
	// TLSConfig, if non-nil, allows the session to accept an SSLRequest
	// and upgrade in place. If nil, every SSLRequest is refused.
	TLSConfig *tls.Config
	// StartupTimeout bounds how long the connection may sit in
	// PhaseAwaitStartup/PhaseAwaitAuth before it is closed. Zero means
	// no timeout.
	StartupTimeout time.Duration
	// OnCancelRequest is invoked, on the same goroutine, whenever a
	// CancelRequest frame arrives — it does not run against this
	// session's own state, since a CancelRequest always arrives on its
	// own short-lived connection.
	OnCancelRequest func(ctx context.Context, pid, secret uint32) error
	// AllocateBackendKey is called once, during startup, to obtain the
	// (pid, secret) pair this session will report in BackendKeyData and
	// register under for cancellation.
	AllocateBackendKey func() session.BackendKey
	// RegisterSession and UnregisterSession bracket the authenticated
	// lifetime of the session in whatever table serves cancel lookups.
	RegisterSession   func(*session.Session)
	UnregisterSession func(*session.Session)
	// OnFrame, if set, is called for each inbound Query and Parse frame
	// read during runReady, after the message is decoded and before it is
	// dispatched — the structured per-frame access-log hook. summary is
	// the message's query text summary. No other inbound frame and no
	// outbound frame triggers it.
	OnFrame func(s *session.Session, typ byte, length int, summary string)
}

// Serve runs s until the client disconnects, sends Terminate, outlives
// its startup timeout, or a protocol violation forces closure. It always returns a
// non-nil error; ErrTerminated and io.EOF indicate a normal end.
func Serve(ctx context.Context, s *session.Session, table *dispatch.Table, opts Options) error {
	if opts.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.StartupTimeout)
		defer cancel()
		// The context deadline is only checked between reads; the
		// connection deadline also ends a read blocked on a silent client.
		_ = s.Conn.SetDeadline(time.Now().Add(opts.StartupTimeout))
	}

	if err := runStartup(ctx, s, table, opts); err != nil {
		return err
	}

	// Startup succeeded; drop the bounded-startup deadline for the rest
	// of the session's life.
	ctx = context.WithoutCancel(ctx)
	if opts.StartupTimeout > 0 {
		_ = s.Conn.SetDeadline(time.Time{})
	}

	if opts.RegisterSession != nil {
		opts.RegisterSession(s)
	}
	if opts.UnregisterSession != nil {
		defer opts.UnregisterSession(s)
	}

	return runReady(ctx, s, table, opts)
}

// runStartup handles PhaseAwaitStartup/PhaseSSLNegotiating/PhaseAwaitAuth
// up through the ReadyForQuery that ends a successful handshake, or up
// through a CancelRequest, which never proceeds to runReady.
func runStartup(ctx context.Context, s *session.Session, table *dispatch.Table, opts Options) error {
	for {
		if err := s.Dec.Next(ctx, false); err != nil {
			return translateDecodeErr(ctx, s, err)
		}
		version, err := s.Dec.Int32()
		if err != nil {
			return translateDecodeErr(ctx, s, err)
		}
		switch version {
		case wire.CancelRequestCode:
			req, err := session.DecodeCancelRequest(s.Dec)
			if err != nil {
				return translateDecodeErr(ctx, s, err)
			}
			if opts.OnCancelRequest != nil {
				_ = opts.OnCancelRequest(ctx, req.PID, req.Secret)
			}
			// A CancelRequest connection is closed by the caller with
			// no reply, by design: the wire protocol gives no way to
			// report success or failure of a cancellation.
			return ErrTerminated

		case wire.SSLRequestCode:
			accept := table.DispatchSSLRequest(ctx, s) && opts.TLSConfig != nil
			if accept {
				s.Enc.RawByte('S')
				if err := s.Flush(ctx); err != nil {
					return err
				}
				codec := wire.NewCodec(s.Conn)
				codec.Dec, codec.Enc = s.Dec, s.Enc
				if err := codec.EnableSSL(ctx, opts.TLSConfig, false); err != nil {
					return err
				}
				s.Conn = codec.Conn()
				s.Phase = session.PhaseSSLNegotiating
				continue
			}
			s.Enc.RawByte('N')
			if err := s.Flush(ctx); err != nil {
				return err
			}
			continue

		case wire.GSSENCRequestCode:
			s.Enc.RawByte('N')
			if err := s.Flush(ctx); err != nil {
				return err
			}
			continue

		case wire.ProtocolVersion30:
			sm, err := s.DecodeStartup(version)
			if err != nil {
				return translateDecodeErr(ctx, s, err)
			}
			s.User = sm.Parameters["user"]
			s.Database = sm.Parameters["database"]
			if s.Database == "" {
				s.Database = s.User
			}
			for k, v := range sm.Parameters {
				if k != "user" && k != "database" {
					s.Params[k] = v
				}
			}
			if s.User == "" {
				pe := perror.New(perror.FATAL, perror.InvalidAuthorizationSpecification, "no PostgreSQL user name specified in startup packet")
				backend.ErrorResponse(s.Enc, pe)
				_ = s.Flush(ctx)
				return pe
			}
			if opts.AllocateBackendKey != nil {
				s.BackendKey = opts.AllocateBackendKey()
			}
			s.Phase = session.PhaseAwaitAuth
			res, err := table.DispatchStartup(ctx, s, sm)
			if err != nil {
				pe := perror.Wrap(err)
				backend.ErrorResponse(s.Enc, pe)
				_ = s.Flush(ctx)
				return pe
			}
			if res == dispatch.FatalSession {
				return ErrTerminated
			}
			return authLoop(ctx, s, table)

		default:
			major := version >> 16
			if major != 3 {
				pe := perror.New(perror.FATAL, perror.ProtocolViolation, fmt.Sprintf("unsupported frontend protocol %d.%d", major, version&0xFFFF))
				backend.ErrorResponse(s.Enc, pe)
				_ = s.Flush(ctx)
				return pe
			}
			// Same major version, different minor: negotiate down to
			// 3.0 and keep parsing the startup message as normal.
			sm, err := s.DecodeStartup(version)
			if err != nil {
				return translateDecodeErr(ctx, s, err)
			}
			backend.NegotiateProtocolVersion(s.Enc, 0, nil)
			s.User = sm.Parameters["user"]
			s.Database = sm.Parameters["database"]
			if s.Database == "" {
				s.Database = s.User
			}
			s.Phase = session.PhaseAwaitAuth
			if opts.AllocateBackendKey != nil {
				s.BackendKey = opts.AllocateBackendKey()
			}
			res, err := table.DispatchStartup(ctx, s, sm)
			if err != nil {
				return err
			}
			if res == dispatch.FatalSession {
				return ErrTerminated
			}
			return authLoop(ctx, s, table)
		}
	}
}

// authLoop lets a StartupHandler that requested a password/SASL exchange
// keep exchanging PasswordMessage/SASL frames until it reports done by
// leaving the phase. The default StartupHandler never enters this loop:
// it completes authentication itself.
func authLoop(ctx context.Context, s *session.Session, table *dispatch.Table) error {
	for s.Phase == session.PhaseAwaitAuth {
		if err := s.Dec.Next(ctx, true); err != nil {
			return translateDecodeErr(ctx, s, err)
		}
		typ := s.Dec.Type()
		var res dispatch.Result
		var err error
		switch typ {
		case wire.PasswordMessage: // == GSSResponse == SASLInitial/Response
			// PasswordMessage, SASLInitialResponse and SASLResponse all
			// share the wire byte 'p'; the StartupHandler that issued
			// the challenge told the session which shape to expect via
			// ExpectPassword/ExpectSASLInitial/ExpectSASLResponse.
			switch s.AuthExchangeState() {
			case session.AuthExchangeSASLInitial:
				var m session.SASLInitialResponse
				m, err = session.DecodeSASLInitialResponse(s.Dec)
				if err == nil {
					res, err = table.DispatchSASLInitial(ctx, s, m)
				}
			case session.AuthExchangeSASLResponse:
				var m session.SASLResponse
				m, err = session.DecodeSASLResponse(s.Dec)
				if err == nil {
					res, err = table.DispatchSASLResponse(ctx, s, m)
				}
			default:
				var m session.PasswordMessage
				m, err = session.DecodePasswordMessage(s.Dec)
				if err == nil {
					res, err = table.DispatchPassword(ctx, s, m)
				}
			}
		case wire.Terminate:
			return ErrTerminated
		default:
			err = s.Dec.Discard()
			if err == nil {
				res, err = table.DispatchUnknown(ctx, s, byte(typ))
			}
		}
		if err != nil {
			return translateDecodeErr(ctx, s, err)
		}
		if res == dispatch.FatalSession {
			return ErrTerminated
		}
	}
	if s.Phase != session.PhaseErrorExtended {
		s.Phase = session.PhaseReady
	}
	return nil
}

// runReady drives the simple/extended query cycle once the session is
// authenticated and ready.
func runReady(ctx context.Context, s *session.Session, table *dispatch.Table, opts Options) error {
	for {
		if err := s.Dec.Next(ctx, true); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return translateDecodeErr(ctx, s, err)
		}
		res, err := dispatchReady(ctx, s, table, opts)
		if err != nil {
			return translateDecodeErr(ctx, s, err)
		}
		if res == dispatch.FatalSession {
			return ErrTerminated
		}
	}
}

func dispatchReady(ctx context.Context, s *session.Session, table *dispatch.Table, opts Options) (dispatch.Result, error) {
	typ := s.Dec.Type()
	length := s.Dec.Length()

	// A CancelRequest on another connection only sets a flag; it never
	// reaches in to interrupt whatever this goroutine is doing. The next
	// frame boundary is the first safe point to notice it and answer with
	// QueryCanceled instead of running the frame normally. Terminate is
	// let through either way, since the client is leaving regardless.
	if typ != wire.Terminate && s.Canceled() {
		if err := s.Dec.Discard(); err != nil {
			return dispatch.Continue, err
		}
		return cancelQuery(ctx, s)
	}

	if s.Phase == session.PhaseErrorExtended {
		switch typ {
		case wire.Sync:
			if err := s.Dec.Discard(); err != nil {
				return dispatch.Continue, err
			}
			s.EndExtended()
			return dispatchSync(ctx, s, table)
		case wire.Terminate:
			table.DispatchTerminate(ctx, s)
			return dispatch.FatalSession, nil
		default:
			// Everything else is silently discarded until Sync.
			return dispatch.Continue, s.Dec.Discard()
		}
	}

	switch typ {
	case wire.Query:
		if s.Phase == session.PhaseInExtended {
			if err := s.Dec.Discard(); err != nil {
				return dispatch.Continue, err
			}
			return protocolViolation(ctx, s, "Query is illegal inside an extended-query burst")
		}
		m, err := session.DecodeQuery(s.Dec)
		if err != nil {
			return dispatch.Continue, err
		}
		if opts.OnFrame != nil {
			opts.OnFrame(s, byte(wire.Query), length, m.Summary())
		}
		res, err := table.DispatchQuery(ctx, s, m)
		if err != nil {
			return res, err
		}
		backend.ReadyForQuery(s.Enc, s.TxStatus)
		return res, s.Flush(ctx)

	case wire.Parse:
		s.EnterExtended()
		m, err := session.DecodeParse(s.Dec)
		if err != nil {
			return failExtended(ctx, s, err)
		}
		if opts.OnFrame != nil {
			opts.OnFrame(s, byte(wire.Parse), length, m.Summary())
		}
		res, err := table.DispatchParse(ctx, s, m)
		return checkExtended(ctx, s, res, err)

	case wire.Bind:
		s.EnterExtended()
		m, err := session.DecodeBind(s.Dec)
		if err != nil {
			return failExtended(ctx, s, err)
		}
		res, err := table.DispatchBind(ctx, s, m)
		return checkExtended(ctx, s, res, err)

	case wire.Describe:
		s.EnterExtended()
		m, err := session.DecodeDescribe(s.Dec)
		if err != nil {
			return failExtended(ctx, s, err)
		}
		res, err := table.DispatchDescribe(ctx, s, m)
		return checkExtended(ctx, s, res, err)

	case wire.Execute:
		s.EnterExtended()
		m, err := session.DecodeExecute(s.Dec)
		if err != nil {
			return failExtended(ctx, s, err)
		}
		res, err := table.DispatchExecute(ctx, s, m)
		return checkExtended(ctx, s, res, err)

	case wire.Close:
		s.EnterExtended()
		m, err := session.DecodeClose(s.Dec)
		if err != nil {
			return failExtended(ctx, s, err)
		}
		res, err := table.DispatchClose(ctx, s, m)
		return checkExtended(ctx, s, res, err)

	case wire.Sync:
		if err := s.Dec.Discard(); err != nil {
			return dispatch.Continue, err
		}
		s.EndExtended()
		return dispatchSync(ctx, s, table)

	case wire.Flush:
		if err := s.Dec.Discard(); err != nil {
			return dispatch.Continue, err
		}
		return table.DispatchFlush(ctx, s)

	case wire.Terminate:
		table.DispatchTerminate(ctx, s)
		return dispatch.FatalSession, nil

	default:
		if err := s.Dec.Discard(); err != nil {
			return dispatch.Continue, err
		}
		return table.DispatchUnknown(ctx, s, byte(typ))
	}
}

// checkExtended converts a handler error into an ErrorResponse and moves
// the session into PhaseErrorExtended, matching the "skip to Sync" rule
// for the extended-query protocol, rather than tearing down the
// connection the way a simple-query error might.
func checkExtended(ctx context.Context, s *session.Session, res dispatch.Result, err error) (dispatch.Result, error) {
	if err != nil {
		return failExtended(ctx, s, err)
	}
	return res, nil
}

func failExtended(ctx context.Context, s *session.Session, err error) (dispatch.Result, error) {
	// A framing error is not a handler failure: hand it back so runReady
	// answers it through translateDecodeErr and closes the session.
	if errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrFrameTooLarge) {
		return dispatch.Continue, err
	}
	pe := perror.Wrap(err)
	backend.ErrorResponse(s.Enc, pe)
	s.Fail()
	return dispatch.Continue, s.Flush(ctx)
}

// dispatchSync runs table's Sync handler and, unconditionally on success,
// sends the terminating ReadyForQuery, since that's the core's
// responsibility per the handler contract, not something any Sync handler
// (default or registered) is trusted to remember to do itself.
func dispatchSync(ctx context.Context, s *session.Session, table *dispatch.Table) (dispatch.Result, error) {
	res, err := table.DispatchSync(ctx, s)
	if err != nil {
		return res, err
	}
	backend.ReadyForQuery(s.Enc, s.TxStatus)
	return res, s.Flush(ctx)
}

// cancelQuery answers a pending CancelRequest with QueryCanceled instead
// of running the frame that triggered the check, then clears the flag so
// later frames are unaffected.
func cancelQuery(ctx context.Context, s *session.Session) (dispatch.Result, error) {
	s.ClearCanceled()
	pe := perror.New(perror.ERROR, perror.QueryCanceled, "canceling statement due to user request")
	backend.ErrorResponse(s.Enc, pe)
	if s.Phase == session.PhaseErrorExtended || s.Phase == session.PhaseInExtended {
		s.EndExtended()
	}
	backend.ReadyForQuery(s.Enc, s.TxStatus)
	return dispatch.Continue, s.Flush(ctx)
}

// translateDecodeErr turns a framing-level decode failure into a
// ProtocolViolation ErrorResponse, written and flushed before the caller
// tears the session down. Anything else (EOF, a dead socket, a canceled
// context) passes through unchanged, since there's no peer left to answer.
func translateDecodeErr(ctx context.Context, s *session.Session, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, wire.ErrMalformed) && !errors.Is(err, wire.ErrFrameTooLarge) {
		return err
	}
	pe := perror.New(perror.FATAL, perror.ProtocolViolation, err.Error())
	backend.ErrorResponse(s.Enc, pe)
	_ = s.Flush(ctx)
	return pe
}

func protocolViolation(ctx context.Context, s *session.Session, msg string) (dispatch.Result, error) {
	pe := perror.New(perror.FATAL, perror.ProtocolViolation, msg)
	backend.ErrorResponse(s.Enc, pe)
	_ = s.Flush(ctx)
	return dispatch.FatalSession, pe
}
