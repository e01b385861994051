package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"gfx.cafe/gfx/pgwired/perror"
	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire"
	"gfx.cafe/gfx/pgwired/wire/backend"
)

// Table holds one handler slot per message variant. Each slot is an
// atomic.Pointer so Register/Reset can be called concurrently with a live
// Serve loop reading it, a safely-swappable stand-in for the
// function-pointer dispatch tables PostgreSQL-protocol servers commonly use.
type Table struct {
	startup     atomic.Pointer[StartupHandlerFunc]
	password    atomic.Pointer[PasswordHandlerFunc]
	saslInitial atomic.Pointer[SASLInitialHandlerFunc]
	saslResp    atomic.Pointer[SASLResponseHandlerFunc]
	query       atomic.Pointer[QueryHandlerFunc]
	parse       atomic.Pointer[ParseHandlerFunc]
	bind        atomic.Pointer[BindHandlerFunc]
	describe    atomic.Pointer[DescribeHandlerFunc]
	execute     atomic.Pointer[ExecuteHandlerFunc]
	close       atomic.Pointer[CloseHandlerFunc]
	sync        atomic.Pointer[SyncHandlerFunc]
	flush       atomic.Pointer[FlushHandlerFunc]
	cancel      atomic.Pointer[CancelHandlerFunc]
	sslRequest  atomic.Pointer[SSLRequestHandlerFunc]
	terminate   atomic.Pointer[TerminateHandlerFunc]
	unknown     atomic.Pointer[UnknownHandlerFunc]
}

// NewTable returns a Table with every slot set to its safe default.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) RegisterStartup(f StartupHandlerFunc)         { t.startup.Store(&f) }
func (t *Table) RegisterPassword(f PasswordHandlerFunc)       { t.password.Store(&f) }
func (t *Table) RegisterSASLInitial(f SASLInitialHandlerFunc) { t.saslInitial.Store(&f) }
func (t *Table) RegisterSASLResponse(f SASLResponseHandlerFunc) { t.saslResp.Store(&f) }
func (t *Table) RegisterQuery(f QueryHandlerFunc)             { t.query.Store(&f) }
func (t *Table) RegisterParse(f ParseHandlerFunc)             { t.parse.Store(&f) }
func (t *Table) RegisterBind(f BindHandlerFunc)               { t.bind.Store(&f) }
func (t *Table) RegisterDescribe(f DescribeHandlerFunc)       { t.describe.Store(&f) }
func (t *Table) RegisterExecute(f ExecuteHandlerFunc)         { t.execute.Store(&f) }
func (t *Table) RegisterClose(f CloseHandlerFunc)             { t.close.Store(&f) }
func (t *Table) RegisterSync(f SyncHandlerFunc)               { t.sync.Store(&f) }
func (t *Table) RegisterFlush(f FlushHandlerFunc)             { t.flush.Store(&f) }
func (t *Table) RegisterCancel(f CancelHandlerFunc)           { t.cancel.Store(&f) }
func (t *Table) RegisterSSLRequest(f SSLRequestHandlerFunc)   { t.sslRequest.Store(&f) }
func (t *Table) RegisterTerminate(f TerminateHandlerFunc)     { t.terminate.Store(&f) }
func (t *Table) RegisterUnknown(f UnknownHandlerFunc)         { t.unknown.Store(&f) }

// ResetAll restores every slot to its safe default.
func (t *Table) ResetAll() {
	t.startup.Store(nil)
	t.password.Store(nil)
	t.saslInitial.Store(nil)
	t.saslResp.Store(nil)
	t.query.Store(nil)
	t.parse.Store(nil)
	t.bind.Store(nil)
	t.describe.Store(nil)
	t.execute.Store(nil)
	t.close.Store(nil)
	t.sync.Store(nil)
	t.flush.Store(nil)
	t.cancel.Store(nil)
	t.sslRequest.Store(nil)
	t.terminate.Store(nil)
	t.unknown.Store(nil)
}

// The Dispatch* methods run either the registered handler or the safe
// default, matching pg_default_*_callback from the reference C emulator
// message for message.

func (t *Table) DispatchStartup(ctx context.Context, s *session.Session, m session.StartupMessage) (Result, error) {
	if f := t.startup.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultStartup(ctx, s, m)
}

func (t *Table) DispatchPassword(ctx context.Context, s *session.Session, m session.PasswordMessage) (Result, error) {
	if f := t.password.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultPassword(ctx, s, m)
}

func (t *Table) DispatchSASLInitial(ctx context.Context, s *session.Session, m session.SASLInitialResponse) (Result, error) {
	if f := t.saslInitial.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultPassword(ctx, s, session.PasswordMessage{})
}

func (t *Table) DispatchSASLResponse(ctx context.Context, s *session.Session, m session.SASLResponse) (Result, error) {
	if f := t.saslResp.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultPassword(ctx, s, session.PasswordMessage{})
}

func (t *Table) DispatchQuery(ctx context.Context, s *session.Session, m session.Query) (Result, error) {
	if f := t.query.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultQuery(ctx, s, m)
}

func (t *Table) DispatchParse(ctx context.Context, s *session.Session, m session.Parse) (Result, error) {
	if f := t.parse.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultParse(ctx, s, m)
}

func (t *Table) DispatchBind(ctx context.Context, s *session.Session, m session.Bind) (Result, error) {
	if f := t.bind.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultBind(ctx, s, m)
}

func (t *Table) DispatchDescribe(ctx context.Context, s *session.Session, m session.Describe) (Result, error) {
	if f := t.describe.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultDescribe(ctx, s, m)
}

func (t *Table) DispatchExecute(ctx context.Context, s *session.Session, m session.Execute) (Result, error) {
	if f := t.execute.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultExecute(ctx, s, m)
}

func (t *Table) DispatchClose(ctx context.Context, s *session.Session, m session.Close) (Result, error) {
	if f := t.close.Load(); f != nil {
		return (*f)(ctx, s, m)
	}
	return defaultClose(ctx, s, m)
}

func (t *Table) DispatchSync(ctx context.Context, s *session.Session) (Result, error) {
	if f := t.sync.Load(); f != nil {
		return (*f)(ctx, s)
	}
	return defaultSync(ctx, s)
}

func (t *Table) DispatchFlush(ctx context.Context, s *session.Session) (Result, error) {
	if f := t.flush.Load(); f != nil {
		return (*f)(ctx, s)
	}
	return Continue, s.Flush(ctx)
}

func (t *Table) DispatchCancel(ctx context.Context, pid, secret uint32) error {
	if f := t.cancel.Load(); f != nil {
		return (*f)(ctx, pid, secret)
	}
	return nil
}

func (t *Table) DispatchSSLRequest(ctx context.Context, s *session.Session) bool {
	if f := t.sslRequest.Load(); f != nil {
		return (*f)(ctx, s)
	}
	return false
}

func (t *Table) DispatchTerminate(ctx context.Context, s *session.Session) {
	if f := t.terminate.Load(); f != nil {
		(*f)(ctx, s)
	}
}

func (t *Table) DispatchUnknown(ctx context.Context, s *session.Session, typ byte) (Result, error) {
	if f := t.unknown.Load(); f != nil {
		return (*f)(ctx, s, typ)
	}
	return defaultUnknown(ctx, s, typ)
}

// --- safe defaults, ported from pg_default_*_callback ---

func defaultStartup(ctx context.Context, s *session.Session, m session.StartupMessage) (Result, error) {
	backend.AuthenticationOk(s.Enc)
	backend.ParameterStatus(s.Enc, "server_version", "14.0")
	backend.ParameterStatus(s.Enc, "client_encoding", "UTF8")
	backend.ParameterStatus(s.Enc, "server_encoding", "UTF8")
	backend.ParameterStatus(s.Enc, "DateStyle", "ISO, MDY")
	backend.BackendKeyData(s.Enc, s.BackendKey.PID, s.BackendKey.Secret)
	backend.ReadyForQuery(s.Enc, wire.TxIdle)
	s.Phase = session.PhaseReady
	return Continue, s.Flush(ctx)
}

func defaultPassword(ctx context.Context, s *session.Session, _ session.PasswordMessage) (Result, error) {
	backend.AuthenticationOk(s.Enc)
	s.Phase = session.PhaseReady
	return Continue, s.Flush(ctx)
}

// defaultQuery leaves the terminating ReadyForQuery to the caller, which
// sends it after every query handler returns, not just the default one.
func defaultQuery(ctx context.Context, s *session.Session, _ session.Query) (Result, error) {
	backend.EmptyQueryResponse(s.Enc)
	backend.CommandComplete(s.Enc, "")
	return Continue, nil
}

func defaultParse(ctx context.Context, s *session.Session, _ session.Parse) (Result, error) {
	backend.ParseComplete(s.Enc)
	return Continue, s.Flush(ctx)
}

func defaultBind(ctx context.Context, s *session.Session, _ session.Bind) (Result, error) {
	backend.BindComplete(s.Enc)
	return Continue, s.Flush(ctx)
}

func defaultDescribe(ctx context.Context, s *session.Session, _ session.Describe) (Result, error) {
	backend.NoData(s.Enc)
	return Continue, s.Flush(ctx)
}

func defaultExecute(ctx context.Context, s *session.Session, _ session.Execute) (Result, error) {
	backend.EmptyQueryResponse(s.Enc)
	backend.CommandComplete(s.Enc, "")
	return Continue, s.Flush(ctx)
}

func defaultClose(ctx context.Context, s *session.Session, m session.Close) (Result, error) {
	if m.Which == session.DescribeStatement {
		s.CloseStatement(m.Name)
	} else {
		s.ClosePortal(m.Name)
	}
	backend.CloseComplete(s.Enc)
	return Continue, s.Flush(ctx)
}

// defaultSync does nothing; the caller sends the terminating
// ReadyForQuery after every sync handler returns, default or not.
func defaultSync(ctx context.Context, s *session.Session) (Result, error) {
	return Continue, nil
}

func defaultUnknown(ctx context.Context, s *session.Session, typ byte) (Result, error) {
	pe := perror.New(perror.ERROR, perror.ProtocolViolation, fmt.Sprintf("unknown message type %q", typ))
	backend.ErrorResponse(s.Enc, pe)
	backend.ReadyForQuery(s.Enc, s.TxStatus)
	return Continue, s.Flush(ctx)
}
