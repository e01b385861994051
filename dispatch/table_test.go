package dispatch

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire"
)

// bufConn is a minimal net.Conn backed by an in-memory buffer, so a
// session's Encoder can Flush synchronously without the net.Pipe
// rendezvous blocking on an absent reader.
type bufConn struct {
	bytes.Buffer
	// dec is shared by every nextType call on this connection: a Decoder
	// reads ahead, so a fresh one per message would drop buffered bytes.
	dec *wire.Decoder
}

func (bufConn) Close() error                     { return nil }
func (bufConn) LocalAddr() net.Addr              { return nil }
func (bufConn) RemoteAddr() net.Addr             { return nil }
func (bufConn) SetDeadline(time.Time) error      { return nil }
func (bufConn) SetReadDeadline(time.Time) error  { return nil }
func (bufConn) SetWriteDeadline(time.Time) error { return nil }

func newTableSession(t *testing.T) (*session.Session, *bufConn) {
	t.Helper()
	conn := &bufConn{}
	s := session.New(1, conn)
	return s, conn
}

func nextType(t *testing.T, conn *bufConn) wire.Type {
	t.Helper()
	if conn.dec == nil {
		conn.dec = wire.NewDecoder(conn)
	}
	d := conn.dec
	if err := d.Next(context.Background(), true); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := d.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	return d.Type()
}

func TestDefaultStartupSendsAuthOkAndReadyForQuery(t *testing.T) {
	table := NewTable()
	s, conn := newTableSession(t)

	res, err := table.DispatchStartup(context.Background(), s, session.StartupMessage{})
	if err != nil {
		t.Fatalf("DispatchStartup: %v", err)
	}
	if res != Continue {
		t.Fatalf("Result = %v, want Continue", res)
	}

	wantTypes := []wire.Type{wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery}
	for i, want := range wantTypes {
		if got := nextType(t, conn); got != want {
			t.Fatalf("message %d type = %q, want %q", i, got, want)
		}
	}
}

func TestDefaultQuerySendsEmptyQueryResponse(t *testing.T) {
	table := NewTable()
	s, conn := newTableSession(t)

	_, err := table.DispatchQuery(context.Background(), s, session.Query{})
	if err != nil {
		t.Fatalf("DispatchQuery: %v", err)
	}
	// defaultQuery leaves both the flush and the terminating
	// ReadyForQuery to protocol.dispatchReady, so neither appears here.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, want := range []wire.Type{wire.EmptyQueryResponse, wire.CommandComplete} {
		if got := nextType(t, conn); got != want {
			t.Fatalf("type = %q, want %q", got, want)
		}
	}
}

func TestDefaultUnknownSendsErrorResponse(t *testing.T) {
	table := NewTable()
	s, conn := newTableSession(t)

	_, err := table.DispatchUnknown(context.Background(), s, 'X')
	if err != nil {
		t.Fatalf("DispatchUnknown: %v", err)
	}
	if got := nextType(t, conn); got != wire.ErrorResponse {
		t.Fatalf("type = %q, want ErrorResponse", got)
	}
}

func TestRegisteredHandlerOverridesDefault(t *testing.T) {
	table := NewTable()
	s, _ := newTableSession(t)

	called := false
	table.RegisterQuery(func(ctx context.Context, s *session.Session, m session.Query) (Result, error) {
		called = true
		return FatalSession, nil
	})

	res, err := table.DispatchQuery(context.Background(), s, session.Query{SQL: "select 1"})
	if err != nil {
		t.Fatalf("DispatchQuery: %v", err)
	}
	if !called {
		t.Fatal("registered handler was not invoked")
	}
	if res != FatalSession {
		t.Fatalf("Result = %v, want FatalSession", res)
	}
}

func TestResetAllRestoresDefaults(t *testing.T) {
	table := NewTable()
	s, conn := newTableSession(t)

	table.RegisterQuery(func(ctx context.Context, s *session.Session, m session.Query) (Result, error) {
		return FatalSession, errors.New("boom")
	})
	table.ResetAll()

	res, err := table.DispatchQuery(context.Background(), s, session.Query{})
	if err != nil {
		t.Fatalf("DispatchQuery after ResetAll: %v", err)
	}
	if res != Continue {
		t.Fatalf("Result = %v, want Continue", res)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := nextType(t, conn); got != wire.EmptyQueryResponse {
		t.Fatalf("type = %q, want EmptyQueryResponse", got)
	}
}

func TestDispatchCancelWithNoHandlerIsNoop(t *testing.T) {
	table := NewTable()
	if err := table.DispatchCancel(context.Background(), 1, 2); err != nil {
		t.Fatalf("DispatchCancel: %v", err)
	}
}

func TestDispatchSSLRequestDefaultsToReject(t *testing.T) {
	table := NewTable()
	s, _ := newTableSession(t)
	if table.DispatchSSLRequest(context.Background(), s) {
		t.Fatal("default SSL request handling should reject")
	}
}
