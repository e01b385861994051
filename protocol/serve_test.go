package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"gfx.cafe/gfx/pgwired/dispatch"
	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire"
)

// client wraps the test's end of a net.Pipe with a decoder/encoder pair,
// playing the frontend side of the handshake by hand.
type client struct {
	conn net.Conn
	dec  *wire.Decoder
	enc  *wire.Encoder
}

func newClient(conn net.Conn) *client {
	return &client{conn: conn, dec: wire.NewDecoder(conn), enc: wire.NewEncoder(conn)}
}

func (c *client) sendStartup(params map[string]string) {
	c.enc.Next(0, -1)
	c.enc.Int32(wire.ProtocolVersion30)
	for k, v := range params {
		c.enc.String(k)
		c.enc.String(v)
	}
	c.enc.String("")
	_ = c.enc.Flush(context.Background())
}

func (c *client) sendQuery(sql string) {
	c.enc.Next(wire.Query, -1)
	c.enc.String(sql)
	_ = c.enc.Flush(context.Background())
}

func (c *client) sendTerminate() {
	c.enc.Next(wire.Terminate, 4)
	_ = c.enc.Flush(context.Background())
}

func (c *client) sendParse(dest, query string) {
	c.enc.Next(wire.Parse, -1)
	c.enc.String(dest)
	c.enc.String(query)
	c.enc.Int16(0)
	_ = c.enc.Flush(context.Background())
}

// readFrame reads and fully discards the next typed frame, returning its
// type.
func (c *client) readFrame(t *testing.T) wire.Type {
	t.Helper()
	if err := c.dec.Next(context.Background(), true); err != nil {
		t.Fatalf("readFrame Next: %v", err)
	}
	typ := c.dec.Type()
	if err := c.dec.Discard(); err != nil {
		t.Fatalf("readFrame Discard: %v", err)
	}
	return typ
}

func (c *client) expectSequence(t *testing.T, types ...wire.Type) {
	t.Helper()
	for i, want := range types {
		if got := c.readFrame(t); got != want {
			t.Fatalf("frame %d type = %q, want %q", i, got, want)
		}
	}
}

func TestServeHappyPathStartupQueryTerminate(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey {
				return session.BackendKey{PID: 1, Secret: 2}
			},
		})
	}()

	c := newClient(clientConn)
	c.sendStartup(map[string]string{"user": "alice", "database": "postgres"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	c.sendQuery("select 1")
	c.expectSequence(t, wire.EmptyQueryResponse, wire.CommandComplete, wire.ReadyForQuery)

	c.sendTerminate()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("Serve err = %v, want ErrTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Terminate")
	}
}

func TestServeRejectsQueryInsideExtendedBurst(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey { return session.BackendKey{PID: 1, Secret: 1} },
		})
	}()

	c := newClient(clientConn)
	c.sendStartup(map[string]string{"user": "bob"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	c.sendParse("", "select $1")
	c.expectSequence(t, wire.ParseComplete)

	c.sendQuery("select 2")
	if got := c.readFrame(t); got != wire.ErrorResponse {
		t.Fatalf("type = %q, want ErrorResponse", got)
	}

	// A Query mid-burst is a protocol violation that ends the session
	// outright (unlike a Parse/Bind/.../Execute error, which only fails
	// the current extended-query cycle) — Serve returns without waiting
	// for a Terminate that would never be read.
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Serve should return a non-nil protocol violation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the protocol violation")
	}
}

func TestServeCancelRequestInvokesHandlerAndEnds(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	var gotPID, gotSecret uint32
	cancelCh := make(chan struct{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			OnCancelRequest: func(ctx context.Context, pid, secret uint32) error {
				gotPID, gotSecret = pid, secret
				close(cancelCh)
				return nil
			},
		})
	}()

	c := newClient(clientConn)
	c.enc.Next(0, -1)
	c.enc.Int32(wire.CancelRequestCode)
	c.enc.Uint32(777)
	c.enc.Uint32(42)
	_ = c.enc.Flush(context.Background())

	select {
	case <-cancelCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnCancelRequest was not invoked")
	}
	if gotPID != 777 || gotSecret != 42 {
		t.Fatalf("pid/secret = %d/%d, want 777/42", gotPID, gotSecret)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("Serve err = %v, want ErrTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after CancelRequest")
	}
}

func TestServeSendsProtocolViolationOnOversizedFrame(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	sess.Dec.SetMaxFrameSize(64)
	table := dispatch.NewTable()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey { return session.BackendKey{PID: 1, Secret: 1} },
		})
	}()

	c := newClient(clientConn)
	c.sendStartup(map[string]string{"user": "erin"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	// A Query frame claiming a body far past the configured frame cap
	// must be answered with ErrorResponse(08P01) before the session
	// ends, rather than the connection just going dark.
	c.enc.Next(wire.Query, 10_000)
	_ = c.enc.Flush(context.Background())

	if got := c.readFrame(t); got != wire.ErrorResponse {
		t.Fatalf("type = %q, want ErrorResponse", got)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Serve should return a non-nil protocol violation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the oversized frame")
	}
}

func TestServeCancelRequestAnswersWithQueryCanceledNotForcedClose(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey { return session.BackendKey{PID: 1, Secret: 1} },
		})
	}()

	c := newClient(clientConn)
	c.sendStartup(map[string]string{"user": "frank"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	// Simulate what the reactor's cancel-lookup callback does on a
	// separate connection: flag the session directly rather than
	// severing its socket.
	sess.RequestCancel()

	c.sendQuery("select 1")
	c.expectSequence(t, wire.ErrorResponse, wire.ReadyForQuery)
	if sess.Canceled() {
		t.Fatal("Canceled() should be cleared after being reported")
	}

	// The connection survives the cancellation; a later query still
	// gets a normal reply instead of the socket having been closed.
	c.sendQuery("select 2")
	c.expectSequence(t, wire.EmptyQueryResponse, wire.CommandComplete, wire.ReadyForQuery)

	c.sendTerminate()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("Serve err = %v, want ErrTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Terminate")
	}
}

func TestServeRejectsSSLWhenNoTLSConfigured(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey { return session.BackendKey{PID: 1, Secret: 1} },
		})
	}()

	c := newClient(clientConn)
	c.enc.Next(0, -1)
	c.enc.Int32(wire.SSLRequestCode)
	_ = c.enc.Flush(context.Background())

	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err != nil {
		t.Fatalf("read SSL reply: %v", err)
	}
	if buf[0] != 'N' {
		t.Fatalf("SSL reply = %q, want N", buf[0])
	}

	c.sendStartup(map[string]string{"user": "carol"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	c.sendTerminate()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("Serve err = %v, want ErrTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Terminate")
	}
}

func TestServeOnFrameHookFiresForQuery(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	sess := session.New(1, serverConn)
	table := dispatch.NewTable()

	type frame struct {
		typ     byte
		summary string
	}
	frames := make(chan frame, 4)

	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(context.Background(), sess, table, Options{
			AllocateBackendKey: func() session.BackendKey { return session.BackendKey{PID: 1, Secret: 1} },
			OnFrame: func(s *session.Session, typ byte, length int, summary string) {
				frames <- frame{typ: typ, summary: summary}
			},
		})
	}()

	c := newClient(clientConn)
	c.sendStartup(map[string]string{"user": "dave"})
	c.expectSequence(t, wire.Authentication, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.ParameterStatus, wire.BackendKeyData, wire.ReadyForQuery)

	c.sendQuery("select 42")
	c.expectSequence(t, wire.EmptyQueryResponse, wire.CommandComplete, wire.ReadyForQuery)

	select {
	case f := <-frames:
		if f.typ != byte(wire.Query) || f.summary != "select 42" {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFrame was not invoked for Query")
	}

	c.sendTerminate()
	<-errCh
}
