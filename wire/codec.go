package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// Codec pairs a Decoder and Encoder over a net.Conn and supports
// upgrading the underlying connection to TLS in place, mid-stream, the
// way netconncodec.Codec does for SSLRequest negotiation.
type Codec struct {
	mu   sync.RWMutex
	conn net.Conn
	Dec  *Decoder
	Enc  *Encoder
	ssl  bool
}

// NewCodec wraps conn for framed reads and writes.
func NewCodec(conn net.Conn) *Codec {
	c := &Codec{conn: conn}
	c.Dec = NewDecoder(conn)
	c.Enc = NewEncoder(conn)
	return c
}

// Conn returns the current underlying connection, which changes after a
// successful EnableSSL.
func (c *Codec) Conn() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// LocalAddr returns the underlying connection's local address.
func (c *Codec) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.LocalAddr()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Codec) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.RemoteAddr()
}

// SSL reports whether the connection has been upgraded to TLS.
func (c *Codec) SSL() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ssl
}

// EnableSSL flushes any buffered output, then wraps the underlying
// connection in a TLS client or server and performs the handshake. It
// must be called with no partially-read message pending.
func (c *Codec) EnableSSL(ctx context.Context, cfg *tls.Config, isClient bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Enc.Flush(ctx); err != nil {
		return err
	}
	if c.Dec.length != 0 || c.Dec.pos != len(c.Dec.buf) {
		return fmt.Errorf("wire: cannot enable SSL with buffered read data pending")
	}
	var tconn *tls.Conn
	if isClient {
		tconn = tls.Client(c.conn, cfg)
	} else {
		tconn = tls.Server(c.conn, cfg)
	}
	if err := tconn.HandshakeContext(ctx); err != nil {
		return err
	}
	c.conn = tconn
	c.Dec.Reset(tconn)
	c.Enc.Reset(tconn)
	c.ssl = true
	return nil
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Close()
}
