package wire

import (
	"context"
	"io"
)

// Decoder reads length-prefixed PostgreSQL wire messages from an
// underlying io.Reader, buffering across partial TCP reads. A Decoder is
// not safe for concurrent use; each session owns exactly one.
//
// Unlike a single recv() call sized to a guess, refill only ever appends to
// the buffer and Next only returns once the full header (and later,
// String/Bytes only return once the full field) has actually arrived —
// there is no assumption that one Read call returns one message.
type Decoder struct {
	r   io.Reader
	buf []byte // data not yet consumed, buf[pos:] is unread
	pos int

	maxFrame int

	typ    Type
	length int // remaining bytes in the current message body
	typed  bool
}

// NewDecoder returns a Decoder reading from r with the default maximum
// frame size.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, maxFrame: DefaultMaxFrameSize}
}

// Reset rebinds the decoder to a new reader, discarding buffered state.
// Used when a connection is promoted to TLS in place.
func (d *Decoder) Reset(r io.Reader) {
	d.r = r
	d.buf = d.buf[:0]
	d.pos = 0
	d.typ = 0
	d.length = 0
	d.typed = false
}

// SetMaxFrameSize overrides the default per-message size cap.
func (d *Decoder) SetMaxFrameSize(n int) { d.maxFrame = n }

func (d *Decoder) compact() {
	if d.pos == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.pos:])
	d.buf = d.buf[:n]
	d.pos = 0
}

// fill ensures at least n unread bytes are buffered, growing and reading
// from the underlying reader as needed. It never assumes one Read call
// returns a whole message — it keeps reading until enough bytes have
// actually arrived.
func (d *Decoder) fill(n int) error {
	d.compact()
	if cap(d.buf) < n {
		grown := make([]byte, len(d.buf), n)
		copy(grown, d.buf)
		d.buf = grown
	}
	for len(d.buf) < n {
		room := d.buf[len(d.buf):cap(d.buf)]
		read, err := d.r.Read(room)
		d.buf = d.buf[:len(d.buf)+read]
		if read == 0 && err != nil {
			return err
		}
	}
	return nil
}

// Next reads the message header: a one-byte type tag (unless typed is
// false, for the startup-class messages that carry no tag) followed by a
// big-endian uint32 length that includes itself but excludes the type
// byte. After Next returns, Length reports the remaining body size and
// the typed field readers below consume it.
func (d *Decoder) Next(ctx context.Context, typed bool) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	headerLen := 4
	if typed {
		headerLen = 5
	}
	if err := d.fill(headerLen); err != nil {
		return err
	}
	hdr := d.buf[d.pos : d.pos+headerLen]
	if typed {
		d.typ = Type(hdr[0])
		hdr = hdr[1:]
	} else {
		d.typ = 0
	}
	length := int(uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3]))
	if length < 4 {
		return ErrMalformed
	}
	if d.maxFrame > 0 && length > d.maxFrame {
		return ErrFrameTooLarge
	}
	d.pos += headerLen
	d.length = length - 4
	d.typed = typed
	return nil
}

// Type reports the tag read by the most recent Next call (0 for untyped
// messages).
func (d *Decoder) Type() Type { return d.typ }

// Length reports the number of body bytes remaining to be consumed for
// the current message.
func (d *Decoder) Length() int { return d.length }

func (d *Decoder) consume(n int) ([]byte, error) {
	if n > d.length {
		return nil, ErrMalformed
	}
	if err := d.fill(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	d.length -= n
	return b, nil
}

// Discard skips any bytes remaining in the current message body, so the
// decoder is positioned to read the next message's header regardless of
// whether the handler consumed the whole payload.
func (d *Decoder) Discard() error {
	for d.length > 0 {
		if _, err := d.consume(d.length); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.consume(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) Int8() (int8, error) {
	v, err := d.Uint8()
	return int8(v), err
}

func (d *Decoder) Uint16() (uint16, error) {
	b, err := d.consume(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (d *Decoder) Int16() (int16, error) {
	v, err := d.Uint16()
	return int16(v), err
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.consume(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

func (d *Decoder) Uint64() (uint64, error) {
	hi, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	lo, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

// Bytes reads exactly n raw bytes from the current message body. The
// returned slice aliases the decoder's internal buffer and is only valid
// until the next Decoder call.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	return d.consume(n)
}

// String reads a NUL-terminated string from the current message body.
func (d *Decoder) String() (string, error) {
	// Fast path: the terminator is already buffered.
	for {
		if idx := indexByte(d.buf[d.pos:d.pos+min(d.length, len(d.buf)-d.pos)], 0); idx >= 0 {
			s := string(d.buf[d.pos : d.pos+idx])
			d.pos += idx + 1
			d.length -= idx + 1
			return s, nil
		}
		if d.length <= len(d.buf)-d.pos {
			return "", ErrMalformed
		}
		if err := d.fill(len(d.buf) - d.pos + 1); err != nil {
			return "", err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
