package wire

import (
	"context"
	"io"
)

// Encoder buffers outgoing PostgreSQL wire messages and flushes them to an
// underlying io.Writer. Unlike a fixed-size stack buffer sized to a guess
// at the largest message, the staging buffer here grows on demand, so a
// single oversized DataRow does not silently truncate. The growth is not
// checked against maxFrame: the Encoder records that cap but does not
// enforce it.
//
// An Encoder is not safe for concurrent use; each session owns exactly
// one, and messages are flushed in the order they were written.
type Encoder struct {
	w   io.Writer
	buf []byte

	maxFrame int

	typ       Type
	length    int
	pos       int
	lengthPos int // offset of the not-yet-known length field, or -1
}

// NewEncoder returns an Encoder writing to w with the default maximum
// frame size.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, maxFrame: DefaultMaxFrameSize, lengthPos: -1}
}

// Reset rebinds the encoder to a new writer, discarding any buffered
// (unflushed) bytes. Callers must Flush before Reset if the buffered
// bytes matter.
func (e *Encoder) Reset(w io.Writer) {
	e.w = w
	e.buf = e.buf[:0]
	e.typ = 0
	e.length = 0
	e.pos = 0
	e.lengthPos = -1
}

// SetMaxFrameSize overrides the recorded maximum frame size. The Encoder
// does not reject or split messages larger than it.
func (e *Encoder) SetMaxFrameSize(n int) { e.maxFrame = n }

// Next starts a new message. typ is 0 for untyped (startup-class)
// messages. length is the total body length excluding the type byte,
// including the four length bytes themselves; -1 means "unknown, compute
// when the next message starts or on Flush".
func (e *Encoder) Next(typ Type, length int) {
	e.patchLength()
	if typ != 0 {
		e.buf = append(e.buf, byte(typ))
	}
	e.typ = typ
	if length >= 0 {
		e.buf = appendUint32(e.buf, uint32(length))
		e.lengthPos = -1
	} else {
		e.lengthPos = len(e.buf)
		e.buf = append(e.buf, 0, 0, 0, 0)
	}
	e.pos = 0
}

// patchLength backfills the length field for a message started with an
// unknown length.
func (e *Encoder) patchLength() {
	if e.lengthPos < 0 {
		return
	}
	n := len(e.buf) - e.lengthPos
	putUint32(e.buf[e.lengthPos:e.lengthPos+4], uint32(n))
	e.lengthPos = -1
}

func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }
func (e *Encoder) Int8(v int8)   { e.Uint8(uint8(v)) }

func (e *Encoder) Uint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}
func (e *Encoder) Int16(v int16) { e.Uint16(uint16(v)) }

func (e *Encoder) Uint32(v uint32) { e.buf = appendUint32(e.buf, v) }
func (e *Encoder) Int32(v int32)   { e.Uint32(uint32(v)) }

func (e *Encoder) Uint64(v uint64) {
	e.Uint32(uint32(v >> 32))
	e.Uint32(uint32(v))
}
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Bytes appends raw bytes to the current message body.
func (e *Encoder) Bytes(b []byte) { e.buf = append(e.buf, b...) }

// RawByte queues a single byte with no framing at all — used for the
// one-byte 'S'/'N' reply to SSLRequest/GSSENCRequest, which predates the
// length-prefixed message format and is never wrapped in one.
func (e *Encoder) RawByte(b byte) { e.buf = append(e.buf, b) }

// String writes a NUL-terminated string.
func (e *Encoder) String(v string) {
	e.buf = append(e.buf, v...)
	e.buf = append(e.buf, 0)
}

// Buffered reports how many bytes are queued but not yet flushed.
func (e *Encoder) Buffered() int { return len(e.buf) }

// Flush writes all buffered bytes to the underlying writer, tolerating
// partial writes by retrying the remainder.
func (e *Encoder) Flush(ctx context.Context) error {
	e.patchLength()
	if len(e.buf) == 0 {
		return nil
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	off := 0
	for off < len(e.buf) {
		n, err := e.w.Write(e.buf[off:])
		off += n
		if err != nil {
			e.buf = e.buf[:copy(e.buf, e.buf[off:])]
			return err
		}
	}
	e.buf = e.buf[:0]
	return nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
