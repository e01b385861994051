package wire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

// slowReader dribbles out data a few bytes at a time, to exercise the
// decoder's tolerance for TCP fragmentation: no assumption that one Read
// call returns one message.
type slowReader struct {
	data []byte
	pos  int
	step int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.step
	if n <= 0 {
		n = 1
	}
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func encodedQuery(t *testing.T, sql string) []byte {
	t.Helper()
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Next(Query, 4+len(sql)+1)
	e.String(sql)
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return buf.Bytes()
}

func TestDecoderReadsFragmentedFrame(t *testing.T) {
	raw := encodedQuery(t, "select 1")
	d := NewDecoder(&slowReader{data: raw, step: 1})

	if err := d.Next(context.Background(), true); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if d.Type() != Query {
		t.Fatalf("Type = %q, want Q", d.Type())
	}
	s, err := d.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if s != "select 1" {
		t.Fatalf("String = %q", s)
	}
}

func TestDecoderMultipleMessagesOneRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodedQuery(t, "one"))
	buf.Write(encodedQuery(t, "two"))
	d := NewDecoder(&buf)

	for _, want := range []string{"one", "two"} {
		if err := d.Next(context.Background(), true); err != nil {
			t.Fatalf("Next: %v", err)
		}
		got, err := d.String()
		if err != nil {
			t.Fatalf("String: %v", err)
		}
		if got != want {
			t.Fatalf("String = %q, want %q", got, want)
		}
	}
}

func TestDecoderFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Next(Query, 100)
	e.Bytes(make([]byte, 96))
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	d := NewDecoder(&buf)
	d.SetMaxFrameSize(50)
	err := d.Next(context.Background(), true)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Next err = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecoderDiscardSkipsUnreadBody(t *testing.T) {
	raw := encodedQuery(t, "unread tail")
	d := NewDecoder(bytes.NewReader(raw))
	if err := d.Next(context.Background(), true); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := d.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if d.Length() != 0 {
		t.Fatalf("Length after Discard = %d, want 0", d.Length())
	}
}

func TestDecoderContextCanceledBeforeNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDecoder(bytes.NewReader(encodedQuery(t, "x")))
	if err := d.Next(ctx, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next err = %v, want context.Canceled", err)
	}
}
