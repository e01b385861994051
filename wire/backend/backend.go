// Package backend builds every backend message the emulator can send,
// writing directly into a session's wire.Encoder. None of these
// constructors touch the network; each one frames its own message (via
// Encoder.Next) and the caller is responsible for flushing.
package backend

import (
	"gfx.cafe/gfx/pgwired/perror"
	"gfx.cafe/gfx/pgwired/wire"
)

// AuthenticationOk writes AuthenticationOk (auth subtype 0).
func AuthenticationOk(e *wire.Encoder) {
	e.Next(wire.Authentication, 8)
	e.Int32(int32(wire.AuthOK))
}

// AuthenticationCleartextPassword requests a cleartext password.
func AuthenticationCleartextPassword(e *wire.Encoder) {
	e.Next(wire.Authentication, 8)
	e.Int32(int32(wire.AuthCleartext))
}

// AuthenticationMD5Password requests an MD5-hashed password, carrying the
// 4-byte salt the client must fold into its hash.
func AuthenticationMD5Password(e *wire.Encoder, salt [4]byte) {
	e.Next(wire.Authentication, 12)
	e.Int32(int32(wire.AuthMD5))
	e.Bytes(salt[:])
}

// AuthenticationSASL advertises the SASL mechanisms the server supports.
func AuthenticationSASL(e *wire.Encoder, mechanisms []string) {
	length := 8
	for _, m := range mechanisms {
		length += len(m) + 1
	}
	length++ // trailing empty-string terminator
	e.Next(wire.Authentication, length)
	e.Int32(int32(wire.AuthSASL))
	for _, m := range mechanisms {
		e.String(m)
	}
	e.Uint8(0)
}

// AuthenticationSASLContinue carries one round of SASL challenge data.
func AuthenticationSASLContinue(e *wire.Encoder, data []byte) {
	e.Next(wire.Authentication, 8+len(data))
	e.Int32(int32(wire.AuthSASLContinue))
	e.Bytes(data)
}

// AuthenticationSASLFinal carries the final SASL outcome data.
func AuthenticationSASLFinal(e *wire.Encoder, data []byte) {
	e.Next(wire.Authentication, 8+len(data))
	e.Int32(int32(wire.AuthSASLFinal))
	e.Bytes(data)
}

// ParameterStatus reports one runtime parameter's current value.
func ParameterStatus(e *wire.Encoder, name, value string) {
	e.Next(wire.ParameterStatus, 4+len(name)+1+len(value)+1)
	e.String(name)
	e.String(value)
}

// BackendKeyData conveys the process id and cancellation secret a client
// must present on a follow-up connection to cancel this session.
func BackendKeyData(e *wire.Encoder, pid, secret uint32) {
	e.Next(wire.BackendKeyData, 12)
	e.Int32(int32(pid))
	e.Int32(int32(secret))
}

// ReadyForQuery reports the session's transaction status and marks the
// boundary of a request/response cycle.
func ReadyForQuery(e *wire.Encoder, status wire.TxStatus) {
	e.Next(wire.ReadyForQuery, 5)
	e.Uint8(byte(status))
}

// EmptyQueryResponse is sent in place of CommandComplete when the query
// string contained no statements.
func EmptyQueryResponse(e *wire.Encoder) {
	e.Next(wire.EmptyQueryResponse, 4)
}

// CommandComplete reports the completed command tag, e.g. "SELECT 3".
func CommandComplete(e *wire.Encoder, tag string) {
	e.Next(wire.CommandComplete, 4+len(tag)+1)
	e.String(tag)
}

// ParseComplete acknowledges a successful Parse.
func ParseComplete(e *wire.Encoder) {
	e.Next(wire.ParseComplete, 4)
}

// BindComplete acknowledges a successful Bind.
func BindComplete(e *wire.Encoder) {
	e.Next(wire.BindComplete, 4)
}

// CloseComplete acknowledges a successful Close.
func CloseComplete(e *wire.Encoder) {
	e.Next(wire.CloseComplete, 4)
}

// NoData reports that a Describe target has no result columns.
func NoData(e *wire.Encoder) {
	e.Next(wire.NoData, 4)
}

// PortalSuspended reports that Execute stopped after its row limit
// without exhausting the portal.
func PortalSuspended(e *wire.Encoder) {
	e.Next(wire.PortalSuspended, 4)
}

// ParameterDescription reports the parameter type OIDs for a described
// statement.
func ParameterDescription(e *wire.Encoder, oids []int32) {
	e.Next(wire.ParameterDescription, 4+2+4*len(oids))
	e.Int16(int16(len(oids)))
	for _, oid := range oids {
		e.Int32(oid)
	}
}

// FieldDescription is one column of a RowDescription.
type FieldDescription struct {
	Name         string
	TableOID     int32
	ColumnAttr   int16
	TypeOID      int32
	TypeSize     int16
	TypeModifier int32
	FormatCode   int16
}

// RowDescription reports the column layout of a described statement or
// portal.
func RowDescription(e *wire.Encoder, fields []FieldDescription) {
	length := 4 + 2
	for _, f := range fields {
		length += len(f.Name) + 1 + 4 + 2 + 4 + 2 + 4 + 2
	}
	e.Next(wire.RowDescription, length)
	e.Int16(int16(len(fields)))
	for _, f := range fields {
		e.String(f.Name)
		e.Int32(f.TableOID)
		e.Int16(f.ColumnAttr)
		e.Int32(f.TypeOID)
		e.Int16(f.TypeSize)
		e.Int32(f.TypeModifier)
		e.Int16(f.FormatCode)
	}
}

// DataRow writes one row of results. A nil element encodes as SQL NULL
// (length -1); any other element is written as-is (already encoded in
// text or binary form per the negotiated format code).
func DataRow(e *wire.Encoder, columns [][]byte) {
	length := 4 + 2
	for _, c := range columns {
		length += 4
		if c != nil {
			length += len(c)
		}
	}
	e.Next(wire.DataRow, length)
	e.Int16(int16(len(columns)))
	for _, c := range columns {
		if c == nil {
			e.Int32(-1)
			continue
		}
		e.Int32(int32(len(c)))
		e.Bytes(c)
	}
}

// NegotiateProtocolVersion tells a client using a newer minor protocol
// version, or requesting unsupported startup options, what this server
// actually understands.
func NegotiateProtocolVersion(e *wire.Encoder, newestMinor int32, unsupportedOptions []string) {
	length := 4 + 4 + 4
	for _, o := range unsupportedOptions {
		length += len(o) + 1
	}
	e.Next(wire.NegotiateProtoVersion, length)
	e.Int32(newestMinor)
	e.Int32(int32(len(unsupportedOptions)))
	for _, o := range unsupportedOptions {
		e.String(o)
	}
}

// writeFields encodes the shared (code byte, value cstring)* + trailing
// NUL field list used by both ErrorResponse and NoticeResponse.
func writeFields(e *wire.Encoder, typ wire.Type, pe perror.Error) {
	length := 4
	length += 2 + len(pe.Severity())
	length += 2 + len(pe.Code())
	length += 2 + len(pe.Message())
	for _, f := range pe.Extra() {
		length += 2 + len(f.Value)
	}
	length++ // terminator
	e.Next(typ, length)
	e.Uint8('S')
	e.String(string(pe.Severity()))
	e.Uint8('C')
	e.String(string(pe.Code()))
	e.Uint8('M')
	e.String(pe.Message())
	for _, f := range pe.Extra() {
		e.Uint8(byte(f.Type))
		e.String(f.Value)
	}
	e.Uint8(0)
}

// writeCopyResponse encodes the shared (format byte, column count int16,
// per-column format int16*) body used by CopyInResponse, CopyOutResponse,
// and CopyBothResponse.
func writeCopyResponse(e *wire.Encoder, typ wire.Type, overallFormat int8, columnFormats []int16) {
	e.Next(typ, 4+1+2+2*len(columnFormats))
	e.Uint8(byte(overallFormat))
	e.Int16(int16(len(columnFormats)))
	for _, f := range columnFormats {
		e.Int16(f)
	}
}

// CopyInResponse tells the client to start streaming CopyData messages for
// a COPY FROM STDIN.
func CopyInResponse(e *wire.Encoder, overallFormat int8, columnFormats []int16) {
	writeCopyResponse(e, wire.CopyInResponse, overallFormat, columnFormats)
}

// CopyOutResponse precedes the CopyData stream the server sends for a
// COPY TO STDOUT.
func CopyOutResponse(e *wire.Encoder, overallFormat int8, columnFormats []int16) {
	writeCopyResponse(e, wire.CopyOutResponse, overallFormat, columnFormats)
}

// CopyBothResponse precedes a bidirectional CopyData stream, as used by
// logical replication.
func CopyBothResponse(e *wire.Encoder, overallFormat int8, columnFormats []int16) {
	writeCopyResponse(e, wire.CopyBothResponse, overallFormat, columnFormats)
}

// CopyData carries one chunk of a COPY stream's row data, in either
// direction.
func CopyData(e *wire.Encoder, data []byte) {
	e.Next(wire.CopyData, 4+len(data))
	e.Bytes(data)
}

// CopyDone marks the successful end of a COPY stream this side sent.
func CopyDone(e *wire.Encoder) {
	e.Next(wire.CopyDone, 4)
}

// CopyFail aborts a COPY FROM STDIN the client was streaming, carrying the
// reason reported back to the client as an error.
func CopyFail(e *wire.Encoder, reason string) {
	e.Next(wire.CopyFail, 4+len(reason)+1)
	e.String(reason)
}

// ErrorResponse reports a fatal or statement-terminating error.
func ErrorResponse(e *wire.Encoder, pe perror.Error) {
	writeFields(e, wire.ErrorResponse, pe)
}

// NoticeResponse reports a non-fatal advisory notice, using the same
// field layout as ErrorResponse.
func NoticeResponse(e *wire.Encoder, pe perror.Error) {
	writeFields(e, wire.NoticeResponse, pe)
}
