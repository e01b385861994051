// Package wire implements the on-the-wire framing and typed-field codec for
// the PostgreSQL frontend/backend protocol, version 3.0.
package wire

import "errors"

// Type is the single-byte message type tag that prefixes every typed
// message. Untyped messages (the startup-class messages) have no tag and
// are read/written with Next(false).
type Type byte

// Frontend message types.
const (
	Bind            Type = 'B'
	Close           Type = 'C'
	CopyData        Type = 'd'
	CopyDone        Type = 'c'
	CopyFail        Type = 'f'
	Describe        Type = 'D'
	Execute         Type = 'E'
	Flush           Type = 'H'
	FunctionCall    Type = 'F'
	GSSResponse     Type = 'p'
	Parse           Type = 'P'
	PasswordMessage Type = 'p'
	Query           Type = 'Q'
	SASLInitial     Type = 'p'
	SASLResponse    Type = 'p'
	Sync            Type = 'S'
	Terminate       Type = 'X'
)

// Backend message types.
const (
	Authentication        Type = 'R'
	BackendKeyData         Type = 'K'
	BindComplete           Type = '2'
	CloseComplete          Type = '3'
	CommandComplete        Type = 'C'
	CopyBothResponse       Type = 'W'
	CopyInResponse         Type = 'G'
	CopyOutResponse        Type = 'H'
	DataRow                Type = 'D'
	EmptyQueryResponse     Type = 'I'
	ErrorResponse          Type = 'E'
	FunctionCallResponse   Type = 'V'
	NegotiateProtoVersion  Type = 'v'
	NoData                 Type = 'n'
	NoticeResponse         Type = 'N'
	NotificationResponse   Type = 'A'
	ParameterDescription   Type = 't'
	ParameterStatus        Type = 'S'
	ParseComplete          Type = '1'
	PortalSuspended        Type = 's'
	ReadyForQuery          Type = 'Z'
	RowDescription         Type = 'T'
)

// AuthType is the subtype code carried in the body of an Authentication
// message.
type AuthType int32

const (
	AuthOK              AuthType = 0
	AuthKerberosV5      AuthType = 2
	AuthCleartext       AuthType = 3
	AuthMD5             AuthType = 5
	AuthSCMCredential   AuthType = 6
	AuthGSS             AuthType = 7
	AuthGSSContinue     AuthType = 8
	AuthSSPI            AuthType = 9
	AuthSASL            AuthType = 10
	AuthSASLContinue    AuthType = 11
	AuthSASLFinal       AuthType = 12
)

// TxStatus is the single-byte transaction status carried in ReadyForQuery.
type TxStatus byte

const (
	TxIdle    TxStatus = 'I'
	TxInBlock TxStatus = 'T'
	TxFailed  TxStatus = 'E'
)

// ProtocolVersion30 is the only startup protocol version this codec
// understands.
const ProtocolVersion30 int32 = 3<<16 | 0

// Special "protocol versions" carried by the startup message that are not
// actually protocol versions at all — they select an alternate startup
// sub-protocol.
const (
	CancelRequestCode     int32 = 80877102
	SSLRequestCode        int32 = 80877103
	GSSENCRequestCode     int32 = 80877104
)

var (
	// ErrMalformed is returned when a field cannot be decoded from the
	// wire (bad string termination, truncated fixed-width field, etc).
	ErrMalformed = errors.New("wire: malformed field")
	// ErrFrameTooLarge is returned when a declared message length
	// exceeds the codec's configured maximum.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
	// ErrShortWrite mirrors io.ErrShortWrite for staged-buffer flush
	// bookkeeping.
	ErrShortWrite = errors.New("wire: short write")
)

// DefaultMaxFrameSize bounds a single message body, including the four
// length bytes. It exists to keep a hostile or confused peer from making
// the decoder buffer unbounded memory for one message.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB
