package session

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"gfx.cafe/gfx/pgwired/wire"
)

// BackendKey identifies a session to a follow-up CancelRequest, the way
// PID+secret does on the real wire.
type BackendKey struct {
	PID    uint32
	Secret uint32
}

// Statement is a named (or unnamed, name == "") prepared statement
// registered by a Parse message.
type Statement struct {
	Name                string
	Query               string
	ParameterDataTypes  []int32
	// Handle is an opaque token a QueryHandler can stash here at Parse
	// time and retrieve at Bind/Describe/Execute time.
	Handle any
}

// Portal is a named (or unnamed) bound statement produced by a Bind
// message.
type Portal struct {
	Name          string
	Statement     string
	ParamFormats  []int16
	ParamValues   [][]byte
	ResultFormats []int16
	Handle        any
}

// Session holds all per-connection state: the framed connection, the
// FSM's current phase, transaction status, and the prepared
// statement/portal namespaces. A Session is only ever touched by the
// single goroutine running its Serve loop, except for the fields
// explicitly documented as safe for concurrent access (Cancel-related).
type Session struct {
	ID uint64
	// TraceID is a globally-unique correlation id for this session,
	// independent of the process-local, easily-recycled uint64 ID -
	// useful once log lines are shipped off-box and pgwired's own
	// counter no longer disambiguates across restarts.
	TraceID string
	Conn    net.Conn
	Dec     *wire.Decoder
	Enc     *wire.Encoder

	Phase    Phase
	TxStatus wire.TxStatus

	User     string
	Database string
	Params   map[string]string

	BackendKey BackendKey

	// AuthHandle is an opaque slot an authentication collaborator can use
	// to carry per-session state (an MD5 salt, a SASL conversation)
	// between the StartupHandler that issues a challenge and the
	// Password/SASLInitial/SASLResponse handler that checks the reply.
	AuthHandle any

	authExchange AuthExchange

	statements map[string]*Statement
	portals    map[string]*Portal

	// extendedDepth counts Parse/Bind/Describe/Execute/Close messages
	// seen since the last Sync; it is what PhaseInExtended actually
	// tracks and exists so tests can assert the invariant directly.
	extendedDepth int

	// canceled is set by a concurrent goroutine (the reactor's cancel
	// handler) so that this session's Serve loop answers its next frame
	// with QueryCanceled. Guarded by mu since it crosses goroutines.
	mu       sync.Mutex
	canceled bool
}

// New wraps conn with fresh statement/portal tables and a decoder/encoder
// pair, in PhaseAwaitStartup.
func New(id uint64, conn net.Conn) *Session {
	return &Session{
		ID:         id,
		TraceID:    uuid.NewString(),
		Conn:       conn,
		Dec:        wire.NewDecoder(conn),
		Enc:        wire.NewEncoder(conn),
		Phase:      PhaseAwaitStartup,
		TxStatus:   wire.TxIdle,
		Params:     map[string]string{},
		statements: map[string]*Statement{},
		portals:    map[string]*Portal{},
	}
}

// RequestCancel marks the session as canceled; once authenticated, Serve
// checks Canceled before running each frame and answers the next one
// with QueryCanceled and ReadyForQuery, then keeps the session open. A
// read already blocked is not interrupted. Safe to call from any
// goroutine.
func (s *Session) RequestCancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
}

// Canceled reports whether RequestCancel has been called.
func (s *Session) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// ClearCanceled resets the cancellation flag once Serve has reported it
// back to the client, so a single CancelRequest doesn't keep canceling
// every subsequent query.
func (s *Session) ClearCanceled() {
	s.mu.Lock()
	s.canceled = false
	s.mu.Unlock()
}

// Flush writes any buffered outgoing messages.
func (s *Session) Flush(ctx context.Context) error {
	return s.Enc.Flush(ctx)
}

// AddStatement registers a prepared statement, replacing any existing
// statement of the same name (Parse redefining the unnamed statement is
// the common case).
func (s *Session) AddStatement(st *Statement) {
	s.statements[st.Name] = st
}

// Statement looks up a prepared statement by name.
func (s *Session) Statement(name string) (*Statement, bool) {
	st, ok := s.statements[name]
	return st, ok
}

// CloseStatement removes a prepared statement.
func (s *Session) CloseStatement(name string) {
	delete(s.statements, name)
}

// AddPortal registers a portal, replacing any existing portal of the same
// name.
func (s *Session) AddPortal(p *Portal) {
	s.portals[p.Name] = p
}

// Portal looks up a portal by name.
func (s *Session) Portal(name string) (*Portal, bool) {
	p, ok := s.portals[name]
	return p, ok
}

// ClosePortal removes a portal.
func (s *Session) ClosePortal(name string) {
	delete(s.portals, name)
}

// EnterExtended marks the start (or continuation) of an extended-query
// burst; it moves the session out of PhaseReady the first time it is
// called since the last Sync.
func (s *Session) EnterExtended() {
	s.extendedDepth++
	if s.Phase == PhaseReady {
		s.Phase = PhaseInExtended
	}
}

// EndExtended resets the extended-query burst counter, called on Sync.
func (s *Session) EndExtended() {
	s.extendedDepth = 0
	s.Phase = PhaseReady
}

// ExtendedDepth reports how many extended-query messages have been seen
// since the last Sync, for tests asserting the "one burst at a time"
// invariant.
func (s *Session) ExtendedDepth() int { return s.extendedDepth }

// Fail moves the session into PhaseErrorExtended, where every message but
// Sync and Terminate is discarded without a reply.
func (s *Session) Fail() {
	s.Phase = PhaseErrorExtended
	s.TxStatus = wire.TxFailed
}

// DecodeStartup reads the version-tagged option list that follows an
// already-consumed StartupMessage version field.
func (s *Session) DecodeStartup(version int32) (StartupMessage, error) {
	return DecodeStartupMessage(s.Dec, version)
}

// AuthExchange names which shape of the overloaded 'p' message type the
// session currently expects. A StartupHandler sets this before it
// returns to tell the protocol FSM how to decode the client's reply;
// the FSM itself never inspects message contents to guess.
type AuthExchange int

const (
	// AuthExchangeNone means no challenge is outstanding; a 'p' frame is
	// a plain PasswordMessage (cleartext or MD5).
	AuthExchangeNone AuthExchange = iota
	AuthExchangePassword
	AuthExchangeSASLInitial
	AuthExchangeSASLResponse
)

func (s *Session) ExpectPassword()     { s.authExchange = AuthExchangePassword }
func (s *Session) ExpectSASLInitial()  { s.authExchange = AuthExchangeSASLInitial }
func (s *Session) ExpectSASLResponse() { s.authExchange = AuthExchangeSASLResponse }

// AuthExchangeState reports which shape of 'p' message is expected next.
func (s *Session) AuthExchangeState() AuthExchange { return s.authExchange }
