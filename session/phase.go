package session

// Phase is the session's position in the protocol state machine.
type Phase int

const (
	// PhaseAwaitStartup is waiting for the initial untyped frame:
	// StartupMessage, SSLRequest, GSSENCRequest, or CancelRequest.
	PhaseAwaitStartup Phase = iota
	// PhaseSSLNegotiating has just answered an SSLRequest and, if
	// accepted, is performing the TLS handshake before re-reading the
	// startup frame.
	PhaseSSLNegotiating
	// PhaseAwaitAuth has parsed startup parameters and is running the
	// authentication sub-protocol.
	PhaseAwaitAuth
	// PhaseReady is idle, ready to receive a new simple- or
	// extended-query cycle.
	PhaseReady
	// PhaseInExtended has seen at least one Parse/Bind/Describe/Execute/
	// Close since the last Sync and is not yet allowed to accept a new
	// simple-query message.
	PhaseInExtended
	// PhaseErrorExtended is skipping messages until the next Sync,
	// following an error inside an extended-query burst.
	PhaseErrorExtended
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitStartup:
		return "await_startup"
	case PhaseSSLNegotiating:
		return "ssl_negotiating"
	case PhaseAwaitAuth:
		return "await_auth"
	case PhaseReady:
		return "ready"
	case PhaseInExtended:
		return "in_extended"
	case PhaseErrorExtended:
		return "error_extended"
	default:
		return "unknown"
	}
}
