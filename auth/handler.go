package auth

import (
	"context"

	"gfx.cafe/gfx/pgwired/dispatch"
	"gfx.cafe/gfx/pgwired/perror"
	"gfx.cafe/gfx/pgwired/session"
	"gfx.cafe/gfx/pgwired/wire/backend"
)

// Register installs the StartupHandler (and, for SASL, the matching
// SASLInitial/SASLResponse handlers) that run creds against every
// session on table. It picks exactly one method, preferring SASL over
// MD5 over cleartext when creds happens to implement more than one.
func Register(table *dispatch.Table, creds Credentials) {
	table.RegisterStartup(startupHandler(creds))
	switch c := creds.(type) {
	case SASLServer:
		table.RegisterSASLInitial(saslInitialHandler(c))
		table.RegisterSASLResponse(saslResponseHandler())
	case MD5Server:
		table.RegisterPassword(md5PasswordHandler(c))
	case CleartextServer:
		table.RegisterPassword(cleartextPasswordHandler(c))
	}
}

func startupHandler(creds Credentials) dispatch.StartupHandlerFunc {
	return func(ctx context.Context, s *session.Session, _ session.StartupMessage) (dispatch.Result, error) {
		switch c := creds.(type) {
		case SASLServer:
			backend.AuthenticationSASL(s.Enc, c.SupportedSASLMechanisms())
			s.ExpectSASLInitial()
			return dispatch.Continue, s.Flush(ctx)

		case MD5Server:
			salt, err := newSalt()
			if err != nil {
				return dispatch.FatalSession, err
			}
			s.AuthHandle = salt
			backend.AuthenticationMD5Password(s.Enc, salt)
			s.ExpectPassword()
			return dispatch.Continue, s.Flush(ctx)

		case CleartextServer:
			backend.AuthenticationCleartextPassword(s.Enc)
			s.ExpectPassword()
			return dispatch.Continue, s.Flush(ctx)

		default:
			backend.AuthenticationOk(s.Enc)
			s.Phase = session.PhaseReady
			return dispatch.Continue, s.Flush(ctx)
		}
	}
}

func md5PasswordHandler(c MD5Server) dispatch.PasswordHandlerFunc {
	return func(ctx context.Context, s *session.Session, m session.PasswordMessage) (dispatch.Result, error) {
		salt, _ := s.AuthHandle.([4]byte)
		if err := c.VerifyMD5(salt, m.Password); err != nil {
			return authFailed(ctx, s)
		}
		backend.AuthenticationOk(s.Enc)
		s.Phase = session.PhaseReady
		return dispatch.Continue, s.Flush(ctx)
	}
}

func cleartextPasswordHandler(c CleartextServer) dispatch.PasswordHandlerFunc {
	return func(ctx context.Context, s *session.Session, m session.PasswordMessage) (dispatch.Result, error) {
		if err := c.VerifyCleartext(m.Password); err != nil {
			return authFailed(ctx, s)
		}
		backend.AuthenticationOk(s.Enc)
		s.Phase = session.PhaseReady
		return dispatch.Continue, s.Flush(ctx)
	}
}

func saslInitialHandler(c SASLServer) dispatch.SASLInitialHandlerFunc {
	return func(ctx context.Context, s *session.Session, m session.SASLInitialResponse) (dispatch.Result, error) {
		verifier, err := c.VerifySASL(m.Mechanism)
		if err != nil {
			return authFailed(ctx, s)
		}
		out, err := verifier.Write(m.Data)
		if err != nil {
			return authFailed(ctx, s)
		}
		s.AuthHandle = verifier
		backend.AuthenticationSASLContinue(s.Enc, out)
		s.ExpectSASLResponse()
		return dispatch.Continue, s.Flush(ctx)
	}
}

func saslResponseHandler() dispatch.SASLResponseHandlerFunc {
	return func(ctx context.Context, s *session.Session, m session.SASLResponse) (dispatch.Result, error) {
		verifier, ok := s.AuthHandle.(SASLVerifier)
		if !ok {
			return authFailed(ctx, s)
		}
		out, err := verifier.Write(m.Data)
		if err != nil {
			return authFailed(ctx, s)
		}
		backend.AuthenticationSASLFinal(s.Enc, out)
		backend.AuthenticationOk(s.Enc)
		s.Phase = session.PhaseReady
		return dispatch.Continue, s.Flush(ctx)
	}
}

func authFailed(ctx context.Context, s *session.Session) (dispatch.Result, error) {
	pe := perror.New(perror.FATAL, perror.InvalidPassword, "password authentication failed")
	backend.ErrorResponse(s.Enc, pe)
	_ = s.Flush(ctx)
	return dispatch.FatalSession, pe
}
