// Package dispatch routes decoded protocol messages to pluggable
// application handlers. Every message variant has exactly one handler
// slot; an unregistered slot falls back to a safe default modeled on the
// reference emulator's default callback table, so a Table with nothing
// registered still speaks a minimally correct protocol.
package dispatch

import (
	"context"

	"gfx.cafe/gfx/pgwired/session"
)

// Result tells the reactor how to proceed after a handler returns.
type Result int

const (
	// Continue means the session stays open and the reactor should read
	// the next message.
	Continue Result = iota
	// FatalSession means the handler has already written any final
	// response and the reactor should close the connection.
	FatalSession
)

// Handler function types, one per message variant named in the handler
// contract. Each takes the session so it can inspect connection state and
// write directly to its encoder. What protocol.Serve does with a non-nil
// error depends on the variant: a Startup error is converted to a
// perror.Error, sent as an ErrorResponse, and the session is closed; a
// Parse/Bind/Describe/Execute/Close error is sent as an ErrorResponse and
// the session skips to the next Sync without closing; an error from any
// other variant closes the session without the core sending an
// ErrorResponse.
type (
	StartupHandlerFunc    func(ctx context.Context, s *session.Session, m session.StartupMessage) (Result, error)
	PasswordHandlerFunc   func(ctx context.Context, s *session.Session, m session.PasswordMessage) (Result, error)
	SASLInitialHandlerFunc func(ctx context.Context, s *session.Session, m session.SASLInitialResponse) (Result, error)
	SASLResponseHandlerFunc func(ctx context.Context, s *session.Session, m session.SASLResponse) (Result, error)
	QueryHandlerFunc      func(ctx context.Context, s *session.Session, m session.Query) (Result, error)
	ParseHandlerFunc      func(ctx context.Context, s *session.Session, m session.Parse) (Result, error)
	BindHandlerFunc       func(ctx context.Context, s *session.Session, m session.Bind) (Result, error)
	DescribeHandlerFunc   func(ctx context.Context, s *session.Session, m session.Describe) (Result, error)
	ExecuteHandlerFunc    func(ctx context.Context, s *session.Session, m session.Execute) (Result, error)
	CloseHandlerFunc      func(ctx context.Context, s *session.Session, m session.Close) (Result, error)
	SyncHandlerFunc       func(ctx context.Context, s *session.Session) (Result, error)
	FlushHandlerFunc      func(ctx context.Context, s *session.Session) (Result, error)
	CancelHandlerFunc     func(ctx context.Context, pid, secret uint32) error
	SSLRequestHandlerFunc func(ctx context.Context, s *session.Session) (accept bool)
	TerminateHandlerFunc  func(ctx context.Context, s *session.Session)
	UnknownHandlerFunc    func(ctx context.Context, s *session.Session, typ byte) (Result, error)
)
