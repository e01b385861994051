package perror

// Code is a five-character SQLSTATE error code, as defined by the
// PostgreSQL error codes appendix.
type Code string

const (
	SuccessfulCompletion Code = "00000"

	// Class 08 — Connection Exception
	ConnectionException                          Code = "08000"
	ConnectionDoesNotExist                        Code = "08003"
	ConnectionFailure                             Code = "08006"
	SQLClientUnableToEstablishSQLConnection       Code = "08001"
	SQLServerRejectedEstablishmentOfSQLConnection Code = "08004"
	TransactionResolutionUnknown                  Code = "08007"
	ProtocolViolation                             Code = "08P01"

	// Class 0A — Feature Not Supported
	FeatureNotSupported Code = "0A000"

	// Class 28 — Invalid Authorization Specification
	InvalidAuthorizationSpecification Code = "28000"
	InvalidPassword                   Code = "28P01"

	// Class 42 — Syntax Error or Access Rule Violation (UndefinedCursor,
	// class 34, and UndefinedDatabase, class 3D, are listed here too)
	SyntaxError                Code = "42601"
	InsufficientPrivilege       Code = "42501"
	DuplicateColumn             Code = "42701"
	DuplicateCursor             Code = "42P03"
	DuplicateDatabase           Code = "42P04"
	DuplicatePreparedStatement  Code = "42P05"
	UndefinedColumn             Code = "42703"
	UndefinedCursor             Code = "34000"
	UndefinedDatabase           Code = "3D000"
	UndefinedFunction           Code = "42883"
	UndefinedObject             Code = "42704"
	UndefinedTable              Code = "42P01"

	// Class 53 — Insufficient Resources
	InsufficientResources Code = "53000"
	DiskFull              Code = "53100"
	OutOfMemory           Code = "53200"
	TooManyConnections    Code = "53300"
	ConfigurationLimitExceeded Code = "53400"

	// Class 57 — Operator Intervention
	OperatorIntervention Code = "57000"
	QueryCanceled        Code = "57014"
	AdminShutdown        Code = "57P01"
	CrashShutdown        Code = "57P02"
	CannotConnectNow     Code = "57P03"

	// Class 08/26/34/3F — statement/portal errors used by the extended
	// query protocol.
	InvalidSQLStatementName Code = "26000"
	InvalidCursorName       Code = "34000"

	// Class XX — Internal Error
	InternalError Code = "XX000"
	DataCorrupted Code = "XX001"
	IndexCorrupted Code = "XX002"
)
