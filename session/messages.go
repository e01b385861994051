package session

import (
	"sort"
	"strings"

	"gfx.cafe/gfx/pgwired/wire"
)

// StartupMessage is the untyped frame that opens a connection: a
// protocol version followed by key/value option pairs.
type StartupMessage struct {
	ProtocolVersion int32
	Parameters      map[string]string
}

// DecodeStartupMessage reads the key/value pairs that follow the
// already-consumed protocol version field, until the terminating empty
// key.
func DecodeStartupMessage(d *wire.Decoder, version int32) (StartupMessage, error) {
	sm := StartupMessage{ProtocolVersion: version, Parameters: map[string]string{}}
	for {
		key, err := d.String()
		if err != nil {
			return sm, err
		}
		if key == "" {
			break
		}
		value, err := d.String()
		if err != nil {
			return sm, err
		}
		sm.Parameters[key] = value
	}
	return sm, nil
}

// SortedParameterNames returns the startup parameter names in a stable
// order, useful for deterministic logging and tests.
func (s StartupMessage) SortedParameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CancelRequest asks the server to cancel the session identified by
// (PID, Secret).
type CancelRequest struct {
	PID    uint32
	Secret uint32
}

func DecodeCancelRequest(d *wire.Decoder) (CancelRequest, error) {
	pid, err := d.Uint32()
	if err != nil {
		return CancelRequest{}, err
	}
	secret, err := d.Uint32()
	if err != nil {
		return CancelRequest{}, err
	}
	return CancelRequest{PID: pid, Secret: secret}, nil
}

// PasswordMessage carries a cleartext or MD5-hashed password response.
type PasswordMessage struct {
	Password string
}

func DecodePasswordMessage(d *wire.Decoder) (PasswordMessage, error) {
	s, err := d.String()
	return PasswordMessage{Password: s}, err
}

// SASLInitialResponse starts a SASL exchange.
type SASLInitialResponse struct {
	Mechanism string
	Data      []byte
}

func DecodeSASLInitialResponse(d *wire.Decoder) (SASLInitialResponse, error) {
	mech, err := d.String()
	if err != nil {
		return SASLInitialResponse{}, err
	}
	n, err := d.Int32()
	if err != nil {
		return SASLInitialResponse{}, err
	}
	if n < 0 {
		return SASLInitialResponse{Mechanism: mech}, nil
	}
	data, err := d.Bytes(int(n))
	out := make([]byte, len(data))
	copy(out, data)
	return SASLInitialResponse{Mechanism: mech, Data: out}, err
}

// SASLResponse carries one subsequent round of SASL data.
type SASLResponse struct {
	Data []byte
}

func DecodeSASLResponse(d *wire.Decoder) (SASLResponse, error) {
	data, err := d.Bytes(d.Length())
	out := make([]byte, len(data))
	copy(out, data)
	return SASLResponse{Data: out}, err
}

// Query is a simple-query-protocol request. It may contain more than one
// statement separated by semicolons; splitting is a handler concern.
type Query struct {
	SQL string
}

func DecodeQuery(d *wire.Decoder) (Query, error) {
	s, err := d.String()
	return Query{SQL: s}, err
}

// Summary returns a log-line-safe, length-bounded rendering of the query
// text.
func (q Query) Summary() string { return summarizeQuery(q.SQL) }

// Parse names and registers a prepared statement.
type Parse struct {
	Destination        string
	Query              string
	ParameterDataTypes []int32
}

func DecodeParse(d *wire.Decoder) (Parse, error) {
	var p Parse
	var err error
	if p.Destination, err = d.String(); err != nil {
		return p, err
	}
	if p.Query, err = d.String(); err != nil {
		return p, err
	}
	n, err := d.Int16()
	if err != nil {
		return p, err
	}
	p.ParameterDataTypes = make([]int32, n)
	for i := range p.ParameterDataTypes {
		if p.ParameterDataTypes[i], err = d.Int32(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Summary returns a log-line-safe, length-bounded rendering of the
// statement text being parsed.
func (p Parse) Summary() string { return summarizeQuery(p.Query) }

// Bind binds parameter values to a prepared statement, producing a
// portal.
type Bind struct {
	DestinationPortal string
	SourceStatement   string
	ParamFormats      []int16
	ParamValues       [][]byte
	ResultFormats     []int16
}

func DecodeBind(d *wire.Decoder) (Bind, error) {
	var b Bind
	var err error
	if b.DestinationPortal, err = d.String(); err != nil {
		return b, err
	}
	if b.SourceStatement, err = d.String(); err != nil {
		return b, err
	}
	nFormats, err := d.Int16()
	if err != nil {
		return b, err
	}
	b.ParamFormats = make([]int16, nFormats)
	for i := range b.ParamFormats {
		if b.ParamFormats[i], err = d.Int16(); err != nil {
			return b, err
		}
	}
	nParams, err := d.Int16()
	if err != nil {
		return b, err
	}
	b.ParamValues = make([][]byte, nParams)
	for i := range b.ParamValues {
		n, err := d.Int32()
		if err != nil {
			return b, err
		}
		if n < 0 {
			continue
		}
		raw, err := d.Bytes(int(n))
		if err != nil {
			return b, err
		}
		b.ParamValues[i] = append([]byte(nil), raw...)
	}
	nResults, err := d.Int16()
	if err != nil {
		return b, err
	}
	b.ResultFormats = make([]int16, nResults)
	for i := range b.ResultFormats {
		if b.ResultFormats[i], err = d.Int16(); err != nil {
			return b, err
		}
	}
	return b, nil
}

// DescribeTarget selects whether Describe/Close names a statement or a
// portal.
type DescribeTarget byte

const (
	DescribeStatement DescribeTarget = 'S'
	DescribePortal     DescribeTarget = 'P'
)

// Describe requests the parameter/row shape of a statement or portal.
type Describe struct {
	Which DescribeTarget
	Name  string
}

func DecodeDescribe(d *wire.Decoder) (Describe, error) {
	which, err := d.Uint8()
	if err != nil {
		return Describe{}, err
	}
	name, err := d.String()
	return Describe{Which: DescribeTarget(which), Name: name}, err
}

// Close destroys a named (or unnamed) statement or portal.
type Close struct {
	Which DescribeTarget
	Name  string
}

func DecodeClose(d *wire.Decoder) (Close, error) {
	which, err := d.Uint8()
	if err != nil {
		return Close{}, err
	}
	name, err := d.String()
	return Close{Which: DescribeTarget(which), Name: name}, err
}

// Execute runs a portal, optionally limited to maxRows result rows (0
// means unlimited).
type Execute struct {
	Portal  string
	MaxRows int32
}

func DecodeExecute(d *wire.Decoder) (Execute, error) {
	name, err := d.String()
	if err != nil {
		return Execute{}, err
	}
	n, err := d.Int32()
	return Execute{Portal: name, MaxRows: n}, err
}

// summarizeQuery trims and shortens a query string for structured
// logging, so a multi-megabyte statement doesn't blow out a log line.
func summarizeQuery(sql string) string {
	sql = strings.TrimSpace(sql)
	const max = 200
	if len(sql) > max {
		return sql[:max] + "…"
	}
	return sql
}
