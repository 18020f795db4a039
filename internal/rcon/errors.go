package rcon

import "fmt"

// ErrorKind classifies RCON failures so the pool and pipeline can pick a
// recovery policy without string matching.
type ErrorKind int

const (
	KindConnectionFailed ErrorKind = iota
	KindAuthFailed
	KindTimeout
	KindInvalidResponse
	KindNotConnected
	KindCommandFailed
	KindInvalidCredentials
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection failed"
	case KindAuthFailed:
		return "authentication failed"
	case KindTimeout:
		return "timeout"
	case KindInvalidResponse:
		return "invalid response"
	case KindNotConnected:
		return "not connected"
	case KindCommandFailed:
		return "command failed"
	case KindInvalidCredentials:
		return "invalid credentials"
	default:
		return "unknown"
	}
}

// Error is the typed failure surfaced by connections and the pool.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from an error, or KindConnectionFailed if it
// is not an rcon error.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindConnectionFailed
}
