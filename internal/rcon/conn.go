package rcon

import (
	"context"
	"time"
)

// commandTimeout bounds one Execute round-trip, including reconnect and
// re-auth on the GoldSrc path.
const commandTimeout = 5 * time.Second

// connState tracks where a connection is in its lifecycle. Transitions are
// guarded by the owning connection's mutex.
type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateAuthenticating
	stateReady
	stateBusy
)

func (s connState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateReady:
		return "ready"
	case stateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Conn is one authenticated remote-console session. Implementations serialise
// Execute internally; callers may share a Conn across goroutines.
type Conn interface {
	// Execute runs one console command and returns the response body.
	Execute(ctx context.Context, command string) (string, error)

	// Disconnect tears the session down. Safe to call repeatedly.
	Disconnect() error

	// IsConnected reports whether the session is usable without a redial.
	IsConnected() bool

	// Type names the wire protocol, for logs.
	Type() string
}
