package rcon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// GoldSrcConn is a challenge-authenticated UDP remote-console session.
// GoldSrc has no persistent session; the challenge nonce stands in for one
// and is reacquired whenever the server rejects it.
type GoldSrcConn struct {
	addr     string
	password string

	mu        sync.Mutex
	state     connState
	conn      net.Conn
	codec     *goldSrcCodec
	challenge int64
}

// NewGoldSrc prepares a connection to addr ("host:port"). No traffic is sent
// until Connect or the first Execute.
func NewGoldSrc(addr, password string) *GoldSrcConn {
	return &GoldSrcConn{
		addr:     addr,
		password: password,
		state:    stateClosed,
	}
}

func (c *GoldSrcConn) Type() string { return "goldsrc" }

func (c *GoldSrcConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady || c.state == stateBusy
}

// Connect dials the server and obtains a challenge nonce.
func (c *GoldSrcConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *GoldSrcConn) connectLocked(ctx context.Context) error {
	if c.state == stateReady {
		return nil
	}
	c.state = stateConnecting

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		c.state = stateClosed
		return wrapError(KindConnectionFailed, fmt.Sprintf("dialing %s", c.addr), err)
	}
	c.conn = conn
	c.codec = newGoldSrcCodec()

	c.state = stateAuthenticating
	if err := c.acquireChallengeLocked(ctx); err != nil {
		c.conn.Close()
		c.conn = nil
		c.state = stateClosed
		return err
	}

	c.state = stateReady
	return nil
}

func (c *GoldSrcConn) acquireChallengeLocked(ctx context.Context) error {
	body, err := c.roundTripLocked(ctx, encodeGoldSrcChallenge())
	if err != nil {
		return err
	}
	n, err := parseGoldSrcChallenge(body)
	if err != nil {
		return err
	}
	c.challenge = n
	return nil
}

// Execute runs one command, redialing and reacquiring the challenge once if
// the server reports a stale one.
func (c *GoldSrcConn) Execute(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", newError(KindCommandFailed, "empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateReady {
		if err := c.connectLocked(ctx); err != nil {
			return "", err
		}
	}

	c.state = stateBusy
	body, err := c.executeLocked(ctx, command)
	if c.state == stateBusy {
		c.state = stateReady
	}
	return body, err
}

func (c *GoldSrcConn) executeLocked(ctx context.Context, command string) (string, error) {
	body, err := c.roundTripLocked(ctx, encodeGoldSrcCommand(c.challenge, c.password, command))
	if err != nil {
		c.closeLocked()
		return "", err
	}

	if cerr := classifyGoldSrcBody(body); cerr != nil {
		if cerr.Kind == KindAuthFailed && cerr.Msg == "bad challenge" {
			// A stale nonce invalidates the whole session: tear it down,
			// rebuild it with a fresh challenge, and retry once.
			c.challenge = 0
			c.closeLocked()
			if err := c.connectLocked(ctx); err != nil {
				return "", err
			}
			c.state = stateBusy
			body, err = c.roundTripLocked(ctx, encodeGoldSrcCommand(c.challenge, c.password, command))
			if err != nil {
				c.closeLocked()
				return "", err
			}
			if cerr := classifyGoldSrcBody(body); cerr != nil {
				c.challenge = 0
				c.closeLocked()
				return "", cerr
			}
			return body, nil
		}
		if cerr.Kind == KindAuthFailed {
			c.challenge = 0
			c.closeLocked()
		}
		return "", cerr
	}
	return body, nil
}

// roundTripLocked sends one request and reads datagrams until the codec
// yields a complete frame or the context expires.
func (c *GoldSrcConn) roundTripLocked(ctx context.Context, req []byte) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(commandTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", wrapError(KindConnectionFailed, "setting deadline", err)
	}

	if _, err := c.conn.Write(req); err != nil {
		return "", wrapError(KindConnectionFailed, "sending request", err)
	}

	buf := make([]byte, maxGoldSrcPayload)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", wrapError(KindTimeout, fmt.Sprintf("waiting for %s", c.addr), err)
			}
			return "", wrapError(KindConnectionFailed, "reading response", err)
		}

		frame, err := c.codec.Decode(buf[:n], time.Now())
		if err != nil {
			return "", err
		}
		if frame.Complete {
			return frame.Body, nil
		}
	}
}

func (c *GoldSrcConn) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = stateClosed
}

func (c *GoldSrcConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
