package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Source RCON packet types.
const (
	packetAuth          int32 = 3
	packetAuthResponse  int32 = 2
	packetExecCommand   int32 = 2
	packetResponseValue int32 = 0
)

// maxSourcePacket caps the size field read off the wire.
const maxSourcePacket = 16384

// sourcePacket is one framed message: <size><id><type><body>\x00\x00 with
// all integers little-endian. Size excludes itself.
type sourcePacket struct {
	ID   int32
	Type int32
	Body string
}

func encodeSourcePacket(id, packetType int32, body string) []byte {
	payload := append([]byte(body), 0x00, 0x00)
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, int32(4+4+len(payload)))
	binary.Write(buf, binary.LittleEndian, id)
	binary.Write(buf, binary.LittleEndian, packetType)
	buf.Write(payload)
	return buf.Bytes()
}

func readSourcePacket(r io.Reader) (sourcePacket, error) {
	var size int32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return sourcePacket{}, err
	}
	if size < 10 || size > maxSourcePacket {
		return sourcePacket{}, newError(KindInvalidResponse, "packet size %d out of range", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return sourcePacket{}, err
	}
	return sourcePacket{
		ID:   int32(binary.LittleEndian.Uint32(body[0:4])),
		Type: int32(binary.LittleEndian.Uint32(body[4:8])),
		Body: string(body[8 : len(body)-2]),
	}, nil
}

// SourceConn is a TCP remote-console session for Source-engine servers. The
// session authenticates once at connect and stays open across commands.
type SourceConn struct {
	addr     string
	password string

	mu     sync.Mutex
	state  connState
	conn   net.Conn
	nextID int32
}

// NewSource prepares a connection to addr ("host:port"). No traffic is sent
// until Connect or the first Execute.
func NewSource(addr, password string) *SourceConn {
	return &SourceConn{
		addr:     addr,
		password: password,
		state:    stateClosed,
	}
}

func (c *SourceConn) Type() string { return "source" }

func (c *SourceConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady || c.state == stateBusy
}

// Connect dials the server and authenticates.
func (c *SourceConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *SourceConn) connectLocked(ctx context.Context) error {
	if c.state == stateReady {
		return nil
	}
	c.state = stateConnecting

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.state = stateClosed
		return wrapError(KindConnectionFailed, fmt.Sprintf("dialing %s", c.addr), err)
	}
	c.conn = conn

	c.state = stateAuthenticating
	if err := c.authLocked(ctx); err != nil {
		c.conn.Close()
		c.conn = nil
		c.state = stateClosed
		return err
	}

	c.state = stateReady
	return nil
}

func (c *SourceConn) authLocked(ctx context.Context) error {
	authID := c.nextIDLocked()
	if err := c.writeLocked(ctx, encodeSourcePacket(authID, packetAuth, c.password)); err != nil {
		return err
	}

	// Some servers prefix the auth response with an empty RESPONSE_VALUE.
	for {
		pkt, err := c.readLocked(ctx)
		if err != nil {
			return err
		}
		if pkt.Type == packetResponseValue {
			continue
		}
		if pkt.Type != packetAuthResponse {
			return newError(KindInvalidResponse, "unexpected packet type %d during auth", pkt.Type)
		}
		if pkt.ID == -1 {
			return newError(KindAuthFailed, "server rejected rcon password")
		}
		if pkt.ID != authID {
			return newError(KindInvalidResponse, "auth response id %d, want %d", pkt.ID, authID)
		}
		return nil
	}
}

// Execute runs one command. Multi-packet responses are coalesced by trailing
// an empty RESPONSE_VALUE packet and reading until its echo comes back.
func (c *SourceConn) Execute(ctx context.Context, command string) (string, error) {
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
	if err != nil {
		c.closeLocked()
	}
	return body, err
}

func (c *SourceConn) executeLocked(ctx context.Context, command string) (string, error) {
	cmdID := c.nextIDLocked()
	if err := c.writeLocked(ctx, encodeSourcePacket(cmdID, packetExecCommand, command)); err != nil {
		return "", err
	}
	if err := c.writeLocked(ctx, encodeSourcePacket(cmdID, packetResponseValue, "")); err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		pkt, err := c.readLocked(ctx)
		if err != nil {
			return "", err
		}
		if pkt.ID != cmdID {
			continue
		}
		if pkt.Type != packetResponseValue {
			return "", newError(KindInvalidResponse, "unexpected packet type %d", pkt.Type)
		}
		if pkt.Body == "" {
			// Echo of our empty trailer; the response is complete.
			break
		}
		sb.WriteString(pkt.Body)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *SourceConn) writeLocked(ctx context.Context, buf []byte) error {
	if err := c.setDeadlineLocked(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return wrapError(KindConnectionFailed, "sending packet", err)
	}
	return nil
}

func (c *SourceConn) readLocked(ctx context.Context) (sourcePacket, error) {
	if err := c.setDeadlineLocked(ctx); err != nil {
		return sourcePacket{}, err
	}
	pkt, err := readSourcePacket(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return sourcePacket{}, wrapError(KindTimeout, fmt.Sprintf("waiting for %s", c.addr), err)
		}
		if _, ok := err.(*Error); ok {
			return sourcePacket{}, err
		}
		return sourcePacket{}, wrapError(KindConnectionFailed, "reading packet", err)
	}
	return pkt, nil
}

func (c *SourceConn) setDeadlineLocked(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(commandTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return wrapError(KindConnectionFailed, "setting deadline", err)
	}
	return nil
}

func (c *SourceConn) nextIDLocked() int32 {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return c.nextID
}

func (c *SourceConn) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = stateClosed
}

func (c *SourceConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
