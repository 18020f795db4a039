package rcon

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GoldSrc RCON speaks single-datagram UDP. Requests are four 0xFF bytes
// followed by ASCII; responses either repeat the 0xFF header or carry the
// 0xFE fragment header.
const (
	goldSrcHeader     = "\xff\xff\xff\xff"
	fragmentTimeout   = 2 * time.Second
	maxGoldSrcPayload = 65535
)

// Frame is the result of decoding one inbound datagram.
type Frame struct {
	// Complete is true once a full response body is available. Fragmented
	// responses return NeedMore frames until all pieces arrive.
	Complete bool
	Body     string
}

var needMore = Frame{}

// encodeGoldSrcChallenge builds the challenge acquisition request.
func encodeGoldSrcChallenge() []byte {
	return []byte(goldSrcHeader + "challenge rcon\n")
}

// encodeGoldSrcCommand builds an authenticated command request.
func encodeGoldSrcCommand(challenge int64, password, command string) []byte {
	return []byte(fmt.Sprintf("%srcon %d %s %s\n", goldSrcHeader, challenge, password, command))
}

// parseGoldSrcChallenge extracts the numeric nonce from a challenge reply.
// The reply body looks like "challenge rcon 1234567890".
func parseGoldSrcChallenge(body string) (int64, error) {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) < 3 || fields[0] != "challenge" || fields[1] != "rcon" {
		return 0, newError(KindInvalidResponse, "malformed challenge reply %q", body)
	}
	n, err := strconv.ParseInt(strings.TrimRight(fields[2], "\x00\n"), 10, 64)
	if err != nil {
		return 0, newError(KindInvalidResponse, "non-numeric challenge %q", fields[2])
	}
	return n, nil
}

// fragmentBucket accumulates the pieces of one fragmented response.
type fragmentBucket struct {
	pieces   [][]byte
	received int
	total    int
	deadline time.Time
}

// goldSrcCodec decodes response datagrams, reassembling fragments per
// packet-id. A codec instance belongs to exactly one connection and is never
// shared.
type goldSrcCodec struct {
	buckets map[int32]*fragmentBucket
}

func newGoldSrcCodec() *goldSrcCodec {
	return &goldSrcCodec{buckets: make(map[int32]*fragmentBucket)}
}

// Decode consumes one datagram. now drives bucket expiry; callers pass
// time.Now() outside tests.
func (c *goldSrcCodec) Decode(buf []byte, now time.Time) (Frame, error) {
	c.expire(now)

	if len(buf) < 5 {
		return needMore, newError(KindInvalidResponse, "short datagram (%d bytes)", len(buf))
	}

	switch {
	case buf[0] == 0xFF && buf[1] == 0xFF && buf[2] == 0xFF && buf[3] == 0xFF:
		// Types 'l' (log) and 'n' (print) carry text from byte 5; anything
		// else starts at byte 4.
		start := 4
		if buf[4] == 'l' || buf[4] == 'n' {
			start = 5
		}
		body := strings.Trim(string(buf[start:]), "\x00\n ")
		return Frame{Complete: true, Body: body}, nil

	case buf[0] == 0xFE && buf[1] == 0xFF && buf[2] == 0xFF && buf[3] == 0xFF:
		if len(buf) < 9 {
			return needMore, newError(KindInvalidResponse, "short fragment (%d bytes)", len(buf))
		}
		packetID := int32(binary.LittleEndian.Uint32(buf[4:8]))
		// Low nibble is the fragment count, high nibble this fragment's
		// 0-based index. Derived empirically; compatibility-critical.
		fragByte := buf[8]
		total := int(fragByte & 0x0F)
		index := int(fragByte >> 4)
		return c.addFragment(packetID, total, index, buf[9:], now)

	default:
		return needMore, newError(KindInvalidResponse, "unrecognised header % x", buf[:4])
	}
}

func (c *goldSrcCodec) addFragment(packetID int32, total, index int, payload []byte, now time.Time) (Frame, error) {
	if total <= 0 || index < 0 || index >= total {
		return needMore, newError(KindInvalidResponse, "fragment index %d of %d", index, total)
	}

	b, ok := c.buckets[packetID]
	if !ok {
		b = &fragmentBucket{
			pieces:   make([][]byte, total),
			total:    total,
			deadline: now.Add(fragmentTimeout),
		}
		c.buckets[packetID] = b
	}
	if b.total != total {
		delete(c.buckets, packetID)
		return needMore, newError(KindInvalidResponse, "fragment count changed for packet %d", packetID)
	}

	if b.pieces[index] == nil {
		b.pieces[index] = append([]byte(nil), payload...)
		b.received++
	}

	if b.received < b.total {
		return needMore, nil
	}

	delete(c.buckets, packetID)
	var sb strings.Builder
	for _, p := range b.pieces {
		sb.Write(p)
	}
	body := strings.Trim(sb.String(), "\x00\n ")
	// Assembled fragments carry the plain response header inside.
	body = strings.TrimPrefix(body, goldSrcHeader+"l")
	return Frame{Complete: true, Body: strings.TrimLeft(body, "\x00\n ")}, nil
}

// expire drops buckets whose deadline has passed. Incomplete responses are
// abandoned without emitting a frame.
func (c *goldSrcCodec) expire(now time.Time) {
	for id, b := range c.buckets {
		if now.After(b.deadline) {
			delete(c.buckets, id)
		}
	}
}

// classifyGoldSrcBody maps known error strings in an assembled body onto the
// failure taxonomy. A nil return means success.
func classifyGoldSrcBody(body string) *Error {
	switch {
	case strings.Contains(body, "Bad rcon_password"):
		return newError(KindAuthFailed, "bad rcon_password")
	case strings.Contains(body, "Bad challenge"):
		return newError(KindAuthFailed, "bad challenge")
	case strings.Contains(body, "Unknown command"):
		return newError(KindCommandFailed, "%s", strings.TrimSpace(body))
	default:
		return nil
	}
}
