// Package ingress receives game server log traffic over UDP and hands
// identified lines to the pipeline.
package ingress

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/journal"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/metrics"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/servers"
)

const maxDatagram = 65535

// packetHeader is the four-byte prefix every engine log packet carries.
const packetHeader = "\xff\xff\xff\xff"

// Sink receives one identified log line per call. Implementations must not
// block; the listener runs a single read loop.
type Sink interface {
	Submit(serverID int64, line string, received time.Time)
}

// Listener is the UDP log ingress. Packets are identified by beacon token
// when present, falling back to the sender's address pair.
type Listener struct {
	addr     string
	registry *servers.Registry
	sink     Sink
	journal  *journal.Journal

	conn net.PacketConn
	wg   sync.WaitGroup
}

// New creates a listener bound to addr ("host:port") on Start.
func New(addr string, registry *servers.Registry, sink Sink, jnl *journal.Journal) *Listener {
	return &Listener{
		addr:     addr,
		registry: registry,
		sink:     sink,
		journal:  jnl,
	}
}

// Start binds the socket and launches the read loop.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return err
	}
	l.conn = conn
	log.Printf("ingress: listening on %s", conn.LocalAddr())

	l.wg.Add(1)
	go l.readLoop(ctx)
	return nil
}

// Stop closes the socket and waits for the read loop.
func (l *Listener) Stop() {
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()
}

func (l *Listener) readLoop(ctx context.Context) {
	defer l.wg.Done()
	buf := make([]byte, maxDatagram)

	for {
		n, remote, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Printf("ingress: read error: %v", err)
			continue
		}
		l.handlePacket(ctx, remote, buf[:n], time.Now().UTC())
	}
}

// handlePacket strips the engine framing, identifies the sender and forwards
// the line. Unidentifiable traffic is counted and dropped.
func (l *Listener) handlePacket(ctx context.Context, remote net.Addr, raw []byte, received time.Time) {
	token, line, ok := splitPacket(raw)
	if !ok {
		metrics.IngressPackets.WithLabelValues("malformed").Inc()
		return
	}

	var serverID int64
	var err error
	if token != "" {
		serverID, err = l.registry.ResolveToken(ctx, token)
	} else {
		udp, addrOK := remote.(*net.UDPAddr)
		if !addrOK {
			metrics.IngressPackets.WithLabelValues("malformed").Inc()
			return
		}
		serverID, err = l.registry.ResolveAddress(ctx, udp.IP.String(), udp.Port)
	}
	if err != nil {
		if errors.Is(err, servers.ErrUnknownServer) {
			metrics.IngressPackets.WithLabelValues("unknown_server").Inc()
		} else {
			metrics.IngressPackets.WithLabelValues("error").Inc()
			log.Printf("ingress: resolving %s: %v", remote, err)
		}
		return
	}

	metrics.IngressPackets.WithLabelValues("accepted").Inc()

	if l.journal != nil {
		if err := l.journal.Write(received, remote.String(), line); err != nil {
			log.Printf("ingress: journal write: %v", err)
		}
	}

	l.sink.Submit(serverID, line, received)
}

// splitPacket extracts the optional logsecret token and the log line from one
// datagram. Engines frame lines three ways:
//
//	\xff\xff\xff\xfflog L <line>     GoldSrc logaddress
//	\xff\xff\xff\xffRL <line>        Source logaddress
//	\xff\xff\xff\xffS<secret>L <line> either engine with sv_logsecret set
func splitPacket(raw []byte) (token, line string, ok bool) {
	s := string(raw)
	if !strings.HasPrefix(s, packetHeader) {
		return "", "", false
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s[len(packetHeader):], "\x00"), "\n")

	switch {
	case strings.HasPrefix(s, "log "):
		return "", strings.TrimPrefix(s, "log "), true
	case strings.HasPrefix(s, "RL "):
		return "", strings.TrimPrefix(s, "RL "), true
	case strings.HasPrefix(s, "S"):
		// Secret runs up to the "L " that starts the log line proper.
		rest := s[1:]
		idx := strings.Index(rest, "L ")
		if idx < 0 {
			return "", "", false
		}
		return rest[:idx], rest[idx:], true
	default:
		return "", "", false
	}
}
