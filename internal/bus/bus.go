// Package bus fans processed events out to in-process subscribers over an
// embedded NATS server. The server never binds a socket; connections run
// through the in-process pipe.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

// SubjectEvents is the subject root; each event goes to
// "hlxd.events.<server_id>" so subscribers can filter by server.
const SubjectEvents = "hlxd.events"

const startupTimeout = 5 * time.Second

// Bus owns the embedded server and the publisher connection.
type Bus struct {
	srv  *natsserver.Server
	conn *nats.Conn
}

// New boots the embedded server and connects the publisher.
func New() (*Bus, error) {
	srv, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "hlxd-bus",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bus server: %w", err)
	}

	srv.Start()
	if !srv.ReadyForConnections(startupTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("bus server not ready within %s", startupTimeout)
	}

	conn, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}

	return &Bus{srv: srv, conn: conn}, nil
}

// wireEvent is the published JSON shape. Meta refs are flattened to names so
// subscribers never need the internal types.
type wireEvent struct {
	ID        string      `json:"id"`
	ServerID  int64       `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`
	Player    string      `json:"player,omitempty"`
	Killer    string      `json:"killer,omitempty"`
	Victim    string      `json:"victim,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Publish sends one event to SubjectEvents. Failures are returned but safe to
// ignore; the bus is a best-effort feed.
func (b *Bus) Publish(ev domain.Event) error {
	w := wireEvent{
		ID:        ev.ID.String(),
		ServerID:  ev.ServerID,
		Timestamp: ev.Timestamp,
		Type:      ev.Type,
		Data:      ev.Data,
	}
	if ev.Meta.Player != nil {
		w.Player = ev.Meta.Player.Name
	}
	if ev.Meta.Killer != nil {
		w.Killer = ev.Meta.Killer.Name
	}
	if ev.Meta.Victim != nil {
		w.Victim = ev.Meta.Victim.Name
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return b.conn.Publish(fmt.Sprintf("%s.%d", SubjectEvents, ev.ServerID), payload)
}

// Subscribe delivers every published event payload to fn, across all
// servers, until the subscription is unsubscribed or the bus closes.
func (b *Bus) Subscribe(fn func(payload []byte)) (*nats.Subscription, error) {
	return b.conn.Subscribe(SubjectEvents+".>", func(msg *nats.Msg) {
		fn(msg.Data)
	})
}

// Close drains the connection and stops the server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
