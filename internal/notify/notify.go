// Package notify pushes in-game announcements back to servers over RCON.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/metrics"
)

// maxMessageLen caps announcement text in log output. The wire send always
// carries the whole message; the game clips on its side.
const maxMessageLen = 100

// defaultQueueSize bounds the send queue. Oldest messages are dropped first
// because stale announcements are worthless.
const defaultQueueSize = 256

// Template keys. Each doubles as the per-server config key that overrides
// the built-in default.
const (
	KeyKill       = "TemplateKill"
	KeySuicide    = "TemplateSuicide"
	KeyTeamkill   = "TemplateTeamkill"
	KeyAction     = "TemplateAction"
	KeyTeamAction = "TemplateTeamAction"
	KeyConnect    = "TemplateConnect"
	KeyDisconnect = "TemplateDisconnect"
)

// Built-in announcement templates. Placeholders use {name} syntax; {points}
// carries an explicit sign.
var defaults = map[string]string{
	KeyKill:       "[Stats]: {killerName} (#{killerRank}) got {points} for killing {victimName} (#{victimRank})",
	KeySuicide:    "[Stats]: {playerName} (#{playerRank}) lost {points} for suicide",
	KeyTeamkill:   "[Stats]: {killerName} lost {points} for team killing {victimName}",
	KeyAction:     "[Stats]: {playerName} got {points} for {action}",
	KeyTeamAction: "[Stats]: Team {team} got {points} for {action}",
	KeyConnect:    "[Stats]: {playerName} connected",
	KeyDisconnect: "[Stats]: {playerName} (#{playerRank}) disconnected",
}

// Template returns the server's override for key when one is configured,
// otherwise the built-in default.
func Template(key string, overrides map[string]string) string {
	if t, ok := overrides[key]; ok && t != "" {
		return t
	}
	return defaults[key]
}

// Render substitutes {key} placeholders from vals.
func Render(template string, vals map[string]string) string {
	msg := template
	for key, val := range vals {
		msg = strings.ReplaceAll(msg, "{"+key+"}", val)
	}
	return msg
}

// Truncate shortens a message for log output with a trailing ellipsis.
func Truncate(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	return msg[:maxMessageLen-3] + "..."
}

// Points formats a delta with an explicit sign, the way players expect to
// read it.
func Points(delta int64) string {
	return fmt.Sprintf("%+d", delta)
}

// Executor is the RCON surface the notifier sends through.
type Executor interface {
	Execute(ctx context.Context, serverID int64, command string) (string, error)
}

type message struct {
	serverID int64
	text     string
}

// Notifier owns a bounded send queue and one sender goroutine. Enqueue never
// blocks the pipeline: when the queue is full the oldest entry is dropped.
type Notifier struct {
	exec  Executor
	queue chan message

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New(exec Executor) *Notifier {
	return &Notifier{
		exec:  exec,
		queue: make(chan message, defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the sender goroutine.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.sendLoop(ctx)
}

// Stop ends the sender. Queued messages are discarded.
func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.done) })
	n.wg.Wait()
}

// Announce queues one broadcast for a server.
func (n *Notifier) Announce(serverID int64, text string) {
	msg := message{serverID: serverID, text: text}
	for {
		select {
		case n.queue <- msg:
			return
		default:
		}
		// Full: drop the oldest and retry.
		select {
		case <-n.queue:
			metrics.RconQueueDrops.Inc()
		default:
		}
	}
}

func (n *Notifier) sendLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if _, err := n.exec.Execute(ctx, msg.serverID, "say "+msg.text); err != nil {
				metrics.RconCommands.WithLabelValues("error").Inc()
				log.Printf("notify: announce %q to server %d failed: %v", Truncate(msg.text), msg.serverID, err)
				continue
			}
			metrics.RconCommands.WithLabelValues("ok").Inc()
		}
	}
}
