package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitution(t *testing.T) {
	msg := Render(Template(KeyKill, nil), map[string]string{
		"killerName": "Alice",
		"killerRank": "3",
		"victimName": "Bob",
		"victimRank": "12",
		"points":     "+16",
	})
	assert.Equal(t, "[Stats]: Alice (#3) got +16 for killing Bob (#12)", msg)
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	msg := Render("{player} did {something}", map[string]string{"player": "Alice"})
	assert.Equal(t, "Alice did {something}", msg)
}

func TestRenderNeverCutsTheMessage(t *testing.T) {
	long := strings.Repeat("x", 300)
	msg := Render("{text}", map[string]string{"text": long})
	assert.Equal(t, long, msg)
}

func TestTemplatePerServerOverride(t *testing.T) {
	overrides := map[string]string{KeyConnect: "welcome {playerName}!"}
	assert.Equal(t, "welcome {playerName}!", Template(KeyConnect, overrides))
	// Other keys and a blank override fall back to the defaults.
	assert.Equal(t, "[Stats]: {playerName} connected", Template(KeyConnect, nil))
	assert.Equal(t, "[Stats]: {playerName} (#{playerRank}) disconnected",
		Template(KeyDisconnect, overrides))
	assert.Equal(t, "[Stats]: {playerName} connected",
		Template(KeyConnect, map[string]string{KeyConnect: ""}))
}

func TestTruncateForLogs(t *testing.T) {
	short := "short message"
	assert.Equal(t, short, Truncate(short))

	long := Truncate(strings.Repeat("x", 300))
	assert.Len(t, long, maxMessageLen)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestPoints(t *testing.T) {
	assert.Equal(t, "+16", Points(16))
	assert.Equal(t, "-5", Points(-5))
	assert.Equal(t, "+0", Points(0))
}

// recordingExecutor collects commands, optionally blocking until released.
type recordingExecutor struct {
	mu       sync.Mutex
	commands []string
	gate     chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, serverID int64, command string) (string, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	return "", nil
}

func (e *recordingExecutor) recorded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func TestNotifierSendsSayCommand(t *testing.T) {
	exec := &recordingExecutor{}
	n := New(exec)
	n.Start(context.Background())
	defer n.Stop()

	n.Announce(7, "hello world")

	require.Eventually(t, func() bool {
		return len(exec.recorded()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "say hello world", exec.recorded()[0])
}

func TestAnnounceNeverBlocks(t *testing.T) {
	// No sender running and the queue full: Announce must still return,
	// dropping the oldest entries.
	n := New(&recordingExecutor{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*3; i++ {
			n.Announce(1, "msg")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Announce blocked on a full queue")
	}
	assert.Len(t, n.queue, defaultQueueSize)
}

func TestAnnounceDropsOldestFirst(t *testing.T) {
	exec := &recordingExecutor{gate: make(chan struct{})}
	n := New(exec)
	n.Start(context.Background())
	defer n.Stop()

	// Overfill while the sender is gated; the first messages go.
	for i := 0; i < defaultQueueSize+10; i++ {
		n.Announce(1, "msg")
	}
	close(exec.gate)

	require.Eventually(t, func() bool {
		return len(n.queue) == 0
	}, 2*time.Second, 10*time.Millisecond)
	// The sender may have pulled a message before the gate closed, so the
	// count is bounded rather than exact.
	assert.LessOrEqual(t, len(exec.recorded()), defaultQueueSize+1)
}

func TestStopIsIdempotent(t *testing.T) {
	n := New(&recordingExecutor{})
	n.Start(context.Background())
	n.Stop()
	n.Stop()
}
