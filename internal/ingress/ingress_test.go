package ingress

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/servers"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
)

func TestSplitPacketGoldSrc(t *testing.T) {
	token, line, ok := splitPacket([]byte("\xff\xff\xff\xfflog L 01/15/2024 - 22:30:45: World triggered \"Round_Start\"\n\x00"))
	require.True(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, `L 01/15/2024 - 22:30:45: World triggered "Round_Start"`, line)
}

func TestSplitPacketSource(t *testing.T) {
	token, line, ok := splitPacket([]byte("\xff\xff\xff\xffRL L 01/15/2024 - 22:30:45: \"A<2><STEAM_0:1:1><CT>\" say \"hi\"\n"))
	require.True(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, `L 01/15/2024 - 22:30:45: "A<2><STEAM_0:1:1><CT>" say "hi"`, line)
}

func TestSplitPacketWithSecret(t *testing.T) {
	token, line, ok := splitPacket([]byte("\xff\xff\xff\xffShlxn_abc123L 01/15/2024 - 22:30:45: stuff\n"))
	require.True(t, ok)
	assert.Equal(t, "hlxn_abc123", token)
	assert.Equal(t, "L 01/15/2024 - 22:30:45: stuff", line)
}

func TestSplitPacketMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"no header",
		"\xff\xff\xff\xff",
		"\xff\xff\xff\xffX unknown frame",
		"\xff\xff\xff\xffSsecret-without-line",
	} {
		_, _, ok := splitPacket([]byte(raw))
		assert.False(t, ok, "packet %q must be rejected", raw)
	}
}

// recordingSink collects submitted lines.
type recordingSink struct {
	mu    sync.Mutex
	lines []string
	ids   []int64
}

func (s *recordingSink) Submit(serverID int64, line string, received time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, serverID)
	s.lines = append(s.lines, line)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func newListenerHarness(t *testing.T) (*Listener, *recordingSink, *storage.Store, net.Addr) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &recordingSink{}
	registry := servers.NewRegistry(store, false, "cstrike")
	l := New("127.0.0.1:0", registry, sink, nil)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l, sink, store, l.conn.LocalAddr()
}

func sendPacket(t *testing.T, to net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestListenerIdentifiesByToken(t *testing.T) {
	_, sink, store, addr := newListenerHarness(t)
	ctx := context.Background()

	srv := &domain.Server{
		Address: "192.0.2.10", Port: 27015,
		Game: "cstrike", Engine: domain.EngineGoldSrc, ConnectMode: domain.ConnectDirect,
	}
	require.NoError(t, store.CreateServer(ctx, srv))

	token, hash, prefix, err := auth.NewBeaconToken()
	require.NoError(t, err)
	require.NoError(t, store.UpdateServerToken(ctx, srv.ID, hash, prefix))

	// The sender's address is unregistered; only the token identifies it.
	sendPacket(t, addr, "\xff\xff\xff\xffS"+token+"L 01/15/2024 - 22:30:45: World triggered \"Round_Start\"\n")

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, srv.ID, sink.ids[0])
	assert.Equal(t, `L 01/15/2024 - 22:30:45: World triggered "Round_Start"`, sink.lines[0])
}

func TestListenerDropsUnknownSender(t *testing.T) {
	_, sink, _, addr := newListenerHarness(t)

	sendPacket(t, addr, "\xff\xff\xff\xfflog L 01/15/2024 - 22:30:45: something\n")
	sendPacket(t, addr, "garbage without header")

	// Neither packet maps to a registered server.
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, sink.count())
}
