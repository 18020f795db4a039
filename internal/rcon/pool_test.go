package rcon

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

type fakeServerSource struct {
	servers   map[int64]*domain.Server
	passwords map[int64]string
}

func (f *fakeServerSource) GetServer(ctx context.Context, id int64) (*domain.Server, error) {
	srv, ok := f.servers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return srv, nil
}

func (f *fakeServerSource) GetRconPassword(ctx context.Context, id int64) (string, error) {
	return f.passwords[id], nil
}

func (f *fakeServerSource) ActiveServers(ctx context.Context, window time.Duration) ([]domain.Server, error) {
	var out []domain.Server
	for _, srv := range f.servers {
		out = append(out, *srv)
	}
	return out, nil
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestPoolExecuteGoldSrc(t *testing.T) {
	addr := fakeGoldSrcServer(t, "secret", 1000, map[string]string{
		"say hello": "",
		"status":    "map     :  de_aztec at: 0 x, 0 y, 0 z\nplayers :  1 active (16 max)\n",
	})
	host, port := splitHostPort(t, addr)

	source := &fakeServerSource{
		servers:   map[int64]*domain.Server{1: {ID: 1, Address: host, Port: port, Engine: domain.EngineGoldSrc}},
		passwords: map[int64]string{1: "secret"},
	}
	pool := NewPool(source, nil)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Execute(ctx, 1, "say hello")
	require.NoError(t, err)

	status, err := pool.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "de_aztec", status.Map)
	assert.Equal(t, 1, status.PlayerCount)
}

func TestPoolExecuteSource(t *testing.T) {
	addr := fakeSourceServer(t, "hunter2", map[string]string{"echo ping": "ping"})
	host, port := splitHostPort(t, addr)

	source := &fakeServerSource{
		servers:   map[int64]*domain.Server{2: {ID: 2, Address: host, Port: port, Engine: domain.EngineSource}},
		passwords: map[int64]string{2: "hunter2"},
	}
	pool := NewPool(source, nil)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := pool.Execute(ctx, 2, "echo ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
}

func TestPoolUnconfiguredPassword(t *testing.T) {
	source := &fakeServerSource{
		servers:   map[int64]*domain.Server{1: {ID: 1, Address: "127.0.0.1", Port: 27015, Engine: domain.EngineGoldSrc}},
		passwords: map[int64]string{},
	}
	pool := NewPool(source, nil)
	defer pool.Stop()

	_, err := pool.Execute(context.Background(), 1, "status")
	require.Error(t, err)
	assert.Equal(t, KindInvalidCredentials, KindOf(err))
}

func TestPoolUnknownServer(t *testing.T) {
	pool := NewPool(&fakeServerSource{}, nil)
	defer pool.Stop()

	_, err := pool.Execute(context.Background(), 99, "status")
	require.Error(t, err)
	assert.Equal(t, KindConnectionFailed, KindOf(err))
}

func TestPoolAuthFailureNotRetried(t *testing.T) {
	addr := fakeGoldSrcServer(t, "secret", 1000, nil)
	host, port := splitHostPort(t, addr)

	source := &fakeServerSource{
		servers:   map[int64]*domain.Server{1: {ID: 1, Address: host, Port: port, Engine: domain.EngineGoldSrc}},
		passwords: map[int64]string{1: "wrong"},
	}
	pool := NewPool(source, nil)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := pool.Execute(ctx, 1, "status")
	require.Error(t, err)
	assert.Equal(t, KindAuthFailed, KindOf(err))
	// Bad credentials must fail fast, not sit through retry backoff.
	assert.Less(t, time.Since(start), baseRetryDelay)
}

func TestPoolReusesConnection(t *testing.T) {
	addr := fakeGoldSrcServer(t, "secret", 1000, map[string]string{"say a": "", "say b": ""})
	host, port := splitHostPort(t, addr)

	source := &fakeServerSource{
		servers:   map[int64]*domain.Server{1: {ID: 1, Address: host, Port: port, Engine: domain.EngineGoldSrc}},
		passwords: map[int64]string{1: "secret"},
	}
	pool := NewPool(source, nil)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.Execute(ctx, 1, "say a")
	require.NoError(t, err)
	_, err = pool.Execute(ctx, 1, "say b")
	require.NoError(t, err)

	pool.mu.Lock()
	assert.Len(t, pool.conns, 1)
	pool.mu.Unlock()
}
