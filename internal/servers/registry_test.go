package servers

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addServer(t *testing.T, store *storage.Store, address string, port int) *domain.Server {
	t.Helper()
	srv := &domain.Server{
		Address:     address,
		Port:        port,
		Game:        "cstrike",
		Engine:      domain.EngineGoldSrc,
		ConnectMode: domain.ConnectDirect,
	}
	require.NoError(t, store.CreateServer(context.Background(), srv))
	return srv
}

func TestResolveAddressKnownServer(t *testing.T) {
	store := newTestStore(t)
	srv := addServer(t, store, "192.0.2.10", 27015)
	r := NewRegistry(store, false, "cstrike")
	ctx := context.Background()

	id, err := r.ResolveAddress(ctx, "192.0.2.10", 27015)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, id)

	// Second resolution comes from the cache.
	id, err = r.ResolveAddress(ctx, "192.0.2.10", 27015)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, id)
	assert.Len(t, r.byAddr, 1)
}

func TestResolveAddressUnknownServerDropped(t *testing.T) {
	r := NewRegistry(newTestStore(t), false, "cstrike")

	_, err := r.ResolveAddress(context.Background(), "192.0.2.99", 27015)
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestResolveAddressAutoRegister(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry(store, true, "tfc")
	ctx := context.Background()

	id, err := r.ResolveAddress(ctx, "192.0.2.50", 27015)
	require.NoError(t, err)
	require.NotZero(t, id)

	srv, err := store.GetServer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "tfc", srv.Game)
	assert.Equal(t, "192.0.2.50:27015", srv.Name)
	assert.Equal(t, domain.EngineGoldSrc, srv.Engine)
}

func TestResolveAddressConcurrentFirstPackets(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry(store, true, "cstrike")
	ctx := context.Background()

	const callers = 16
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.ResolveAddress(ctx, "192.0.2.60", 27015)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveToken(t *testing.T) {
	store := newTestStore(t)
	srv := addServer(t, store, "192.0.2.10", 27015)
	ctx := context.Background()

	token, hash, prefix, err := auth.NewBeaconToken()
	require.NoError(t, err)
	require.NoError(t, store.UpdateServerToken(ctx, srv.ID, hash, prefix))

	r := NewRegistry(store, false, "cstrike")
	id, err := r.ResolveToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, id)

	// Cached on the second hit.
	id, err = r.ResolveToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, id)
	assert.Len(t, r.byToken, 1)
}

func TestResolveTokenMalformed(t *testing.T) {
	r := NewRegistry(newTestStore(t), false, "cstrike")

	_, err := r.ResolveToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestResolveTokenUnknown(t *testing.T) {
	r := NewRegistry(newTestStore(t), false, "cstrike")

	token, _, _, err := auth.NewBeaconToken()
	require.NoError(t, err)

	_, err = r.ResolveToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestInvalidateForcesReresolve(t *testing.T) {
	store := newTestStore(t)
	srv := addServer(t, store, "192.0.2.10", 27015)
	r := NewRegistry(store, false, "cstrike")
	ctx := context.Background()

	_, err := r.ResolveAddress(ctx, "192.0.2.10", 27015)
	require.NoError(t, err)
	require.Len(t, r.byAddr, 1)

	r.Invalidate(srv.ID)
	assert.Empty(t, r.byAddr)

	id, err := r.ResolveAddress(ctx, "192.0.2.10", 27015)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, id)
}
