// Package servers resolves inbound log traffic to registered server records.
package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
)

// ErrUnknownServer means the sender could not be matched to any registered
// server. Its traffic is dropped.
var ErrUnknownServer = errors.New("unknown server")

// Registry answers "which server sent this packet", caching lookups so the
// hot path stays off the database. Token identification wins over the
// address pair when both are possible.
type Registry struct {
	store *storage.Store

	// autoRegister creates a server record for unknown address pairs instead
	// of dropping their traffic.
	autoRegister bool
	defaultGame  string

	mu      sync.Mutex
	byAddr  map[string]int64
	byToken map[string]int64
	pending map[string]*pendingLookup
}

// pendingLookup shares one in-flight resolution between concurrent callers.
type pendingLookup struct {
	ready chan struct{}
	id    int64
	err   error
}

func NewRegistry(store *storage.Store, autoRegister bool, defaultGame string) *Registry {
	if defaultGame == "" {
		defaultGame = "cstrike"
	}
	return &Registry{
		store:        store,
		autoRegister: autoRegister,
		defaultGame:  defaultGame,
		byAddr:       make(map[string]int64),
		byToken:      make(map[string]int64),
		pending:      make(map[string]*pendingLookup),
	}
}

// ResolveToken identifies a sender by its beacon token. The token's shape is
// checked before hashing so garbage never reaches storage.
func (r *Registry) ResolveToken(ctx context.Context, token string) (int64, error) {
	if !auth.ValidBeaconToken(token) {
		return 0, fmt.Errorf("%w: malformed token", ErrUnknownServer)
	}
	hash := auth.HashBeaconToken(token)

	r.mu.Lock()
	if id, ok := r.byToken[hash]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	srv, err := r.store.GetServerByTokenHash(ctx, hash)
	if err == sql.ErrNoRows {
		return 0, ErrUnknownServer
	}
	if err != nil {
		return 0, fmt.Errorf("looking up token: %w", err)
	}

	r.mu.Lock()
	r.byToken[hash] = srv.ID
	r.mu.Unlock()
	return srv.ID, nil
}

// ResolveAddress identifies a sender by its (address, port) pair, creating a
// record when auto-registration is on. Concurrent first packets from the same
// server share a single creation attempt.
func (r *Registry) ResolveAddress(ctx context.Context, address string, port int) (int64, error) {
	key := fmt.Sprintf("%s:%d", address, port)

	r.mu.Lock()
	if id, ok := r.byAddr[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	if pend, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-pend.ready:
			return pend.id, pend.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	pend := &pendingLookup{ready: make(chan struct{})}
	r.pending[key] = pend
	r.mu.Unlock()

	id, err := r.lookupOrCreate(ctx, address, port)

	r.mu.Lock()
	delete(r.pending, key)
	if err == nil {
		r.byAddr[key] = id
	}
	r.mu.Unlock()

	pend.id = id
	pend.err = err
	close(pend.ready)
	return id, err
}

func (r *Registry) lookupOrCreate(ctx context.Context, address string, port int) (int64, error) {
	srv, err := r.store.GetServerByAddress(ctx, address, port)
	if err == nil {
		return srv.ID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up server: %w", err)
	}
	if !r.autoRegister {
		return 0, ErrUnknownServer
	}

	created := &domain.Server{
		Address:     address,
		Port:        port,
		Game:        r.defaultGame,
		Engine:      domain.EngineGoldSrc,
		ConnectMode: domain.ConnectDirect,
		Name:        fmt.Sprintf("%s:%d", address, port),
	}
	if err := r.store.CreateServer(ctx, created); err != nil {
		// Lost a race with another instance; the unique constraint guarantees
		// a row now exists, so re-read it.
		if isUniqueViolation(err) {
			existing, rerr := r.store.GetServerByAddress(ctx, address, port)
			if rerr != nil {
				return 0, fmt.Errorf("re-reading server after conflict: %w", rerr)
			}
			return existing.ID, nil
		}
		return 0, fmt.Errorf("registering server: %w", err)
	}
	return created.ID, nil
}

// Touch bumps the server's last-event timestamp; errors are the caller's to
// log, not fatal.
func (r *Registry) Touch(ctx context.Context, serverID int64, at time.Time) error {
	return r.store.TouchServer(ctx, serverID, at)
}

// Invalidate drops cached entries for a server, forcing the next packet to
// re-resolve. Called when a server is deleted or its token rotated.
func (r *Registry) Invalidate(serverID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, id := range r.byAddr {
		if id == serverID {
			delete(r.byAddr, k)
		}
	}
	for k, id := range r.byToken {
		if id == serverID {
			delete(r.byToken, k)
		}
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
