package rcon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
)

const (
	maxConnectRetries = 3
	baseRetryDelay    = time.Second
	maxRetryDelay     = 5 * time.Second

	// DefaultStatusInterval is how often active servers get a status scrape.
	DefaultStatusInterval = 30 * time.Second

	// DefaultActiveWindow bounds which servers count as active for scraping.
	DefaultActiveWindow = 60 * time.Minute
)

// ServerSource resolves server records and their decrypted RCON passwords.
// The daemon wires this to storage plus the credential cipher.
type ServerSource interface {
	// GetServer returns the server row for id.
	GetServer(ctx context.Context, id int64) (*domain.Server, error)

	// GetRconPassword returns the plaintext password for id. An empty string
	// with nil error means RCON is not configured for the server.
	GetRconPassword(ctx context.Context, id int64) (string, error)

	// ActiveServers lists servers whose last event is within the window.
	ActiveServers(ctx context.Context, window time.Duration) ([]domain.Server, error)
}

// StatusFunc receives the parsed result of each status scrape.
type StatusFunc func(server domain.Server, status domain.ServerStatusData)

// Pool owns at most one connection per server and creates them on demand.
// Concurrent callers asking for the same server share one dial attempt.
type Pool struct {
	source ServerSource

	mu      sync.Mutex
	conns   map[int64]Conn
	pending map[int64]*pendingConn

	statusInterval time.Duration
	activeWindow   time.Duration
	onStatus       StatusFunc

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// pendingConn is a shared in-flight creation attempt.
type pendingConn struct {
	ready chan struct{}
	conn  Conn
	err   error
}

// NewPool creates a pool over source. onStatus may be nil to disable the
// scrape loop entirely.
func NewPool(source ServerSource, onStatus StatusFunc) *Pool {
	return &Pool{
		source:         source,
		conns:          make(map[int64]Conn),
		pending:        make(map[int64]*pendingConn),
		statusInterval: DefaultStatusInterval,
		activeWindow:   DefaultActiveWindow,
		onStatus:       onStatus,
		done:           make(chan struct{}),
	}
}

// SetStatusInterval overrides the scrape cadence. Call before Start.
func (p *Pool) SetStatusInterval(d time.Duration) {
	if d > 0 {
		p.statusInterval = d
	}
}

// SetActiveWindow overrides the activity window. Call before Start.
func (p *Pool) SetActiveWindow(d time.Duration) {
	if d > 0 {
		p.activeWindow = d
	}
}

// Start launches the status scrape loop.
func (p *Pool) Start(ctx context.Context) {
	if p.onStatus == nil {
		return
	}
	p.wg.Add(1)
	go p.statusLoop(ctx)
}

// Stop ends the scrape loop and disconnects everything.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	p.DisconnectAll()
}

// Execute runs a command against the given server, creating or reusing its
// connection.
func (p *Pool) Execute(ctx context.Context, serverID int64, command string) (string, error) {
	conn, err := p.get(ctx, serverID)
	if err != nil {
		return "", err
	}

	body, err := conn.Execute(ctx, command)
	if err != nil {
		// A dead connection is evicted so the next call redials.
		if !conn.IsConnected() {
			p.evict(serverID, conn)
		}
		return "", err
	}
	return body, nil
}

// GetStatus scrapes and parses `status` for one server.
func (p *Pool) GetStatus(ctx context.Context, serverID int64) (domain.ServerStatusData, error) {
	raw, err := p.Execute(ctx, serverID, "status")
	if err != nil {
		return domain.ServerStatusData{}, err
	}
	return ParseStatus(raw), nil
}

// get returns the server's connection, dialing if needed. Only one goroutine
// dials per server; the rest wait on the shared attempt.
func (p *Pool) get(ctx context.Context, serverID int64) (Conn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[serverID]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	if pend, ok := p.pending[serverID]; ok {
		p.mu.Unlock()
		select {
		case <-pend.ready:
			return pend.conn, pend.err
		case <-ctx.Done():
			return nil, wrapError(KindTimeout, "waiting for shared connect", ctx.Err())
		}
	}

	pend := &pendingConn{ready: make(chan struct{})}
	p.pending[serverID] = pend
	p.mu.Unlock()

	conn, err := p.dial(ctx, serverID)

	p.mu.Lock()
	delete(p.pending, serverID)
	if err == nil {
		p.conns[serverID] = conn
	}
	p.mu.Unlock()

	pend.conn = conn
	pend.err = err
	close(pend.ready)
	return conn, err
}

// dial creates and authenticates a connection with retry backoff.
func (p *Pool) dial(ctx context.Context, serverID int64) (Conn, error) {
	server, err := p.source.GetServer(ctx, serverID)
	if err != nil {
		return nil, wrapError(KindConnectionFailed, fmt.Sprintf("resolving server %d", serverID), err)
	}
	password, err := p.source.GetRconPassword(ctx, serverID)
	if err != nil {
		return nil, wrapError(KindInvalidCredentials, fmt.Sprintf("decrypting password for server %d", serverID), err)
	}
	if password == "" {
		return nil, newError(KindInvalidCredentials, "rcon not configured for server %d", serverID)
	}

	addr := fmt.Sprintf("%s:%d", server.Address, server.Port)
	var lastErr error
	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		conn := newConnFor(server.Engine, addr, password)
		err := conn.Connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		// Bad credentials will not fix themselves on retry.
		if KindOf(err) == KindAuthFailed {
			return nil, err
		}

		if attempt < maxConnectRetries {
			delay := baseRetryDelay << (attempt - 1)
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, wrapError(KindTimeout, "connect retries interrupted", ctx.Err())
			}
		}
	}
	return nil, lastErr
}

// connector is what both engine connections share beyond Conn.
type connector interface {
	Conn
	Connect(ctx context.Context) error
}

func newConnFor(engine domain.Engine, addr, password string) connector {
	if engine == domain.EngineGoldSrc {
		return NewGoldSrc(addr, password)
	}
	return NewSource(addr, password)
}

func (p *Pool) evict(serverID int64, conn Conn) {
	p.mu.Lock()
	if p.conns[serverID] == conn {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	conn.Disconnect()
}

// DisconnectServer drops one server's connection, if any.
func (p *Pool) DisconnectServer(serverID int64) {
	p.mu.Lock()
	conn, ok := p.conns[serverID]
	if ok {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	if ok {
		conn.Disconnect()
	}
}

// DisconnectAll drops every pooled connection.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[int64]Conn)
	p.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}
}

// statusLoop scrapes every active server on a fixed cadence.
func (p *Pool) statusLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scrapeActive(ctx)
		}
	}
}

func (p *Pool) scrapeActive(ctx context.Context) {
	servers, err := p.source.ActiveServers(ctx, p.activeWindow)
	if err != nil {
		log.Printf("rcon pool: listing active servers: %v", err)
		return
	}

	for _, server := range servers {
		status, err := p.GetStatus(ctx, server.ID)
		if err != nil {
			log.Printf("rcon pool: status scrape for %s:%d failed: %v", server.Address, server.Port, err)
			continue
		}
		p.onStatus(server, status)
	}
}
