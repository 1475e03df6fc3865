// Package connpool implements the Connection Pool component (C10): a keyed
// registry of per-host *sql.DB pools so that read/write splitting (C14) can
// reuse an already-open reader connection instead of paying a fresh TCP/TLS
// handshake on every switch. Adapted from the teacher's internal/cache
// connection-pooling settings (25 max/5 min idle), retargeted from a single
// shared Redis client to one database/sql pool per cluster host.
package connpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/props"
)

// Pool keys open connections by host.Host.Key() alone: at most one pooled
// connection per host, whatever properties later Get calls pass.
type Pool struct {
	mu    sync.Mutex
	drv   dialect.Driver
	conns map[string]*sql.DB
}

func New(drv dialect.Driver) *Pool {
	return &Pool{drv: drv, conns: make(map[string]*sql.DB)}
}

// Get returns the pooled connection for h, opening one if none exists yet.
func (p *Pool) Get(ctx context.Context, h *host.Host, properties *props.Properties) (*sql.DB, error) {
	key := h.Key()

	p.mu.Lock()
	if conn, ok := p.conns[key]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.drv.GetPoolClient(ctx, h, properties)
	if err != nil {
		return nil, fmt.Errorf("connpool: open for %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[key]; ok {
		if conn != existing {
			p.drv.End(conn)
		}
		return existing, nil
	}
	p.conns[key] = conn
	return conn, nil
}

// Evict closes and removes the pooled connection for h, if any (spec §6:
// called when a host is marked NOT_AVAILABLE by EFM so a stale connection
// isn't handed out again).
func (p *Pool) Evict(key string) {
	p.mu.Lock()
	conn, ok := p.conns[key]
	delete(p.conns, key)
	p.mu.Unlock()

	if ok {
		p.drv.End(conn)
	}
}

// CloseAll closes every pooled connection, for process shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*sql.DB)
	p.mu.Unlock()

	for _, conn := range conns {
		p.drv.End(conn)
	}
}

// Len reports the number of distinct hosts currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
