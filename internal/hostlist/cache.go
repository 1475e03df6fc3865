package hostlist

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
)

type entry struct {
	snapshot  *host.Snapshot
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

// Cache is the process-local topology cache (spec §6, C6): one
// host.Snapshot per cluster id, with a TTL after which the next Get triggers
// a Refresh. The cache never persists across a process restart (spec §1
// non-goal).
//
// At most one refresh per cluster id runs at a time. No library in this
// project's dependency set provides Go's singleflight coalescing pattern
// (golang.org/x/sync/singleflight is stdlib-adjacent but not part of the
// examples this module draws its stack from), so the in-flight guard below
// is hand-rolled: one refreshMu guarding a per-cluster-id map of in-flight
// refreshCalls, whose done channel later callers wait on, not a generic
// dependency substitute.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	refreshMu sync.Mutex
	inFlight  map[string]*refreshCall
}

type refreshCall struct {
	done chan struct{}
	snap *host.Snapshot
	err  error
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:      ttl,
		entries:  make(map[string]*entry),
		inFlight: make(map[string]*refreshCall),
	}
}

// Get returns the cached snapshot for clusterID if present and unexpired.
func (c *Cache) Get(clusterID string) (*host.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[clusterID]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.snapshot, true
}

// Put stores snap under clusterID with the cache's configured TTL.
func (c *Cache) Put(clusterID string, snap *host.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[clusterID] = &entry{snapshot: snap, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate forces the next Get to miss for clusterID (spec §6:
// forceRefreshHostList).
func (c *Cache) Invalidate(clusterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, clusterID)
}

// Sweep evicts every expired entry; called periodically by the janitor.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for id, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// GetOrRefresh returns a cached snapshot if unexpired, otherwise runs
// provider.Refresh exactly once even if many goroutines call concurrently
// for the same cluster id, caching and returning the result to all callers.
func (c *Cache) GetOrRefresh(ctx context.Context, p Provider, conn *sql.DB, drv dialect.Driver, db dialect.Database) (*host.Snapshot, error) {
	if snap, ok := c.Get(p.ClusterID()); ok {
		return snap, nil
	}
	return c.ForceRefresh(ctx, p, conn, drv, db)
}

// ForceRefresh bypasses the cache entry regardless of its TTL but still
// coalesces concurrent callers for the same cluster id into one query.
func (c *Cache) ForceRefresh(ctx context.Context, p Provider, conn *sql.DB, drv dialect.Driver, db dialect.Database) (*host.Snapshot, error) {
	clusterID := p.ClusterID()

	c.refreshMu.Lock()
	if call, ok := c.inFlight[clusterID]; ok {
		c.refreshMu.Unlock()
		<-call.done
		return call.snap, call.err
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inFlight[clusterID] = call
	c.refreshMu.Unlock()

	snap, err := p.Refresh(ctx, conn, drv, db)
	call.snap, call.err = snap, err
	close(call.done)

	c.refreshMu.Lock()
	delete(c.inFlight, clusterID)
	c.refreshMu.Unlock()

	if err == nil {
		c.Put(clusterID, snap)
	}
	return snap, err
}
