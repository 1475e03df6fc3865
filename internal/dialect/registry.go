package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Registry resolves a Database dialect by name and performs the
// self-identification fallthrough spec §6 describes: try the configured (or
// last-known) dialect's IsDialect probe, then walk GetDialectUpdateCandidates
// until one matches.
type Registry struct {
	mu        sync.RWMutex
	databases map[string]Database
}

func NewRegistry() *Registry {
	r := &Registry{databases: make(map[string]Database)}
	r.Register(NewPostgresDatabase())
	r.Register(NewAuroraPostgresDatabase())
	return r
}

func (r *Registry) Register(db Database) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databases[db.Name()] = db
}

func (r *Registry) Lookup(name string) (Database, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.databases[name]
	return db, ok
}

// Identify resolves the Database dialect that actually matches conn,
// starting from hint (the last-known or configured dialect name) and
// falling through hint's candidates on mismatch.
func (r *Registry) Identify(ctx context.Context, conn *sql.DB, drv Driver, hint string) (Database, error) {
	r.mu.RLock()
	start, ok := r.databases[hint]
	r.mu.RUnlock()
	if !ok {
		start, ok = r.databases["aurora-postgresql"]
		if !ok {
			return nil, fmt.Errorf("dialect: no registered database dialects")
		}
	}

	visited := map[string]bool{}
	queue := []Database{start}
	for len(queue) > 0 {
		candidate := queue[0]
		queue = queue[1:]
		if visited[candidate.Name()] {
			continue
		}
		visited[candidate.Name()] = true

		if candidate.IsDialect(ctx, conn, drv) {
			return candidate, nil
		}
		for _, name := range candidate.GetDialectUpdateCandidates() {
			r.mu.RLock()
			next, ok := r.databases[name]
			r.mu.RUnlock()
			if ok && !visited[next.Name()] {
				queue = append(queue, next)
			}
		}
	}
	return nil, fmt.Errorf("dialect: could not identify database dialect for connection (started from %q)", hint)
}
