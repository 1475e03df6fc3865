// Package hostlist implements the Host List Provider (C6): discovering the
// cluster's current topology and caching it so repeated lookups don't hit
// the database on every call. Two providers exist: a StaticProvider for
// configurations that list hosts explicitly, and a TopologyProvider that
// queries a connected dialect for its live view of the cluster.
package hostlist

import (
	"context"
	"database/sql"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
)

// Provider is the Host List Provider interface (spec §6, C6).
type Provider interface {
	// Refresh produces a fresh host.Snapshot. conn/drv/db are an
	// already-open connection to any cluster member, used only for
	// providers that need to query the database (TopologyProvider); a
	// StaticProvider ignores them.
	Refresh(ctx context.Context, conn *sql.DB, drv dialect.Driver, db dialect.Database) (*host.Snapshot, error)

	// IsStatic reports whether this provider's output never changes absent
	// a configuration reload, letting callers skip scheduling refreshes.
	IsStatic() bool

	// ClusterID identifies the cache bucket this provider's snapshots
	// belong in (spec §6: topology cache is keyed per cluster).
	ClusterID() string
}
