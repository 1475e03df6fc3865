// Package dialect implements the Driver Dialect (C4) and Database Dialect
// (C5) external interfaces from spec §6, plus one concrete pair of
// implementations (plain PostgreSQL and Aurora PostgreSQL) exercising every
// operation the interfaces declare. The underlying wire protocol clients
// themselves are out of scope (spec §1): Driver adapts database/sql plus
// github.com/lib/pq (grounded on the teacher's internal/db/database.go),
// Database never touches the wire directly, only SQL text and the rows a
// Driver.Query returns.
package dialect

import (
	"context"
	"database/sql"
	"time"

	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/props"
)

// PoolConfig carries the subset of database/sql pool knobs C9/C10 want to
// apply uniformly regardless of engine (spec §6: preparePoolProperties).
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Driver is the Driver Dialect interface (spec §6, C4): a thin adapter to a
// concrete wire driver. One Driver instance is stateless and shared; all
// per-connection state lives in the *sql.DB/*sql.Conn it returns.
type Driver interface {
	// Connect opens a new connection to h using p, registering the
	// database/sql driver this dialect wraps if needed.
	Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error)

	Query(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (*sql.Rows, error)
	Exec(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (sql.Result, error)

	Ping(ctx context.Context, conn *sql.DB) error
	End(conn *sql.DB) error
	IsClientValid(ctx context.Context, conn *sql.DB) bool

	// PreparePoolProperties returns p (or a copy) adjusted so the
	// database/sql pool this dialect configures respects cfg.
	PreparePoolProperties(p *props.Properties, cfg PoolConfig) *props.Properties

	// GetPoolClient returns (creating if needed) the pooled *sql.DB for the
	// connection string p describes (C10's keyed internal pool consults
	// this per host).
	GetPoolClient(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error)

	// SetKeepAlive configures TCP keepalive on the dialect's connections.
	// Engines that don't support it (e.g. MySQL's wire protocol exposes no
	// portable keepalive knob through database/sql) MUST return an error
	// rather than silently ignore the request (spec §6).
	SetKeepAlive(conn *sql.DB, enabled bool, interval time.Duration) error
}

// DSN builds a driver-specific data source name for h/p. Kept on the
// interface rather than folded into Connect so GetPoolClient and Connect can
// share one derivation without opening two connections to compute it.
type DSNBuilder interface {
	DSN(h *host.Host, p *props.Properties) string
}
