package dialect

import (
	"context"
	"database/sql"
)

// IsolationLevel mirrors database/sql.IsolationLevel's values by name so
// dialects can translate a driver-neutral isolation request into the SQL
// text their engine expects (spec §6: getSetTransactionIsolationQuery).
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// TopologyRow is one row of the dialect-specific topology query result,
// normalized into the shape the host list provider (C6) builds a
// host.Snapshot from.
type TopologyRow struct {
	Endpoint       string
	InstanceID     string
	Port           int
	IsWriter       bool
	LastUpdateTime string
}

// Database is the Database Dialect interface (spec §6, C5): everything that
// differs between engines beyond how the wire connection itself is opened.
// A Database never opens a connection itself: it produces SQL text, and the
// methods taking a conn run their queries over it through the given Driver.
type Database interface {
	GetDefaultPort() int

	// GetHostAliasQuery returns the SQL used to discover alternate names the
	// server answers to, for host.Host.AddAlias.
	GetHostAliasQuery() string

	GetServerVersionQuery() string

	GetSetReadOnlyQuery(readOnly bool) string
	GetSetAutoCommitQuery(autoCommit bool) string
	GetSetTransactionIsolationQuery(level IsolationLevel) string
	GetSetCatalogQuery(catalog string) string
	GetSetSchemaQuery(schema string) string

	// DoesStatementSetReadOnly/AutoCommit/TransactionIsolation/Catalog/Schema
	// sniff application-issued SQL text for session-state-changing
	// statements the wrapper didn't originate itself (spec §6, rwsplit/
	// sessionstate consult these before trusting their own tracked state).
	DoesStatementSetReadOnly(sql string) (value bool, ok bool)
	DoesStatementSetAutoCommit(sql string) (value bool, ok bool)
	DoesStatementSetTransactionIsolation(sql string) (level IsolationLevel, ok bool)
	DoesStatementSetCatalog(sql string) (catalog string, ok bool)
	DoesStatementSetSchema(sql string) (schema string, ok bool)

	// IsDialect probes conn to confirm this Database implementation actually
	// matches what's on the other end (spec §6: dialects self-identify
	// rather than being chosen purely from configuration).
	IsDialect(ctx context.Context, conn *sql.DB, drv Driver) bool

	// QueryForTopology runs this dialect's topology discovery query and
	// normalizes the result set into TopologyRows.
	QueryForTopology(ctx context.Context, conn *sql.DB, drv Driver) ([]TopologyRow, error)

	GetHostRole(ctx context.Context, conn *sql.DB, drv Driver) (isWriter bool, err error)

	// IdentifyConnection returns the instance identifier the connected host
	// reports of itself, for reconciling against the cached topology.
	IdentifyConnection(ctx context.Context, conn *sql.DB, drv Driver) (instanceID string, err error)

	// GetDialectUpdateCandidates returns, in preference order, the other
	// dialect names this one's detection should fall through to if IsDialect
	// fails (spec §6: e.g. Aurora PostgreSQL before plain PostgreSQL, since
	// an Aurora-specific probe query only succeeds there).
	GetDialectUpdateCandidates() []string

	// GetFailoverRestrictions lists host roles this dialect's failover must
	// never target (empty for most engines).
	GetFailoverRestrictions() []string

	Name() string
}
