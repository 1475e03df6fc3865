package dialect

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
)

var (
	reSetReadOnly   = regexp.MustCompile(`(?i)^\s*SET\s+(SESSION\s+CHARACTERISTICS\s+AS\s+TRANSACTION\s+)?(SESSION\s+)?READ\s+(ONLY|WRITE)`)
	reSetAutoCommit = regexp.MustCompile(`(?i)^\s*SET\s+AUTOCOMMIT\s+(TO\s+)?(ON|OFF|TRUE|FALSE)`)
	reSetIsolation  = regexp.MustCompile(`(?i)^\s*SET\s+(SESSION\s+CHARACTERISTICS\s+AS\s+)?TRANSACTION\s+ISOLATION\s+LEVEL\s+(READ\s+UNCOMMITTED|READ\s+COMMITTED|REPEATABLE\s+READ|SERIALIZABLE)`)
	reSetSchema     = regexp.MustCompile(`(?i)^\s*SET\s+SEARCH_PATH\s+TO\s+(\S+)`)
)

// PostgresDatabase is the plain PostgreSQL Database Dialect (C5). Statement
// sniffing patterns are adapted from the teacher's internal/validator
// regex-driven classification idiom, retargeted from request payload
// validation to SQL text recognition.
type PostgresDatabase struct{}

func NewPostgresDatabase() *PostgresDatabase { return &PostgresDatabase{} }

var _ Database = (*PostgresDatabase)(nil)

func (d *PostgresDatabase) Name() string       { return "postgresql" }
func (d *PostgresDatabase) GetDefaultPort() int { return 5432 }

func (d *PostgresDatabase) GetHostAliasQuery() string {
	return "SELECT inet_server_addr(), inet_server_port()"
}

func (d *PostgresDatabase) GetServerVersionQuery() string {
	return "SHOW server_version"
}

func (d *PostgresDatabase) GetSetReadOnlyQuery(readOnly bool) string {
	if readOnly {
		return "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	}
	return "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE"
}

func (d *PostgresDatabase) GetSetAutoCommitQuery(autoCommit bool) string {
	if autoCommit {
		return "SET AUTOCOMMIT TO ON"
	}
	return "SET AUTOCOMMIT TO OFF"
}

func (d *PostgresDatabase) GetSetTransactionIsolationQuery(level IsolationLevel) string {
	return "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL " + isolationSQL(level)
}

func isolationSQL(level IsolationLevel) string {
	switch level {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

func (d *PostgresDatabase) GetSetCatalogQuery(catalog string) string {
	// PostgreSQL has no notion of switching catalog mid-session; the schema
	// query is the closest analogue (spec §6 allows a dialect to treat
	// catalog and schema as aliases of one concept).
	return d.GetSetSchemaQuery(catalog)
}

func (d *PostgresDatabase) GetSetSchemaQuery(schema string) string {
	return "SET search_path TO " + schema
}

func (d *PostgresDatabase) DoesStatementSetReadOnly(sqlText string) (bool, bool) {
	m := reSetReadOnly.FindStringSubmatch(sqlText)
	if m == nil {
		return false, false
	}
	return strings.EqualFold(m[len(m)-1], "ONLY"), true
}

func (d *PostgresDatabase) DoesStatementSetAutoCommit(sqlText string) (bool, bool) {
	m := reSetAutoCommit.FindStringSubmatch(sqlText)
	if m == nil {
		return false, false
	}
	v := strings.ToUpper(m[len(m)-1])
	return v == "ON" || v == "TRUE", true
}

func (d *PostgresDatabase) DoesStatementSetTransactionIsolation(sqlText string) (IsolationLevel, bool) {
	m := reSetIsolation.FindStringSubmatch(sqlText)
	if m == nil {
		return IsolationDefault, false
	}
	switch strings.ToUpper(strings.Join(strings.Fields(m[len(m)-1]), " ")) {
	case "READ UNCOMMITTED":
		return IsolationReadUncommitted, true
	case "READ COMMITTED":
		return IsolationReadCommitted, true
	case "REPEATABLE READ":
		return IsolationRepeatableRead, true
	case "SERIALIZABLE":
		return IsolationSerializable, true
	default:
		return IsolationDefault, false
	}
}

func (d *PostgresDatabase) DoesStatementSetCatalog(sqlText string) (string, bool) {
	return "", false
}

func (d *PostgresDatabase) DoesStatementSetSchema(sqlText string) (string, bool) {
	m := reSetSchema.FindStringSubmatch(sqlText)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (d *PostgresDatabase) IsDialect(ctx context.Context, conn *sql.DB, drv Driver) bool {
	rows, err := drv.Query(ctx, conn, "SELECT 1 FROM pg_settings WHERE name = 'server_version' LIMIT 1")
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func (d *PostgresDatabase) QueryForTopology(ctx context.Context, conn *sql.DB, drv Driver) ([]TopologyRow, error) {
	// Plain PostgreSQL has no cluster-topology system view; it always
	// reports itself as a standalone writer of one.
	var version string
	row := conn.QueryRowContext(ctx, d.GetServerVersionQuery())
	if err := row.Scan(&version); err != nil {
		return nil, err
	}
	return []TopologyRow{{IsWriter: true}}, nil
}

func (d *PostgresDatabase) GetHostRole(ctx context.Context, conn *sql.DB, drv Driver) (bool, error) {
	var inRecovery bool
	row := conn.QueryRowContext(ctx, "SELECT pg_is_in_recovery()")
	if err := row.Scan(&inRecovery); err != nil {
		return false, err
	}
	return !inRecovery, nil
}

func (d *PostgresDatabase) IdentifyConnection(ctx context.Context, conn *sql.DB, drv Driver) (string, error) {
	var addr, port string
	row := conn.QueryRowContext(ctx, d.GetHostAliasQuery())
	if err := row.Scan(&addr, &port); err != nil {
		return "", err
	}
	return addr + ":" + port, nil
}

func (d *PostgresDatabase) GetDialectUpdateCandidates() []string {
	return []string{"aurora-postgresql"}
}

func (d *PostgresDatabase) GetFailoverRestrictions() []string { return nil }
