package dialect

import (
	"context"
	"database/sql"

	"github.com/Masterminds/semver/v3"
)

// auroraTopologyQuery is Aurora's replica-status system view, unavailable on
// plain PostgreSQL — its success or failure is itself the IsDialect probe.
const auroraTopologyQuery = `
SELECT server_id, session_id, last_update_timestamp,
       CASE WHEN session_id = 'MASTER_SESSION_ID' THEN true ELSE false END AS is_writer
FROM aurora_replica_status()
`

// auroraIdentityQuery returns this instance's own server_id.
const auroraIdentityQuery = `SELECT aurora_db_instance_identifier()`

// AuroraPostgresDatabase is the Aurora PostgreSQL Database Dialect (C5),
// layered on PostgresDatabase for every statement it doesn't override.
// GetDialectUpdateCandidates is version-gated with Masterminds/semver: the
// aurora_replica_status() view changed shape across engine versions, and the
// fallback candidate list needs the server's reported version to pick the
// right compatible probe (spec §6: "dialects self-identify").
type AuroraPostgresDatabase struct {
	PostgresDatabase
	minTopologyViewVersion *semver.Version
}

func NewAuroraPostgresDatabase() *AuroraPostgresDatabase {
	return &AuroraPostgresDatabase{
		minTopologyViewVersion: semver.MustParse("10.0.0"),
	}
}

var _ Database = (*AuroraPostgresDatabase)(nil)

func (d *AuroraPostgresDatabase) Name() string { return "aurora-postgresql" }

func (d *AuroraPostgresDatabase) IsDialect(ctx context.Context, conn *sql.DB, drv Driver) bool {
	rows, err := drv.Query(ctx, conn, "SELECT 1 FROM pg_proc WHERE proname = 'aurora_replica_status' LIMIT 1")
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func (d *AuroraPostgresDatabase) QueryForTopology(ctx context.Context, conn *sql.DB, drv Driver) ([]TopologyRow, error) {
	rows, err := drv.Query(ctx, conn, auroraTopologyQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopologyRow
	for rows.Next() {
		var r TopologyRow
		var sessionID string
		if err := rows.Scan(&r.InstanceID, &sessionID, &r.LastUpdateTime, &r.IsWriter); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *AuroraPostgresDatabase) GetHostRole(ctx context.Context, conn *sql.DB, drv Driver) (bool, error) {
	rows, err := drv.Query(ctx, conn, auroraTopologyQuery)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, session, updated string
		var isWriter bool
		if err := rows.Scan(&id, &session, &updated, &isWriter); err != nil {
			return false, err
		}
		return isWriter, nil
	}
	return false, rows.Err()
}

func (d *AuroraPostgresDatabase) IdentifyConnection(ctx context.Context, conn *sql.DB, drv Driver) (string, error) {
	var id string
	row := conn.QueryRowContext(ctx, auroraIdentityQuery)
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// candidatesForVersion picks the fallback dialect list appropriate to the
// server's reported engine version. Below minTopologyViewVersion,
// aurora_replica_status() doesn't exist yet, so detection should never have
// landed here and there is no further fallback to offer.
func (d *AuroraPostgresDatabase) candidatesForVersion(reportedVersion string) []string {
	v, err := semver.NewVersion(reportedVersion)
	if err != nil || v.LessThan(d.minTopologyViewVersion) {
		return nil
	}
	return []string{"postgresql"}
}

func (d *AuroraPostgresDatabase) GetDialectUpdateCandidates() []string {
	return d.candidatesForVersion(auroraEngineVersion)
}

// auroraEngineVersion is a placeholder until the dialect registry (C4/C5
// wiring in pluginservice) threads the server's actual reported version
// through; Aurora PostgreSQL has shipped aurora_replica_status() since 10.0,
// so defaulting to the floor keeps the candidate list non-empty.
const auroraEngineVersion = "10.0.0"

func (d *AuroraPostgresDatabase) GetFailoverRestrictions() []string {
	// Names the replica state ("promoting") Aurora does not fail over onto.
	// The failover plugin (C12) does not call this; its candidate selection
	// applies no restriction list.
	return []string{"promoting"}
}
