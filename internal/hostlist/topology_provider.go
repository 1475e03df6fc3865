package hostlist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
)

// lastUpdateLayouts are the timestamp shapes a dialect's topology query may
// hand back in TopologyRow.LastUpdateTime (Postgres/Aurora's "timestamp with
// time zone" scanned into a string takes one of these forms depending on
// driver and locale settings).
var lastUpdateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05-07",
}

// parseLastUpdate parses a TopologyRow's LastUpdateTime against the known
// layouts, returning the zero time if none match. Rows with an unparsable
// timestamp sort last (oldest) in the writer-election comparison below
// rather than panicking or aborting the refresh.
func parseLastUpdate(raw string) time.Time {
	for _, layout := range lastUpdateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// TopologyProvider discovers the live cluster topology through a dialect's
// QueryForTopology, substituting each discovered instance id into a host
// pattern (spec §6: clusterInstanceHostPattern, e.g. "?.cluster-abc123.us-
// east-1.rds.amazonaws.com") to build connectable endpoints.
type TopologyProvider struct {
	clusterID   string
	hostPattern string
	defaultPort int
}

var _ Provider = (*TopologyProvider)(nil)

func NewTopologyProvider(clusterID, hostPattern string, defaultPort int) *TopologyProvider {
	return &TopologyProvider{clusterID: clusterID, hostPattern: hostPattern, defaultPort: defaultPort}
}

func (p *TopologyProvider) IsStatic() bool    { return false }
func (p *TopologyProvider) ClusterID() string { return p.clusterID }

func (p *TopologyProvider) Refresh(ctx context.Context, conn *sql.DB, drv dialect.Driver, db dialect.Database) (*host.Snapshot, error) {
	if conn == nil || drv == nil || db == nil {
		return nil, fmt.Errorf("hostlist: topology refresh requires an open connection and resolved dialect")
	}

	rows, err := db.QueryForTopology(ctx, conn, drv)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("hostlist: topology query for cluster %q returned no rows", p.clusterID)
	}

	hosts := make([]*host.Host, 0, len(rows))
	lastUpdates := make([]time.Time, 0, len(rows))
	writerIdx := -1
	for _, row := range rows {
		endpoint := p.expandPattern(row.InstanceID)
		port := row.Port
		if port == 0 {
			port = p.defaultPort
		}
		role := host.RoleReader
		if row.IsWriter {
			role = host.RoleWriter
		}
		h := host.New(endpoint, port, row.InstanceID, role)
		lastUpdate := parseLastUpdate(row.LastUpdateTime)
		if row.IsWriter && (writerIdx < 0 || lastUpdate.After(lastUpdates[writerIdx])) {
			writerIdx = len(hosts)
		}
		hosts = append(hosts, h)
		lastUpdates = append(lastUpdates, lastUpdate)
	}

	downgradeStaleWriters(hosts, writerIdx)

	return host.NewSnapshot(hosts)
}

// downgradeStaleWriters implements spec §4.3's writer election: "if more
// than one row is marked writer, the one with the most recent
// lastUpdateTime wins; older writers are downgraded to readers in the
// published snapshot." keepIdx is the index of the winning writer (-1 if no
// row claimed the role at all).
func downgradeStaleWriters(hosts []*host.Host, keepIdx int) {
	for i, h := range hosts {
		if h.Role == host.RoleWriter && i != keepIdx {
			h.Role = host.RoleReader
		}
	}
}

// expandPattern substitutes "?" in hostPattern with instanceID, matching the
// single wildcard convention spec §6 documents for clusterInstanceHostPattern.
func (p *TopologyProvider) expandPattern(instanceID string) string {
	if p.hostPattern == "" {
		return instanceID
	}
	return strings.Replace(p.hostPattern, "?", instanceID, 1)
}
