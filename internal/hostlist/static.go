package hostlist

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
)

// StaticProvider builds a fixed Snapshot from a configured host list and
// never refreshes it, for deployments that don't want topology discovery
// (spec §6: "connection providers MUST work against a statically
// configured host list with no discovery").
type StaticProvider struct {
	clusterID string
	hosts     []*host.Host
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider parses a comma-separated "endpoint:port" list into a
// Provider; the first entry is always the writer.
func NewStaticProvider(clusterID, hostList string, defaultPort int) (*StaticProvider, error) {
	entries := strings.Split(hostList, ",")
	hosts := make([]*host.Host, 0, len(entries))

	for i, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		endpoint, port := raw, defaultPort
		if idx := strings.LastIndex(raw, ":"); idx >= 0 {
			endpoint = raw[:idx]
			if p, err := strconv.Atoi(raw[idx+1:]); err == nil {
				port = p
			}
		}
		role := host.RoleReader
		if i == 0 {
			role = host.RoleWriter
		}
		h := host.New(endpoint, port, "", role)
		hosts = append(hosts, h)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("hostlist: empty static host list")
	}

	snap, err := host.NewSnapshot(hosts)
	if err != nil {
		return nil, err
	}

	return &StaticProvider{clusterID: clusterID, hosts: snap.Hosts}, nil
}

func (p *StaticProvider) Refresh(ctx context.Context, conn *sql.DB, drv dialect.Driver, db dialect.Database) (*host.Snapshot, error) {
	return host.NewSnapshot(p.hosts)
}

func (p *StaticProvider) IsStatic() bool    { return true }
func (p *StaticProvider) ClusterID() string { return p.clusterID }
