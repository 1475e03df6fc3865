package config

import (
	"time"

	"github.com/clusterwrap/driver/internal/props"
)

// FailoverFrom builds a FailoverConfig from Properties, defaulting every
// unset key the way spec §6 implies ("recognised, non-exhaustive, with
// effect" — absence means "use the documented default").
func FailoverFrom(p *props.Properties) FailoverConfig {
	mode := p.GetStringDefault(KeyFailoverMode, DefaultFailoverMode)
	enabled := true
	if p.Has(KeyEnableClusterAwareFailover) {
		enabled = p.GetBool(KeyEnableClusterAwareFailover)
	}
	return FailoverConfig{
		Mode:                         mode,
		TimeoutMs:                    p.GetDuration(KeyFailoverTimeoutMs, DefaultFailoverTimeout),
		ClusterTopologyRefreshRateMs: p.GetDuration(KeyFailoverClusterTopologyRefreshRateMs, DefaultFailoverClusterTopologyRefreshRate),
		ReaderConnectTimeoutMs:       p.GetDuration(KeyFailoverReaderConnectTimeoutMs, DefaultFailoverReaderConnectTimeout),
		WriterReconnectIntervalMs:    p.GetDuration(KeyFailoverWriterReconnectIntervalMs, DefaultFailoverWriterReconnectInterval),
		Enabled:                      enabled,
	}
}

// MonitoringFrom builds a MonitoringConfig from Properties (typically the
// monitoring-* sub-properties; see props.MonitoringSubProperties).
func MonitoringFrom(p *props.Properties) MonitoringConfig {
	count := DefaultFailureDetectionCount
	if p.Has(KeyFailureDetectionCount) {
		count = p.GetInt(KeyFailureDetectionCount)
	}
	return MonitoringConfig{
		FailureDetectionTime:     p.GetDuration(KeyFailureDetectionTime, DefaultFailureDetectionTime),
		FailureDetectionInterval: p.GetDuration(KeyFailureDetectionInterval, DefaultFailureDetectionInterval),
		FailureDetectionCount:    count,
		MonitorDisposalTime:      p.GetDuration(KeyMonitorDisposalTimeMs, DefaultMonitorDisposalTime),
	}
}

// TopologyFrom builds a TopologyConfig from Properties.
func TopologyFrom(p *props.Properties) TopologyConfig {
	return TopologyConfig{
		RefreshRate:                  p.GetDuration(KeyClusterTopologyRefreshRateMs, DefaultClusterTopologyRefreshRate),
		ClusterInstanceHostPattern:   p.GetString(KeyClusterInstanceHostPattern),
		ClusterID:                    p.GetString(KeyClusterID),
		SingleWriterConnectionString: p.GetString(KeySingleWriterConnectionString),
	}
}

// WrapperTimeouts holds the wrapper's connect and query timeouts. pluginchain
// does not read it; callers apply these values to the ctx they pass in.
type WrapperTimeouts struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

func WrapperTimeoutsFrom(p *props.Properties) WrapperTimeouts {
	return WrapperTimeouts{
		ConnectTimeout: p.GetDuration(KeyWrapperConnectTimeoutMs, DefaultWrapperConnectTimeout),
		QueryTimeout:   p.GetDuration(KeyWrapperQueryTimeoutMs, DefaultWrapperQueryTimeout),
	}
}
