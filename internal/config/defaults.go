package config

import "time"

// Defaults mirror the values the wrapper this design is modeled on ships;
// every one is overridable via the matching key in props.Properties.
const (
	DefaultClusterTopologyRefreshRate         = 30 * time.Second
	DefaultFailoverTimeout                    = 5 * time.Minute
	DefaultFailoverClusterTopologyRefreshRate = 1 * time.Second
	DefaultFailoverReaderConnectTimeout       = 30 * time.Second
	DefaultFailoverWriterReconnectInterval    = 2 * time.Second
	DefaultFailoverMode                       = FailoverModeReaderOrWriter

	DefaultFailureDetectionTime     = 30 * time.Second
	DefaultFailureDetectionInterval = 5 * time.Second
	DefaultFailureDetectionCount    = 3
	DefaultMonitorDisposalTime      = 10 * time.Minute
	SleepWhenInactive               = 100 * time.Millisecond
	MinConnectionCheckTimeout       = 3 * time.Second

	DefaultIamTokenExpiration = 15 * time.Minute
	DefaultReaderStrategy     = StrategyRandom

	DefaultWrapperConnectTimeout = 30 * time.Second
	DefaultWrapperQueryTimeout   = 0 // 0 = no wrapper-level query deadline
)

// FailoverConfig is C12's typed view of the failover-related keys.
type FailoverConfig struct {
	Mode                          string
	TimeoutMs                     time.Duration
	ClusterTopologyRefreshRateMs  time.Duration
	ReaderConnectTimeoutMs        time.Duration
	WriterReconnectIntervalMs     time.Duration
	Enabled                       bool
}

// MonitoringConfig is C13's typed view of the EFM-related keys.
type MonitoringConfig struct {
	FailureDetectionTime     time.Duration
	FailureDetectionInterval time.Duration
	FailureDetectionCount    int
	MonitorDisposalTime      time.Duration
}

// TopologyConfig is C6's typed view of the cluster/topology keys.
type TopologyConfig struct {
	RefreshRate               time.Duration
	ClusterInstanceHostPattern string
	ClusterID                  string
	SingleWriterConnectionString string
}
