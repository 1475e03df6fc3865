// Package config names every recognised configuration option from spec §6
// and provides typed structs the rest of the core reads instead of poking at
// raw *props.Properties keys everywhere. Grounded on the teacher's
// cache/keys.go: one file of named constants grouped by concern, used as the
// single source of truth for key spelling.
package config

// Core connection (spec §6).
const (
	KeyPlugins  = "plugins"
	KeyUser     = "user"
	KeyPassword = "password"
	KeyHost     = "host"
	KeyPort     = "port"
	KeyDatabase = "database"
)

// Topology / cluster identity.
const (
	KeyClusterTopologyRefreshRateMs = "clusterTopologyRefreshRateMs"
	KeyClusterInstanceHostPattern   = "clusterInstanceHostPattern"
	KeyClusterID                    = "clusterId"
	KeySingleWriterConnectionString = "singleWriterConnectionString"
)

// Failover (C12).
const (
	KeyFailoverMode                          = "failoverMode"
	KeyFailoverTimeoutMs                     = "failoverTimeoutMs"
	KeyFailoverClusterTopologyRefreshRateMs  = "failoverClusterTopologyRefreshRateMs"
	KeyFailoverReaderConnectTimeoutMs        = "failoverReaderConnectTimeoutMs"
	KeyFailoverWriterReconnectIntervalMs     = "failoverWriterReconnectIntervalMs"
	KeyEnableClusterAwareFailover            = "enableClusterAwareFailover"
)

// Host monitoring / EFM (C13).
const (
	KeyFailureDetectionTime     = "failureDetectionTime"
	KeyFailureDetectionInterval = "failureDetectionInterval"
	KeyFailureDetectionCount    = "failureDetectionCount"
	KeyMonitorDisposalTimeMs    = "monitorDisposalTimeMillis"
	KeyEnableHostMonitoring     = "enableHostMonitoring"
	MonitoringPrefix            = "monitoring-"
)

// Auth plugins (C11).
const (
	KeyIamHost            = "iamHost"
	KeyIamDefaultPort     = "iamDefaultPort"
	KeyIamRegion          = "iamRegion"
	KeyIamTokenExpiration = "iamTokenExpiration"
	KeyIamRoleArn         = "iamRoleArn"
	KeyIamIdpArn          = "iamIdpArn"
	KeyDbUser             = "dbUser"
	KeyIdpUsername        = "idpUsername"
	KeyIdpPassword        = "idpPassword"
	KeyIdpEndpoint        = "idpEndpoint"
	KeyIdpPort            = "idpPort"
	KeyIdpName            = "idpName"
	KeyRpIdentifier       = "rpIdentifier"

	KeySecretID       = "secretId"
	KeySecretRegion   = "secretRegion"
	KeySecretEndpoint = "secretEndpoint"
)

// Connection provider / read-write splitting / session state / telemetry.
const (
	KeyReaderHostSelectorStrategy  = "readerHostSelectorStrategy"
	KeyEnableReadWriteSplitting    = "enableReadWriteSplitting"
	KeyTransferSessionStateOnSwitch = "transferSessionStateOnSwitch"
	KeyResetSessionStateOnClose     = "resetSessionStateOnClose"
	KeyEnableGreenNodeReplacement   = "enableGreenNodeReplacement"
	KeyEnableTelemetry              = "enableTelemetry"
	KeyTelemetryTracesBackend       = "telemetryTracesBackend"
	KeyTelemetryMetricsBackend      = "telemetryMetricsBackend"
)

// Wrapper-level timeouts (§5 cancellation: most restrictive of these wins).
const (
	KeyWrapperConnectTimeoutMs = "wrapperConnectTimeoutMs"
	KeyWrapperQueryTimeoutMs   = "wrapperQueryTimeoutMs"
)

// Strategy names for KeyReaderHostSelectorStrategy (spec §4.4's closed set).
const (
	StrategyRandom          = "random"
	StrategyRoundRobin      = "roundRobin"
	StrategyWeightedRandom  = "weightedRandom"
	StrategyFastestResponse = "fastestResponse"
)

// Failover modes for KeyFailoverMode (spec §4.5).
const (
	FailoverModeStrictWriter   = "strict-writer"
	FailoverModeStrictReader   = "strict-reader"
	FailoverModeReaderOrWriter = "reader-or-writer"
)
