// Command clusterwrap-demo wires C1-C15 into one plugin chain against a
// Postgres (or Aurora PostgreSQL) target, the same role the teacher's
// cmd/main.go plays for its API server: read configuration from the
// environment, construct every collaborator by hand (no DI container), run
// one operation through the assembled chain, and shut down cleanly.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/clusterwrap/driver/internal/authplugins"
	"github.com/clusterwrap/driver/internal/config"
	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/failover"
	"github.com/clusterwrap/driver/internal/hostlist"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/monitoring"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/pluginservice"
	"github.com/clusterwrap/driver/internal/props"
	"github.com/clusterwrap/driver/internal/rwsplit"
	"github.com/clusterwrap/driver/internal/sessionstate"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "true") == "true")

	base := propsFromEnv()

	registry := dialect.NewRegistry()
	registry.Register(dialect.NewPostgresDatabase())
	registry.Register(dialect.NewAuroraPostgresDatabase())
	drv := dialect.NewPostgresDriver()

	provider, err := buildProvider(base)
	if err != nil {
		log.Fatalf("clusterwrap-demo: building host list provider: %v", err)
	}

	topoCfg := config.TopologyFrom(base)
	cache := hostlist.NewCache(topoCfg.RefreshRate)
	janitor, err := hostlist.NewJanitor(cache, getEnv("TOPOLOGY_SWEEP_CRON", "*/1 * * * *"))
	if err != nil {
		log.Fatalf("clusterwrap-demo: starting topology janitor: %v", err)
	}
	defer janitor.Stop()

	svc := pluginservice.New(drv, provider, cache, registry)

	strategy, err := connprovider.NewFromConfigName(base.GetStringDefault(config.KeyReaderHostSelectorStrategy, config.DefaultReaderStrategy))
	if err != nil {
		log.Fatalf("clusterwrap-demo: building reader selection strategy: %v", err)
	}

	session := sessionstate.New()

	var plugins []pluginchain.Plugin

	if auth := buildAuthPlugin(base); auth != nil {
		plugins = append(plugins, auth)
	}

	monitoringEnabled := true
	if base.Has(config.KeyEnableHostMonitoring) {
		monitoringEnabled = base.GetBool(config.KeyEnableHostMonitoring)
	}
	if monitoringEnabled {
		monRegistry := monitoring.NewServiceRegistry(svc, drv, svc.SetAvailability)
		plugins = append(plugins, monitoring.NewPlugin(monRegistry))
	}

	failoverCfg := config.FailoverFrom(base)
	plugins = append(plugins, failover.NewPlugin(svc, strategy, session, failoverCfg))

	if base.GetBool(config.KeyEnableReadWriteSplitting) {
		plugins = append(plugins, rwsplit.NewPlugin(svc, strategy, session))
	}

	term := pluginchain.NewDefaultPlugin(defaultHandler(svc, drv))
	chain := pluginchain.New(term, plugins...)

	ctx, cancel := context.WithTimeout(context.Background(), config.WrapperTimeoutsFrom(base).ConnectTimeout)
	defer cancel()

	if err := run(ctx, chain, svc, base); err != nil {
		log.Fatalf("clusterwrap-demo: %v", err)
	}

	waitForShutdown()

	if conn, _ := svc.CurrentConnection(); conn != nil {
		if err := drv.End(conn); err != nil {
			logger.Chain().Warn().Err(err).Msg("error closing connection during shutdown")
		}
	}
	svc.Close()
	logger.Chain().Info().Msg("clusterwrap-demo shut down")
}

// run opens the initial connection through the chain (so auth/failover
// plugins see it) and issues one sample query to exercise the rest.
func run(ctx context.Context, chain *pluginchain.Chain, svc *pluginservice.Service, base *props.Properties) error {
	snap, err := svc.GetHosts(ctx)
	if err != nil {
		return fmt.Errorf("discovering cluster topology: %w", err)
	}
	writer := snap.Writer()
	if writer == nil {
		return fmt.Errorf("no writer host in topology")
	}

	connectArgs := pluginchain.Args{Extra: map[string]interface{}{"host": writer, "props": base}}
	if _, err := chain.Execute(ctx, pluginchain.OpConnect, connectArgs); err != nil {
		return fmt.Errorf("connecting to writer %s: %w", writer.Key(), err)
	}
	logger.Chain().Info().Str("host", writer.Key()).Msg("connected")

	queryArgs := pluginchain.Args{
		Query: "SELECT 1",
		Extra: map[string]interface{}{"host": writer, "props": base},
	}
	if _, err := chain.Execute(ctx, pluginchain.OpQuery, queryArgs); err != nil {
		return fmt.Errorf("running sample query: %w", err)
	}
	logger.Chain().Info().Msg("sample query succeeded")
	return nil
}

// defaultHandler is the chain's terminal link: it performs op against svc's
// current connection using the driver directly, the real work every plugin
// above it wraps.
func defaultHandler(svc *pluginservice.Service, drv dialect.Driver) pluginchain.TerminalFunc {
	return func(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args) (interface{}, error) {
		switch op {
		case pluginchain.OpConnect:
			h, _ := args.Extra["host"].(*host.Host)
			p, _ := args.Extra["props"].(*props.Properties)
			if h == nil || p == nil {
				return nil, errs.ConfigurationError("connect: missing host/props in chain args")
			}
			return svc.Connect(ctx, h, p)

		case pluginchain.OpForceConnect:
			h, _ := args.Extra["host"].(*host.Host)
			p, _ := args.Extra["props"].(*props.Properties)
			if h == nil || p == nil {
				return nil, errs.ConfigurationError("force_connect: missing host/props in chain args")
			}
			return svc.ForceConnect(ctx, h, p)

		case pluginchain.OpQuery:
			conn, _ := svc.CurrentConnection()
			if conn == nil {
				return nil, errs.New(errs.KindNetwork, "query: no current connection")
			}
			return drv.Query(ctx, conn, args.Query, args.Params...)

		case pluginchain.OpExec:
			conn, _ := svc.CurrentConnection()
			if conn == nil {
				return nil, errs.New(errs.KindNetwork, "exec: no current connection")
			}
			return drv.Exec(ctx, conn, args.Query, args.Params...)

		case pluginchain.OpPing:
			conn, _ := svc.CurrentConnection()
			if conn == nil {
				return nil, errs.New(errs.KindNetwork, "ping: no current connection")
			}
			return nil, drv.Ping(ctx, conn)

		case pluginchain.OpClose, pluginchain.OpEnd:
			conn, _ := svc.CurrentConnection()
			if conn == nil {
				return nil, nil
			}
			return nil, drv.End(conn)

		case pluginchain.OpCommit, pluginchain.OpRollback:
			conn, _ := svc.CurrentConnection()
			if conn == nil {
				return nil, errs.New(errs.KindNetwork, string(op)+": no current connection")
			}
			_, err := drv.Exec(ctx, conn, string(op))
			return nil, err

		default:
			return nil, nil
		}
	}
}

func buildProvider(base *props.Properties) (hostlist.Provider, error) {
	clusterID := base.GetStringDefault(config.KeyClusterID, base.GetString(config.KeyHost))
	port := base.GetInt(config.KeyPort)

	if pattern := base.GetString(config.KeyClusterInstanceHostPattern); pattern != "" {
		return hostlist.NewTopologyProvider(clusterID, pattern, port), nil
	}

	hostList := getEnv("CLUSTERWRAP_HOST_LIST", base.GetString(config.KeyHost))
	return hostlist.NewStaticProvider(clusterID, hostList, port)
}

// buildAuthPlugin wires the IAM auth plugin when AUTH_MODE=iam, the only
// one of C11's three plugins that needs no external HTTP IdP or Secrets
// Manager API reachable from a demo environment.
func buildAuthPlugin(base *props.Properties) pluginchain.Plugin {
	if getEnv("AUTH_MODE", "") != "iam" {
		return nil
	}
	creds := credentials.NewStaticCredentialsProvider(
		os.Getenv("AWS_ACCESS_KEY_ID"),
		os.Getenv("AWS_SECRET_ACCESS_KEY"),
		os.Getenv("AWS_SESSION_TOKEN"),
	)
	ttl := base.GetDuration(config.KeyIamTokenExpiration, config.DefaultIamTokenExpiration)
	return authplugins.NewIAMPlugin(creds, ttl, errs.PostgresClassifier)
}

func propsFromEnv() *props.Properties {
	port, _ := strconv.Atoi(getEnv("CLUSTERWRAP_PORT", "5432"))
	m := map[string]interface{}{
		config.KeyHost:     getEnv("CLUSTERWRAP_HOST", "localhost"),
		config.KeyPort:     port,
		config.KeyUser:     getEnv("CLUSTERWRAP_USER", "postgres"),
		config.KeyPassword: os.Getenv("CLUSTERWRAP_PASSWORD"),
		config.KeyDatabase: getEnv("CLUSTERWRAP_DATABASE", "postgres"),
	}
	if v := os.Getenv("CLUSTERWRAP_CLUSTER_ID"); v != "" {
		m[config.KeyClusterID] = v
	}
	if v := os.Getenv("CLUSTERWRAP_FAILOVER_MODE"); v != "" {
		m[config.KeyFailoverMode] = v
	}
	if v := os.Getenv("CLUSTERWRAP_READER_STRATEGY"); v != "" {
		m[config.KeyReaderHostSelectorStrategy] = v
	}
	if os.Getenv("CLUSTERWRAP_ENABLE_RW_SPLITTING") == "true" {
		m[config.KeyEnableReadWriteSplitting] = true
	}
	return props.FromMap(m)
}

// waitForShutdown blocks until an OS signal arrives, or until
// CLUSTERWRAP_DEMO_LIFETIME elapses if set (used by CI/smoke runs that can't
// send a signal).
func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var lifetime <-chan time.Time
	if v := os.Getenv("CLUSTERWRAP_DEMO_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			lifetime = time.After(d)
		}
	}

	select {
	case sig := <-quit:
		logger.Chain().Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-lifetime:
		logger.Chain().Info().Msg("demo lifetime elapsed")
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
