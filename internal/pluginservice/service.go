// Package pluginservice implements the Plugin Service (C7): the shared
// state and operations every plugin in the chain (C8) calls into rather
// than touching the wire directly — the current connection, the cached
// topology, dialect identification, and host selection. It is the
// glue component between C6 (host list), C9 (connection provider) and
// C4/C5 (driver and database dialects).
package pluginservice

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/clusterwrap/driver/internal/connpool"
	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/hostlist"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/props"
)

// ConnectionChangeOutcome is one listener's vote on what should happen to
// the connection being replaced (spec §6: "plugins are notified before a
// connection switch takes effect and may request the old connection be
// preserved rather than closed").
type ConnectionChangeOutcome int

const (
	Dispose ConnectionChangeOutcome = iota
	Preserve
)

// ConnectionChangeListener is notified before the service's current
// connection is swapped for a new one.
type ConnectionChangeListener interface {
	NotifyConnectionChanged(oldHost, newHost *host.Host) ConnectionChangeOutcome
}

// HostListChangeListener is notified after a topology refresh publishes a
// new snapshot, receiving both the old and new view so plugins can diff
// them (spec §6: "notifyHostListChanged").
type HostListChangeListener interface {
	NotifyHostListChanged(old, current *host.Snapshot)
}

// Service is C7's shared state, built once per logical connection to a
// cluster and handed to every plugin in the chain.
type Service struct {
	mu sync.RWMutex

	currentConn *sql.DB
	currentHost *host.Host

	topology host.Box
	cache    *hostlist.Cache
	provider hostlist.Provider

	registry *dialect.Registry
	driver   dialect.Driver
	database dialect.Database
	pool     *connpool.Pool

	classifier errs.Classifier

	connListenersMu sync.RWMutex
	connListeners   []ConnectionChangeListener

	hostListListenersMu sync.RWMutex
	hostListListeners   []HostListChangeListener
}

// New builds a Service around a driver, a topology cache and provider, and
// a dialect registry used to (re)identify which Database dialect is on the
// other end of the current connection.
func New(drv dialect.Driver, provider hostlist.Provider, cache *hostlist.Cache, registry *dialect.Registry) *Service {
	return &Service{
		driver:     drv,
		provider:   provider,
		cache:      cache,
		registry:   registry,
		pool:       connpool.New(drv),
		classifier: errs.PostgresClassifier,
	}
}

func (s *Service) SubscribeConnectionChange(l ConnectionChangeListener) {
	s.connListenersMu.Lock()
	defer s.connListenersMu.Unlock()
	s.connListeners = append(s.connListeners, l)
}

func (s *Service) SubscribeHostListChange(l HostListChangeListener) {
	s.hostListListenersMu.Lock()
	defer s.hostListListenersMu.Unlock()
	s.hostListListeners = append(s.hostListListeners, l)
}

// CurrentConnection returns the connection and host currently in use.
func (s *Service) CurrentConnection() (*sql.DB, *host.Host) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConn, s.currentHost
}

// SetCurrentConnection swaps in a new connection, polling every registered
// ConnectionChangeListener first. The old connection is closed unless every
// listener votes Preserve: a single plugin wanting to keep it alive (for
// example to finish draining an in-flight transaction) is not enough reason
// for every other plugin to also lose it, but nothing short of unanimous
// agreement justifies skipping the close spec §6 otherwise requires.
func (s *Service) SetCurrentConnection(ctx context.Context, conn *sql.DB, h *host.Host) {
	s.mu.Lock()
	oldConn, oldHost := s.currentConn, s.currentHost
	s.currentConn, s.currentHost = conn, h
	s.mu.Unlock()

	s.connListenersMu.RLock()
	listeners := append([]ConnectionChangeListener(nil), s.connListeners...)
	s.connListenersMu.RUnlock()

	outcome := Dispose
	if len(listeners) > 0 {
		outcome = Preserve
		for _, l := range listeners {
			if l.NotifyConnectionChanged(oldHost, h) == Dispose {
				outcome = Dispose
				break
			}
		}
	}

	if oldConn != nil && oldConn != conn && outcome == Dispose {
		// Evict through the pool rather than calling driver.End(oldConn)
		// directly: Connect hands out connections via C10's keyed pool, so
		// closing oldConn without also forgetting it there would leave a
		// closed *sql.DB cached under oldHost's key for the next Connect to
		// that host to hand back out.
		if oldHost != nil {
			s.pool.Evict(oldHost.Key())
		} else if err := s.driver.End(oldConn); err != nil {
			logger.Chain().Warn().Err(err).Msg("error closing superseded connection")
		}
	}
}

// GetHosts returns the cached topology, refreshing it if expired.
func (s *Service) GetHosts(ctx context.Context) (*host.Snapshot, error) {
	conn, _ := s.CurrentConnection()
	return s.cache.GetOrRefresh(ctx, s.provider, conn, s.driver, s.database)
}

// RefreshHostList is an alias for GetHosts kept distinct for call-site
// clarity (spec §6 names both operations separately even though a miss
// behaves identically).
func (s *Service) RefreshHostList(ctx context.Context) (*host.Snapshot, error) {
	return s.GetHosts(ctx)
}

// ForceRefreshHostList bypasses the cache TTL and re-queries immediately,
// notifying host-list-change listeners with the before/after snapshots.
func (s *Service) ForceRefreshHostList(ctx context.Context) (*host.Snapshot, error) {
	old, _ := s.cache.Get(s.provider.ClusterID())
	conn, _ := s.CurrentConnection()

	current, err := s.cache.ForceRefresh(ctx, s.provider, conn, s.driver, s.database)
	if err != nil {
		return nil, err
	}

	s.topology.Store(current)

	s.hostListListenersMu.RLock()
	listeners := append([]HostListChangeListener(nil), s.hostListListeners...)
	s.hostListListenersMu.RUnlock()
	for _, l := range listeners {
		l.NotifyHostListChanged(old, current)
	}

	return current, nil
}

// GetHostInfoByStrategy returns one host with the given role chosen by
// strategy from the current cached topology.
func (s *Service) GetHostInfoByStrategy(ctx context.Context, role host.Role, strategy connprovider.Strategy) (*host.Host, error) {
	snap, err := s.GetHosts(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*host.Host
	switch role {
	case host.RoleWriter:
		if w := snap.Writer(); w != nil {
			candidates = []*host.Host{w}
		}
	case host.RoleReader:
		candidates = snap.Readers()
	default:
		candidates = snap.Hosts
	}

	if len(candidates) == 0 {
		return nil, errs.Internal(fmt.Sprintf("pluginservice: no hosts with role %s in current topology", role))
	}
	return strategy.Select(candidates)
}

// Connect opens a new connection to h, identifies its dialect, and becomes
// the service's current connection. It goes through C10's keyed pool
// (spec §2: "Connection Provider (C9) -> Driver Dialect (C4)" flows through
// "an internal pool for reusing per-host connections") rather than dialing
// fresh every time, so a session that repeatedly switches roles (rwsplit)
// or retries against the same candidate (failover) reuses an already-open
// connection to that host instead of paying a new handshake each time.
func (s *Service) Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	conn, err := s.pool.Get(ctx, h, p)
	if err != nil {
		return nil, err
	}
	if err := s.identifyDialect(ctx, conn); err != nil {
		s.pool.Evict(h.Key())
		return nil, err
	}
	s.SetCurrentConnection(ctx, conn, h)
	return conn, nil
}

// ForceConnect opens a connection bypassing any plugin chain above this
// service (spec §6: used by EFM's background monitor and by failover to
// probe without re-entering the full chain). It does not update the
// service's current connection.
func (s *Service) ForceConnect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	return s.driver.Connect(ctx, h, p)
}

func (s *Service) identifyDialect(ctx context.Context, conn *sql.DB) error {
	hint := "aurora-postgresql"
	s.mu.RLock()
	if s.database != nil {
		hint = s.database.Name()
	}
	s.mu.RUnlock()

	db, err := s.registry.Identify(ctx, conn, s.driver, hint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.database = db
	s.mu.Unlock()
	return nil
}

// UpdateDialect re-runs dialect identification against the current
// connection (spec §6: called after a connection switch in case the new
// host reports a different engine/version than the one the service was
// built against, e.g. during a blue/green upgrade).
func (s *Service) UpdateDialect(ctx context.Context) error {
	conn, _ := s.CurrentConnection()
	if conn == nil {
		return fmt.Errorf("pluginservice: no current connection to identify a dialect against")
	}
	return s.identifyDialect(ctx, conn)
}

func (s *Service) Database() dialect.Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

func (s *Service) Driver() dialect.Driver { return s.driver }

// IsClientValid reports whether the current connection still answers.
func (s *Service) IsClientValid(ctx context.Context) bool {
	conn, _ := s.CurrentConnection()
	if conn == nil {
		return false
	}
	return s.driver.IsClientValid(ctx, conn)
}

// IsLoginError classifies err as a login failure worth retrying with fresh
// credentials (spec §4.9, C11's retry-once-on-login-error behavior).
func (s *Service) IsLoginError(err error) bool {
	return s.classifier.Classify(err) == errs.KindLogin || errs.Is(err, errs.KindLogin)
}

// IsNetworkError classifies err as the kind that should push the failover
// state machine (C12) from NORMAL to TRIGGER.
func (s *Service) IsNetworkError(err error) bool {
	return s.classifier.Classify(err) == errs.KindNetwork || errs.IsFailoverTrigger(err)
}

// SetAvailability updates one host's availability in the current topology
// in place (spec §3: availability is the one field a published Host may
// still mutate), without forcing a full snapshot republish. Marking a host
// NOT_AVAILABLE also evicts its pooled connection (C10) so a later Connect
// to that host, once it's back in rotation, doesn't get handed a
// connection left open against the host that just failed.
func (s *Service) SetAvailability(key string, a host.Availability) {
	snap := s.topology.Load()
	if snap == nil {
		return
	}
	if h := snap.ByKey(key); h != nil {
		h.SetAvailability(a)
	}
	if a == host.Unavailable {
		s.pool.Evict(key)
	}
}

// Topology returns the last-published snapshot, if any, without triggering
// a refresh.
func (s *Service) Topology() *host.Snapshot { return s.topology.Load() }

// Close releases every pooled connection (C10), for process shutdown.
func (s *Service) Close() {
	s.pool.CloseAll()
}
