// Package failover implements the Failover Plugin (C12, spec §4.5): the
// writer/reader failover state machine that intercepts data calls, detects
// a network failure via the Plugin Service's classifier, and transparently
// swaps the session's current connection to a healthy replacement host.
//
// The plugin shape (subscription set + Execute wrapping next) is the same
// chain-of-responsibility idiom every other plugin in this module follows;
// the two failover algorithms and the transaction-awareness rule are this
// package's own, since the teacher repo this module is grounded on has no
// equivalent of a swappable target connection under retry.
package failover

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/clusterwrap/driver/internal/config"
	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
	"github.com/clusterwrap/driver/internal/sessionstate"
	"github.com/clusterwrap/driver/internal/txwatch"
)

// State is one node of the state machine in spec §4.5.
type State int

const (
	StateNormal State = iota
	StateTrigger
	StateFailoverWriter
	StateFailoverReader
	StateReconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateTrigger:
		return "TRIGGER"
	case StateFailoverWriter:
		return "FAILOVER_WRITER"
	case StateFailoverReader:
		return "FAILOVER_READER"
	case StateReconnected:
		return "RECONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "NORMAL"
	}
}

// PluginService is the narrow slice of pluginservice.Service's exported
// surface this plugin calls into (spec §4.2's connect/forceRefreshHostList/
// setAvailability/isNetworkError operations). Declaring it here as an
// interface rather than importing the concrete type directly keeps this
// package testable against a fake without standing up a real Driver,
// HostListProvider and dialect.Registry the way a real Service needs.
type PluginService interface {
	ForceRefreshHostList(ctx context.Context) (*host.Snapshot, error)
	Topology() *host.Snapshot
	Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error)
	CurrentConnection() (*sql.DB, *host.Host)
	Database() dialect.Database
	IsNetworkError(err error) bool
	SetAvailability(key string, a host.Availability)
}

// Plugin is the chain link for C12. One instance is built per user session
// (spec §5: "each session's plugin chain is single-threaded from the
// user's perspective"), so the state machine's fields need no locking
// against other sessions, only against the session's own in-flight call
// racing an EFM abort callback.
type Plugin struct {
	svc      PluginService
	strategy connprovider.Strategy
	session  *sessionstate.State
	cfg      config.FailoverConfig

	mu    sync.Mutex
	state State
	tx    txwatch.Tracker
}

var _ pluginchain.Plugin = (*Plugin)(nil)

// NewPlugin builds the failover plugin around svc, the reader-selection
// strategy configured via readerHostSelectorStrategy, the session's tracked
// state for post-swap replay (spec §4.5 step 3, §4.7), and the failover
// config block (spec §6's failover* keys).
func NewPlugin(svc PluginService, strategy connprovider.Strategy, session *sessionstate.State, cfg config.FailoverConfig) *Plugin {
	return &Plugin{svc: svc, strategy: strategy, session: session, cfg: cfg}
}

func (p *Plugin) Name() string { return "failover" }

func (p *Plugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{
		pluginchain.OpQuery,
		pluginchain.OpExec,
		pluginchain.OpCommit,
		pluginchain.OpRollback,
	}
}

func (p *Plugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	if !p.cfg.Enabled {
		return next(ctx)
	}

	switch op {
	case pluginchain.OpCommit, pluginchain.OpRollback:
		p.tx.End()
	default:
		p.tx.Observe(args.Query)
	}

	result, err := next(ctx)
	if err == nil {
		return result, nil
	}

	if !p.svc.IsNetworkError(err) {
		return result, err
	}

	h, _ := args.Extra["host"].(*host.Host)
	base, _ := args.Extra["props"].(*props.Properties)
	if h != nil {
		p.svc.SetAvailability(h.Key(), host.Unavailable)
	}

	wasInTransaction := p.tx.Active()
	p.mu.Lock()
	p.state = StateTrigger
	p.mu.Unlock()

	logger.Failover().Warn().Err(err).Bool("inTransaction", wasInTransaction).Msg("network error observed, triggering failover")

	newHost, ferr := p.runFailover(ctx, base)
	if ferr != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
		logger.Failover().Error().Err(ferr).Msg("failover did not complete within deadline")
		return nil, errs.FailoverFailedError(ferr)
	}

	p.mu.Lock()
	p.state = StateReconnected
	p.mu.Unlock()
	p.tx.End()

	logger.Failover().Info().Str("host", newHost.Key()).Msg("failover recovered")

	if wasInTransaction {
		return nil, errs.TransactionResolutionUnknownError(err)
	}
	return nil, errs.FailoverSuccessError(newHost.Key())
}

// runFailover dispatches to the writer or reader algorithm per the
// configured failoverMode (spec §4.5's "TRIGGER --failoverMode=X-->" arcs),
// falling back from reader to writer in reader-or-writer mode per §4.5's
// reader failover step 3.
func (p *Plugin) runFailover(ctx context.Context, base *props.Properties) (*host.Host, error) {
	deadline := time.Now().Add(p.cfg.TimeoutMs)

	switch p.cfg.Mode {
	case config.FailoverModeStrictWriter:
		p.setState(StateFailoverWriter)
		return p.failoverToWriter(ctx, base, deadline)
	case config.FailoverModeStrictReader:
		p.setState(StateFailoverReader)
		return p.failoverToReader(ctx, base, deadline, false)
	default: // reader-or-writer
		p.setState(StateFailoverReader)
		return p.failoverToReader(ctx, base, deadline, true)
	}
}

func (p *Plugin) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the plugin's current machine state, exported for tests and
// diagnostics (spec §8's invariant tests drive this directly).
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// replaySession brings conn to match the session's tracked flags, the same
// reapply sessionstate.State.Reapply performs after a read/write-splitting
// swap (spec §4.5 step 3: "After swap, replay session state").
func (p *Plugin) replaySession(ctx context.Context, conn *sql.DB) error {
	db := p.svc.Database()
	if db == nil || p.session == nil {
		return nil
	}
	return p.session.Reapply(ctx, conn, db)
}

