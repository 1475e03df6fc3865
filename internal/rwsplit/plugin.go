// Package rwsplit implements Read/Write Splitting (C14, spec §4.7):
// sniffing SET READ ONLY statements to transparently route a session
// between a cached writer connection and a cached reader connection,
// swapping the Plugin Service's current target and replaying session
// state across the switch.
//
// Grounded on the same chain-of-responsibility plugin shape every other
// link in this module uses; the writer/reader-target cache and the
// notifyConnectionChanged PRESERVE vote are this package's own, adapting
// spec §4.2's swap-with-disposal-vote contract to "the side not currently
// in use must survive the swap instead of being closed."
package rwsplit

import (
	"context"
	"database/sql"
	"sync"

	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/pluginservice"
	"github.com/clusterwrap/driver/internal/props"
	"github.com/clusterwrap/driver/internal/sessionstate"
	"github.com/clusterwrap/driver/internal/txwatch"
)

// PluginService is the narrow slice of pluginservice.Service's exported
// surface this plugin needs, declared as an interface for the same
// testability reason as failover.PluginService: every method listed here
// matches *pluginservice.Service's actual signature exactly, so the
// concrete type satisfies it with no adapter.
type PluginService interface {
	CurrentConnection() (*sql.DB, *host.Host)
	SetCurrentConnection(ctx context.Context, conn *sql.DB, h *host.Host)
	Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error)
	GetHostInfoByStrategy(ctx context.Context, role host.Role, strategy connprovider.Strategy) (*host.Host, error)
	Database() dialect.Database
	SubscribeConnectionChange(l pluginservice.ConnectionChangeListener)
}

// Plugin is the chain link for C14. One instance per user session, same as
// failover.Plugin (spec §5).
type Plugin struct {
	svc      PluginService
	strategy connprovider.Strategy
	session  *sessionstate.State
	tx       txwatch.Tracker

	mu           sync.Mutex
	writerTarget *sql.DB
	writerHost   *host.Host
	readerTarget *sql.DB
	readerHost   *host.Host
	inSplit      bool // true once the current target is the reader
}

var _ pluginchain.Plugin = (*Plugin)(nil)
var _ pluginservice.ConnectionChangeListener = (*Plugin)(nil)

// NewPlugin builds the read/write splitting plugin and subscribes it to
// svc's connection-change notifications so it can decide, for every swap
// (its own or another plugin's), whether to preserve the superseded
// connection as its cached opposite-role target.
func NewPlugin(svc PluginService, strategy connprovider.Strategy, session *sessionstate.State) *Plugin {
	p := &Plugin{svc: svc, strategy: strategy, session: session}
	svc.SubscribeConnectionChange(p)
	return p
}

func (p *Plugin) Name() string { return "read_write_splitting" }

func (p *Plugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{
		pluginchain.OpConnect,
		pluginchain.OpForceConnect,
		pluginchain.OpQuery,
		pluginchain.OpExec,
		pluginchain.OpCommit,
		pluginchain.OpRollback,
	}
}

func (p *Plugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	switch op {
	case pluginchain.OpConnect, pluginchain.OpForceConnect:
		result, err := next(ctx)
		if err == nil {
			p.captureInitialWriter()
		}
		return result, err

	case pluginchain.OpCommit, pluginchain.OpRollback:
		p.tx.End()
		return next(ctx)

	default: // OpQuery, OpExec
		p.tx.Observe(args.Query)
		if err := p.maybeSwitch(ctx, args); err != nil {
			return nil, err
		}
		return next(ctx)
	}
}

// captureInitialWriter records the connection the underlying connect
// produced as the writer target, the baseline every later "SET READ ONLY
// false" switches back to.
func (p *Plugin) captureInitialWriter() {
	conn, h := p.svc.CurrentConnection()
	if conn == nil || h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writerTarget == nil {
		p.writerTarget, p.writerHost = conn, h
	}
}

// maybeSwitch sniffs args.Query for a SET READ ONLY statement and performs
// the writer<->reader swap spec §4.7 describes when the requested flag
// differs from the session's tracked one.
func (p *Plugin) maybeSwitch(ctx context.Context, args pluginchain.Args) error {
	db := p.svc.Database()
	if db == nil || args.Query == "" {
		return nil
	}
	desired, ok := db.DoesStatementSetReadOnly(args.Query)
	if !ok {
		return nil
	}

	p.session.SetReadOnly(desired)

	if desired {
		return p.switchToReader(ctx, args)
	}
	return p.switchToWriter(ctx)
}

func (p *Plugin) switchToReader(ctx context.Context, args pluginchain.Args) error {
	if p.tx.Active() {
		logger.RWSplit().Debug().Msg("read-only requested mid-transaction, deferring switch to writer's own connection")
		return nil
	}

	p.mu.Lock()
	already := p.inSplit
	cached := p.readerTarget
	cachedHost := p.readerHost
	p.mu.Unlock()
	if already {
		return nil
	}

	base, _ := args.Extra["props"].(*props.Properties)

	if cached != nil {
		if err := p.swapTo(ctx, cached, cachedHost, true); err == nil {
			return nil
		}
		// cached reader is dead; fall through and pick a fresh one.
		p.mu.Lock()
		p.readerTarget, p.readerHost = nil, nil
		p.mu.Unlock()
	}

	h, err := p.svc.GetHostInfoByStrategy(ctx, host.RoleReader, p.strategy)
	if err != nil {
		logger.RWSplit().Warn().Err(err).Msg("no reader available, staying on writer")
		return nil
	}

	// Pre-register the target host before calling Connect: Connect performs
	// the swap itself and fires NotifyConnectionChanged synchronously from
	// inside the call, before this method gets a chance to record the new
	// reader host. Without this, the notification handler below would see
	// an old writer host being replaced by an unrecognized new host and
	// vote to Dispose of the writer connection this plugin still needs
	// cached.
	p.mu.Lock()
	p.readerHost = h
	p.mu.Unlock()

	conn, err := p.svc.Connect(ctx, h, base)
	if err != nil {
		logger.RWSplit().Warn().Err(err).Str("host", h.Key()).Msg("reader connect failed, staying on writer")
		p.mu.Lock()
		p.readerHost = nil
		p.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	p.readerTarget = conn
	p.inSplit = true
	p.mu.Unlock()

	return p.reapply(ctx, conn)
}

func (p *Plugin) switchToWriter(ctx context.Context) error {
	if p.tx.Active() {
		return errs.ConfigurationError("read-write splitting: cannot switch back to the writer mid-transaction")
	}

	p.mu.Lock()
	already := !p.inSplit
	cached := p.writerTarget
	cachedHost := p.writerHost
	p.mu.Unlock()
	if already {
		return nil
	}

	if cached != nil {
		if err := p.swapTo(ctx, cached, cachedHost, false); err == nil {
			return nil
		}
		p.mu.Lock()
		p.writerTarget, p.writerHost = nil, nil
		p.mu.Unlock()
	}

	return errs.New(errs.KindNetwork, "read-write splitting: cached writer target is gone and no writer reconnect path exists without failover")
}

// swapTo makes target/targetHost the service's current connection and
// replays session state onto it, recording whether the new current side is
// the reader.
func (p *Plugin) swapTo(ctx context.Context, target *sql.DB, targetHost *host.Host, toReader bool) error {
	if err := p.reapply(ctx, target); err != nil {
		return err
	}
	p.svc.SetCurrentConnection(ctx, target, targetHost)
	p.mu.Lock()
	p.inSplit = toReader
	p.mu.Unlock()
	return nil
}

func (p *Plugin) reapply(ctx context.Context, conn *sql.DB) error {
	db := p.svc.Database()
	if db == nil || conn == nil {
		return nil
	}
	return p.session.Reapply(ctx, conn, db)
}

// NotifyConnectionChanged implements pluginservice.ConnectionChangeListener
// (spec §4.2): for every current-connection swap in the session, whether
// triggered by this plugin or by another (e.g. failover reconnecting to a
// new writer), decide whether the connection about to be superseded is one
// of this plugin's own cached targets and, if so, keep the bookkeeping
// honest rather than let a stale *sql.DB linger in the cache.
func (p *Plugin) NotifyConnectionChanged(oldHost, newHost *host.Host) pluginservice.ConnectionChangeOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case oldHost != nil && p.writerHost != nil && oldHost.Key() == p.writerHost.Key():
		if newHost != nil && p.readerHost != nil && newHost.Key() == p.readerHost.Key() {
			// This is rwsplit's own writer->reader switch: the writer
			// connection must survive so switchToWriter can swap straight
			// back to it later without reconnecting.
			return pluginservice.Preserve
		}
		// Someone else (failover) replaced the writer out from under us;
		// the cached reference is no longer ours to keep.
		p.writerTarget, p.writerHost = nil, nil
		return pluginservice.Dispose

	case oldHost != nil && p.readerHost != nil && oldHost.Key() == p.readerHost.Key():
		if newHost != nil && p.writerHost != nil && newHost.Key() == p.writerHost.Key() {
			return pluginservice.Preserve
		}
		p.readerTarget, p.readerHost = nil, nil
		return pluginservice.Dispose
	}

	return pluginservice.Dispose
}

// CurrentIsReader reports whether the session is currently routed to the
// cached reader target, the invariant spec §8 tests directly: "if inSplit
// and readOnly=true and writerTarget != nil and readerTarget != nil: the
// current target has role=READER (outside transactions)."
func (p *Plugin) CurrentIsReader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inSplit
}
