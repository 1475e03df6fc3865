package monitoring

import (
	"context"
	"fmt"

	"github.com/clusterwrap/driver/internal/config"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

// Plugin is the EFM chain link (C13, spec §4.6): it wraps every data call
// with a background Context submitted to the current host's Monitor, and
// aborts the call's own context if the monitor decides the host is
// unhealthy before the call returns on its own.
type Plugin struct {
	registry *Registry
}

var _ pluginchain.Plugin = (*Plugin)(nil)

// NewPlugin builds the EFM plugin around a shared Registry (so every
// session in the process converges on one Monitor per host rather than one
// per session).
func NewPlugin(registry *Registry) *Plugin {
	return &Plugin{registry: registry}
}

func (p *Plugin) Name() string { return "efm" }

func (p *Plugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{pluginchain.OpQuery, pluginchain.OpExec}
}

func (p *Plugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	h, _ := args.Extra["host"].(*host.Host)
	base, _ := args.Extra["props"].(*props.Properties)
	if h == nil || base == nil {
		return next(ctx)
	}

	cfg := config.MonitoringFrom(base)
	monitorProps := base.MonitoringSubProperties()

	monitor := p.registry.GetOrCreate(h, monitorProps, cfg.MonitorDisposalTime)

	callCtx, abort := context.WithCancel(ctx)
	defer abort()

	mctx := NewContext(h.Key(), cfg.FailureDetectionTime, cfg.FailureDetectionInterval, cfg.FailureDetectionCount, abort)
	monitor.Submit(mctx)
	defer mctx.MarkInactive()

	result, err := next(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = fmt.Errorf("monitoring: host %s failed %d consecutive pings within %s: %w", h.Key(), cfg.FailureDetectionCount, cfg.FailureDetectionTime, callCtx.Err())
	}
	return result, err
}

// serviceMarkUnhealthy adapts a pluginservice-shaped SetAvailability call
// into the markUnhealthy callback Registry/Monitor expect, keeping this
// package free of a direct import of pluginservice (which would otherwise
// cycle back through dialect -> host -> monitoring in some wiring orders).
func serviceMarkUnhealthy(setAvailability func(key string, a host.Availability)) func(string) {
	return func(key string) {
		setAvailability(key, host.Unavailable)
	}
}

// NewServiceRegistry is the constructor cmd/clusterwrap-demo and tests use
// to wire a Registry against a live Plugin Service: opener/pinger come from
// the service's driver, and markUnhealthy calls back into the service's
// availability tracking (spec §4.6, §4.2's setAvailability).
func NewServiceRegistry(opener ConnectionOpener, pinger Pinger, setAvailability func(key string, a host.Availability)) *Registry {
	return NewRegistry(opener, pinger, serviceMarkUnhealthy(setAvailability))
}
