// Package pluginchain implements the Plugin Chain (C8): subscription-
// filtered, ordered dispatch of every driver operation through the plugins
// that asked to see it, terminating at a DefaultPlugin that performs the
// real work. The subscription-keyed dispatch is adapted from the teacher's
// internal/plugins/event_bus.go (event-type-prefixed subscriber lists);
// where the event bus fires-and-forgets, a chain link calls forward through
// a continuation and can inspect or retry what comes back.
package pluginchain

import (
	"context"

	"github.com/LK4D4/joincontext"
)

// OperationID names one interceptable driver operation (spec §6: "connect",
// "execute", "query", "notifyHostListChanged", and so on).
type OperationID string

const (
	OpConnect                 OperationID = "connect"
	OpForceConnect            OperationID = "force_connect"
	OpQuery                   OperationID = "query"
	OpExec                    OperationID = "exec"
	OpCommit                  OperationID = "commit"
	OpRollback                OperationID = "rollback"
	OpSetReadOnly             OperationID = "set_read_only"
	OpPing                    OperationID = "ping"
	OpClose                   OperationID = "close"
	OpEnd                     OperationID = "end"
	OpNotifyHostListChanged   OperationID = "notify_host_list_changed"
	OpNotifyConnectionChanged OperationID = "notify_connection_changed"
	OpAcceptsStrategy         OperationID = "accepts_strategy"
)

// Args carries an operation's input. Only the fields relevant to op are
// populated; plugins type-assert/narrow based on op.
type Args struct {
	Query string
	Params []interface{}
	Extra  map[string]interface{}
}

// Next is the continuation a plugin calls to run the remainder of the
// chain. It is a plain closure rather than a composed, pre-built function
// value because a failover plugin (C12) may legitimately call it more than
// once — once to observe the original network failure, again after it has
// reconnected to a new writer (spec §4.1, §4.5).
type Next func(ctx context.Context) (interface{}, error)

// Plugin is one link in the chain (spec §6, C8).
type Plugin interface {
	Name() string

	// Subscriptions lists the operations this plugin wants to intercept.
	// An empty/nil list means "subscribe to nothing," which is valid for
	// plugins that only act on lifecycle notifications delivered outside
	// the chain (e.g. a plugin that only listens for host list changes).
	Subscriptions() []OperationID

	// Execute runs this plugin's logic for op, calling next to continue the
	// chain (zero or more times) or returning without calling it to short-
	// circuit.
	Execute(ctx context.Context, op OperationID, args Args, next Next) (interface{}, error)
}

// Chain holds an ordered set of plugins plus the terminal DefaultPlugin.
// Order is the order plugins were added in (spec §6: plugin order is
// caller-controlled and deterministic, not sorted).
type Chain struct {
	plugins []Plugin
	term    Plugin
}

// New builds a Chain terminating at term (normally a DefaultPlugin wrapping
// the real dialect/connection operation).
func New(term Plugin, plugins ...Plugin) *Chain {
	return &Chain{plugins: plugins, term: term}
}

// sublistFor returns the plugins subscribed to op, in chain order, with the
// terminal plugin appended last.
func (c *Chain) sublistFor(op OperationID) []Plugin {
	sub := make([]Plugin, 0, len(c.plugins)+1)
	for _, p := range c.plugins {
		for _, want := range p.Subscriptions() {
			if want == op {
				sub = append(sub, p)
				break
			}
		}
	}
	return append(sub, c.term)
}

// Execute dispatches op through every plugin subscribed to it, in order,
// each wrapped as the next plugin's continuation, finally invoking the
// terminal plugin. Whenever a plugin calls next with a ctx of its own, that
// ctx is joined with the ctx the plugin itself received using joincontext,
// so the links further down respect whichever deadline or cancellation
// comes first (spec §5: "the most restrictive of the wrapper's own timeout
// and any plugin-imposed one"). The chain applies no timeout of its own.
func (c *Chain) Execute(ctx context.Context, op OperationID, args Args) (interface{}, error) {
	sublist := c.sublistFor(op)
	return runFrom(ctx, sublist, 0, op, args)
}

func runFrom(ctx context.Context, sublist []Plugin, idx int, op OperationID, args Args) (interface{}, error) {
	if idx >= len(sublist) {
		return nil, nil
	}
	p := sublist[idx]
	next := func(nextCtx context.Context) (interface{}, error) {
		merged, cancel := mergeDeadline(ctx, nextCtx)
		defer cancel()
		return runFrom(merged, sublist, idx+1, op, args)
	}
	return p.Execute(ctx, op, args, next)
}

// mergeDeadline combines two contexts' deadlines using LK4D4/joincontext,
// so a plugin that narrows the deadline on its way through (e.g. failover
// applying a per-attempt reader-connect timeout) can never widen it back
// out for links further down the chain.
func mergeDeadline(a, b context.Context) (context.Context, context.CancelFunc) {
	if a == b {
		return a, func() {}
	}
	return joincontext.Join(a, b)
}
