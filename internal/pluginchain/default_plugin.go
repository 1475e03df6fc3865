package pluginchain

import "context"

// TerminalFunc performs an operation's real work, with no further chain
// links to call. Its ctx already carries any deadline the links before it
// passed to next.
type TerminalFunc func(ctx context.Context, op OperationID, args Args) (interface{}, error)

// DefaultPlugin is the chain's terminal link (spec §6: "a chain MUST
// terminate in a default handler that performs the operation against the
// real connection"). It never calls next; there is nothing after it.
type DefaultPlugin struct {
	do TerminalFunc
}

var _ Plugin = (*DefaultPlugin)(nil)

func NewDefaultPlugin(do TerminalFunc) *DefaultPlugin {
	return &DefaultPlugin{do: do}
}

func (d *DefaultPlugin) Name() string                 { return "default" }
func (d *DefaultPlugin) Subscriptions() []OperationID { return nil }

func (d *DefaultPlugin) Execute(ctx context.Context, op OperationID, args Args, next Next) (interface{}, error) {
	return d.do(ctx, op, args)
}
