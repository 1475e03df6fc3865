package pluginchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	name string
	subs []OperationID
	log  *[]string
}

func (p *recordingPlugin) Name() string                 { return p.name }
func (p *recordingPlugin) Subscriptions() []OperationID { return p.subs }

func (p *recordingPlugin) Execute(ctx context.Context, op OperationID, args Args, next Next) (interface{}, error) {
	*p.log = append(*p.log, p.name+":before")
	result, err := next(ctx)
	*p.log = append(*p.log, p.name+":after")
	return result, err
}

func TestChainDispatchesOnlyToSubscribed(t *testing.T) {
	var log []string
	a := &recordingPlugin{name: "a", subs: []OperationID{OpQuery}, log: &log}
	b := &recordingPlugin{name: "b", subs: []OperationID{OpConnect}, log: &log}

	term := NewDefaultPlugin(func(ctx context.Context, op OperationID, args Args) (interface{}, error) {
		log = append(log, "terminal")
		return "ok", nil
	})

	c := New(term, a, b)
	result, err := c.Execute(context.Background(), OpQuery, Args{})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"a:before", "terminal", "a:after"}, log)
}

func TestChainShortCircuitSkipsTerminal(t *testing.T) {
	reached := false
	term := NewDefaultPlugin(func(ctx context.Context, op OperationID, args Args) (interface{}, error) {
		reached = true
		return nil, nil
	})

	blocker := &blockingPlugin{}
	c := New(term, blocker)

	_, err := c.Execute(context.Background(), OpConnect, Args{})
	require.Error(t, err)
	assert.False(t, reached)
}

type blockingPlugin struct{}

func (blockingPlugin) Name() string                 { return "blocker" }
func (blockingPlugin) Subscriptions() []OperationID { return []OperationID{OpConnect} }

func (blockingPlugin) Execute(ctx context.Context, op OperationID, args Args, next Next) (interface{}, error) {
	return nil, errors.New("blocked before reaching terminal")
}

// retryPlugin calls next twice, modeling failover retrying a query against
// a newly promoted writer after the first attempt's network error.
type retryPlugin struct {
	attempts *int
}

func (p *retryPlugin) Name() string                 { return "retry" }
func (p *retryPlugin) Subscriptions() []OperationID { return []OperationID{OpQuery} }

func (p *retryPlugin) Execute(ctx context.Context, op OperationID, args Args, next Next) (interface{}, error) {
	result, err := next(ctx)
	if err != nil {
		*p.attempts++
		return next(ctx)
	}
	return result, err
}

func TestChainAllowsMultipleNextInvocations(t *testing.T) {
	calls := 0
	attempts := 0

	term := NewDefaultPlugin(func(ctx context.Context, op OperationID, args Args) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return "recovered", nil
	})

	c := New(term, &retryPlugin{attempts: &attempts})
	result, err := c.Execute(context.Background(), OpQuery, Args{})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, attempts)
}
