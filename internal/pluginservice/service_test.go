package pluginservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/hostlist"
)

func newTestService(t *testing.T) (*Service, *hostlist.Cache) {
	t.Helper()
	provider, err := hostlist.NewStaticProvider("cluster-1", "writer.example.com:5432,reader.example.com:5432", 5432)
	require.NoError(t, err)

	cache := hostlist.NewCache(time.Minute)
	reg := dialect.NewRegistry()
	svc := New(dialect.NewPostgresDriver(), provider, cache, reg)
	return svc, cache
}

func TestGetHostInfoByStrategyFiltersByRole(t *testing.T) {
	svc, _ := newTestService(t)
	strategy, err := connprovider.New(connprovider.NameRandom)
	require.NoError(t, err)

	h, err := svc.GetHostInfoByStrategy(context.Background(), host.RoleWriter, strategy)
	require.NoError(t, err)
	assert.Equal(t, "writer.example.com", h.Endpoint)

	h, err = svc.GetHostInfoByStrategy(context.Background(), host.RoleReader, strategy)
	require.NoError(t, err)
	assert.Equal(t, "reader.example.com", h.Endpoint)
}

func TestIsNetworkErrorClassifiesConnectionFailure(t *testing.T) {
	svc, _ := newTestService(t)
	err := errs.NetworkError(errs.New(errs.KindUnknown, "connection reset by peer"), "read failed")
	assert.True(t, svc.IsNetworkError(err))
}

func TestIsLoginErrorClassifiesAuthFailure(t *testing.T) {
	svc, _ := newTestService(t)
	err := errs.LoginError(errs.New(errs.KindUnknown, "password authentication failed for user"), "connect failed")
	assert.True(t, svc.IsLoginError(err))
}

func TestSetCurrentConnectionDisposesWithoutUnanimousPreserve(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetCurrentConnection(context.Background(), nil, host.New("a", 5432, "", host.RoleWriter))

	votes := 0
	svc.SubscribeConnectionChange(voteFunc(func(oldHost, newHost *host.Host) ConnectionChangeOutcome {
		votes++
		return Dispose
	}))

	svc.SetCurrentConnection(context.Background(), nil, host.New("b", 5432, "", host.RoleWriter))
	assert.Equal(t, 1, votes)
}

// TestGetHostInfoByStrategyRaisesInternalErrorOnEmptyCandidates covers spec
// §8's boundary behaviour: "Empty host list ⇒ any getHostInfoByStrategy
// raises InternalError."
func TestGetHostInfoByStrategyRaisesInternalErrorOnEmptyCandidates(t *testing.T) {
	svc, cache := newTestService(t)
	strategy, err := connprovider.New(connprovider.NameRandom)
	require.NoError(t, err)

	// Publish a topology with only a reader, no writer: asking for
	// RoleWriter then yields an empty candidate list.
	readerOnly, err := host.NewSnapshot([]*host.Host{host.New("reader.example.com", 5432, "", host.RoleReader)})
	require.NoError(t, err)
	cache.Put("cluster-1", readerOnly)

	_, err = svc.GetHostInfoByStrategy(context.Background(), host.RoleWriter, strategy)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInternal))
}

type voteFunc func(oldHost, newHost *host.Host) ConnectionChangeOutcome

func (f voteFunc) NotifyConnectionChanged(oldHost, newHost *host.Host) ConnectionChangeOutcome {
	return f(oldHost, newHost)
}
