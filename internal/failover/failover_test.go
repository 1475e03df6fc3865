package failover

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/config"
	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
	"github.com/clusterwrap/driver/internal/sessionstate"
)

type fakeService struct {
	snapshots   []*host.Snapshot
	refreshIdx  int
	refreshErr  error
	connectErr  map[string]error
	conn        *sql.DB
	availability map[string]host.Availability
	database    dialect.Database
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	return &fakeService{
		connectErr:   map[string]error{},
		conn:         db,
		availability: map[string]host.Availability{},
		database:     dialect.NewPostgresDatabase(),
	}
}

func (f *fakeService) ForceRefreshHostList(ctx context.Context) (*host.Snapshot, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshIdx >= len(f.snapshots) {
		return f.snapshots[len(f.snapshots)-1], nil
	}
	snap := f.snapshots[f.refreshIdx]
	f.refreshIdx++
	return snap, nil
}

func (f *fakeService) Topology() *host.Snapshot {
	if len(f.snapshots) == 0 {
		return nil
	}
	idx := f.refreshIdx - 1
	if idx < 0 {
		idx = 0
	}
	return f.snapshots[idx]
}

func (f *fakeService) Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	if err, ok := f.connectErr[h.Key()]; ok && err != nil {
		return nil, err
	}
	return f.conn, nil
}

func (f *fakeService) CurrentConnection() (*sql.DB, *host.Host) { return f.conn, nil }
func (f *fakeService) Database() dialect.Database                { return f.database }
func (f *fakeService) IsNetworkError(err error) bool              { return errs.Is(err, errs.KindNetwork) }

func (f *fakeService) SetAvailability(key string, a host.Availability) {
	f.availability[key] = a
}

func writerHost(key string) *host.Host {
	return host.New(key, 5432, key, host.RoleWriter)
}

func readerHost(key string) *host.Host {
	return host.New(key, 5432, key, host.RoleReader)
}

func mustSnapshot(t *testing.T, hosts ...*host.Host) *host.Snapshot {
	t.Helper()
	snap, err := host.NewSnapshot(hosts)
	require.NoError(t, err)
	return snap
}

func testPlugin(svc PluginService, mode string) *Plugin {
	strategy, _ := connprovider.New(connprovider.NameRandom)
	cfg := config.FailoverConfig{
		Mode:                      mode,
		TimeoutMs:                 200 * time.Millisecond,
		WriterReconnectIntervalMs: time.Millisecond,
		ReaderConnectTimeoutMs:    50 * time.Millisecond,
		Enabled:                   true,
	}
	return NewPlugin(svc, strategy, sessionstate.New(), cfg)
}

func TestExecutePassesThroughOnSuccess(t *testing.T) {
	svc := newFakeService(t)
	p := testPlugin(svc, config.FailoverModeReaderOrWriter)

	result, err := p.Execute(context.Background(), pluginchain.OpQuery, pluginchain.Args{}, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateNormal, p.State())
}

func TestExecuteIgnoresNonNetworkErrors(t *testing.T) {
	svc := newFakeService(t)
	p := testPlugin(svc, config.FailoverModeReaderOrWriter)

	wantErr := errs.SyntaxError(errors.New("bad sql"), "syntax error")
	_, err := p.Execute(context.Background(), pluginchain.OpQuery, pluginchain.Args{}, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, StateNormal, p.State())
}

func TestWriterFailoverSucceedsOnNewWriter(t *testing.T) {
	svc := newFakeService(t)
	before := mustSnapshot(t, writerHost("w1"), readerHost("r1"))
	after := mustSnapshot(t, writerHost("w2"), readerHost("r1"))
	svc.snapshots = []*host.Snapshot{before, after}

	p := testPlugin(svc, config.FailoverModeStrictWriter)
	args := pluginchain.Args{Extra: map[string]interface{}{"host": writerHost("w1"), "props": props.New()}}

	_, err := p.Execute(context.Background(), pluginchain.OpQuery, args, func(ctx context.Context) (interface{}, error) {
		return nil, errs.NetworkError(errors.New("connection reset"), "read failed")
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindFailoverSuccess))
	assert.Equal(t, StateReconnected, p.State())
	assert.Equal(t, host.Available, svc.availability["w2:5432"])
}

func TestWriterFailoverInTransactionRaisesTransactionResolutionUnknown(t *testing.T) {
	svc := newFakeService(t)
	before := mustSnapshot(t, writerHost("w1"))
	after := mustSnapshot(t, writerHost("w2"))
	svc.snapshots = []*host.Snapshot{before, after}

	p := testPlugin(svc, config.FailoverModeStrictWriter)
	args := pluginchain.Args{Query: "BEGIN", Extra: map[string]interface{}{"host": writerHost("w1"), "props": props.New()}}

	_, err := p.Execute(context.Background(), pluginchain.OpExec, args, func(ctx context.Context) (interface{}, error) {
		return nil, errs.NetworkError(errors.New("connection reset"), "read failed")
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTransactionResolutionUnknown))
}

func TestWriterFailoverFailsAfterDeadline(t *testing.T) {
	svc := newFakeService(t)
	same := mustSnapshot(t, writerHost("w1"))
	svc.snapshots = []*host.Snapshot{same}

	p := testPlugin(svc, config.FailoverModeStrictWriter)
	p.cfg.TimeoutMs = 20 * time.Millisecond
	p.cfg.WriterReconnectIntervalMs = 5 * time.Millisecond
	args := pluginchain.Args{Extra: map[string]interface{}{"host": writerHost("w1"), "props": props.New()}}

	_, err := p.Execute(context.Background(), pluginchain.OpQuery, args, func(ctx context.Context) (interface{}, error) {
		return nil, errs.NetworkError(errors.New("connection reset"), "read failed")
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindFailoverFailed))
	assert.Equal(t, StateFailed, p.State())
}

func TestReaderFailoverFallsBackToWriter(t *testing.T) {
	svc := newFakeService(t)
	snap := mustSnapshot(t, writerHost("w1"), readerHost("r1"))
	svc.snapshots = []*host.Snapshot{snap, snap}
	svc.connectErr["r1:5432"] = errors.New("no route to host")

	p := testPlugin(svc, config.FailoverModeReaderOrWriter)
	args := pluginchain.Args{Extra: map[string]interface{}{"host": readerHost("r1"), "props": props.New()}}

	_, err := p.Execute(context.Background(), pluginchain.OpQuery, args, func(ctx context.Context) (interface{}, error) {
		return nil, errs.NetworkError(errors.New("connection reset"), "read failed")
	})

	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindFailoverSuccess))
	assert.Equal(t, host.Available, svc.availability["w1:5432"])
}

