package rwsplit

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/connprovider"
	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/pluginservice"
	"github.com/clusterwrap/driver/internal/props"
	"github.com/clusterwrap/driver/internal/sessionstate"
)

type fakeService struct {
	writerConn *sql.DB
	readerConn *sql.DB

	currentConn *sql.DB
	currentHost *host.Host

	connectErr map[string]error

	database dialect.Database

	listeners []pluginservice.ConnectionChangeListener
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	wConn, wMock, err := sqlmock.New()
	require.NoError(t, err)
	rConn, rMock, err := sqlmock.New()
	require.NoError(t, err)
	// Every switch replays the tracked session state (here the read-only
	// flag) onto its target connection with one Exec.
	for i := 0; i < 2; i++ {
		wMock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
		rMock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	return &fakeService{
		writerConn: wConn,
		readerConn: rConn,
		connectErr: map[string]error{},
		database:   dialect.NewPostgresDatabase(),
	}
}

func (f *fakeService) CurrentConnection() (*sql.DB, *host.Host) { return f.currentConn, f.currentHost }

func (f *fakeService) SetCurrentConnection(ctx context.Context, conn *sql.DB, h *host.Host) {
	old := f.currentHost
	f.currentConn, f.currentHost = conn, h
	for _, l := range f.listeners {
		l.NotifyConnectionChanged(old, h)
	}
}

func (f *fakeService) Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	if err, ok := f.connectErr[h.Key()]; ok && err != nil {
		return nil, err
	}
	var conn *sql.DB
	if h.Role == host.RoleReader {
		conn = f.readerConn
	} else {
		conn = f.writerConn
	}
	f.SetCurrentConnection(ctx, conn, h)
	return conn, nil
}

func (f *fakeService) GetHostInfoByStrategy(ctx context.Context, role host.Role, strategy connprovider.Strategy) (*host.Host, error) {
	if role == host.RoleReader {
		return host.New("reader1", 5432, "reader1", host.RoleReader), nil
	}
	return host.New("writer1", 5432, "writer1", host.RoleWriter), nil
}

func (f *fakeService) Database() dialect.Database { return f.database }

func (f *fakeService) SubscribeConnectionChange(l pluginservice.ConnectionChangeListener) {
	f.listeners = append(f.listeners, l)
}

func testPlugin(t *testing.T) (*Plugin, *fakeService) {
	svc := newFakeService(t)
	strategy, err := connprovider.New(connprovider.NameRandom)
	require.NoError(t, err)
	p := NewPlugin(svc, strategy, sessionstate.New())
	return p, svc
}

func connectWriter(t *testing.T, p *Plugin, svc *fakeService) {
	t.Helper()
	_, err := p.Execute(context.Background(), pluginchain.OpConnect, pluginchain.Args{
		Extra: map[string]interface{}{"host": host.New("writer1", 5432, "writer1", host.RoleWriter), "props": props.New()},
	}, func(ctx context.Context) (interface{}, error) {
		svc.SetCurrentConnection(ctx, svc.writerConn, host.New("writer1", 5432, "writer1", host.RoleWriter))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestSwitchToReaderOnSetReadOnly(t *testing.T) {
	p, svc := testPlugin(t)
	connectWriter(t, p, svc)

	args := pluginchain.Args{
		Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY",
		Extra: map[string]interface{}{"props": props.New()},
	}
	reached := false
	_, err := p.Execute(context.Background(), pluginchain.OpExec, args, func(ctx context.Context) (interface{}, error) {
		reached = true
		return nil, nil
	})

	require.NoError(t, err)
	assert.True(t, reached)
	assert.True(t, p.CurrentIsReader())
	conn, h := svc.CurrentConnection()
	assert.Equal(t, svc.readerConn, conn)
	assert.Equal(t, "reader1:5432", h.Key())
}

func TestSwitchBackToWriterReusesCachedWriter(t *testing.T) {
	p, svc := testPlugin(t)
	connectWriter(t, p, svc)

	switchArgs := pluginchain.Args{Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY", Extra: map[string]interface{}{"props": props.New()}}
	_, err := p.Execute(context.Background(), pluginchain.OpExec, switchArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	require.True(t, p.CurrentIsReader())

	backArgs := pluginchain.Args{Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE", Extra: map[string]interface{}{"props": props.New()}}
	_, err = p.Execute(context.Background(), pluginchain.OpExec, backArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	assert.False(t, p.CurrentIsReader())
	conn, _ := svc.CurrentConnection()
	assert.Equal(t, svc.writerConn, conn)
}

func TestSwitchToWriterRejectedMidTransaction(t *testing.T) {
	p, svc := testPlugin(t)
	connectWriter(t, p, svc)

	switchArgs := pluginchain.Args{Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY", Extra: map[string]interface{}{"props": props.New()}}
	_, err := p.Execute(context.Background(), pluginchain.OpExec, switchArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	beginArgs := pluginchain.Args{Query: "BEGIN"}
	_, err = p.Execute(context.Background(), pluginchain.OpExec, beginArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	backArgs := pluginchain.Args{Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE", Extra: map[string]interface{}{"props": props.New()}}
	_, err = p.Execute(context.Background(), pluginchain.OpExec, backArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.Error(t, err)
	assert.True(t, p.CurrentIsReader(), "must stay on the reader target while mid-transaction")
}

func TestWriterConnectionPreservedAcrossSwitch(t *testing.T) {
	p, svc := testPlugin(t)
	connectWriter(t, p, svc)

	switchArgs := pluginchain.Args{Query: "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY", Extra: map[string]interface{}{"props": props.New()}}
	_, err := p.Execute(context.Background(), pluginchain.OpExec, switchArgs, func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	assert.False(t, svc.writerConn == nil)
	p.mu.Lock()
	assert.Equal(t, svc.writerConn, p.writerTarget)
	p.mu.Unlock()
}
