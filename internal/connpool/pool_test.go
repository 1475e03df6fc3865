package connpool

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/dialect"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/props"
)

// fakeDriver is a minimal dialect.Driver stand-in that hands out a fresh
// sqlmock-backed *sql.DB per open call so the pool's reuse behavior can be
// asserted without a real Postgres instance.
type fakeDriver struct {
	opens int
}

var _ dialect.Driver = (*fakeDriver)(nil)

func (f *fakeDriver) Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	return f.open()
}

func (f *fakeDriver) open() (*sql.DB, error) {
	db, _, err := sqlmock.New()
	f.opens++
	return db, err
}

func (f *fakeDriver) Query(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (f *fakeDriver) Exec(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDriver) Ping(ctx context.Context, conn *sql.DB) error { return nil }
func (f *fakeDriver) End(conn *sql.DB) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
func (f *fakeDriver) IsClientValid(ctx context.Context, conn *sql.DB) bool { return true }
func (f *fakeDriver) PreparePoolProperties(p *props.Properties, cfg dialect.PoolConfig) *props.Properties {
	return p
}
func (f *fakeDriver) GetPoolClient(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	return f.open()
}
func (f *fakeDriver) SetKeepAlive(conn *sql.DB, enabled bool, interval time.Duration) error {
	return nil
}

func TestPoolReusesConnectionPerHost(t *testing.T) {
	drv := &fakeDriver{}
	pool := New(drv)

	h := host.New("a.example.com", 5432, "", host.RoleWriter)
	p := props.New()

	c1, err := pool.Get(context.Background(), h, p)
	require.NoError(t, err)
	c2, err := pool.Get(context.Background(), h, p)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, drv.opens)
	assert.Equal(t, 1, pool.Len())
}

func TestPoolEvictClosesConnection(t *testing.T) {
	drv := &fakeDriver{}
	pool := New(drv)

	h := host.New("a.example.com", 5432, "", host.RoleWriter)
	_, err := pool.Get(context.Background(), h, props.New())
	require.NoError(t, err)

	pool.Evict(h.Key())
	assert.Equal(t, 0, pool.Len())
}
