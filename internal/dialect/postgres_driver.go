package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/props"
)

var (
	hostnameRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-.]{0,253}[a-zA-Z0-9])?$`)
	identRE    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// PostgresDriver is the Driver Dialect (C4) adapter for PostgreSQL, built on
// database/sql + github.com/lib/pq. DSN construction and config validation
// are adapted from the teacher's internal/db/database.go validateConfig,
// generalized from a single fixed connection to per-host connections the
// connection provider (C9) opens on demand.
type PostgresDriver struct {
	mu    sync.Mutex
	pools map[string]*sql.DB // keyed by host:port, C10's pool keying
}

func NewPostgresDriver() *PostgresDriver {
	return &PostgresDriver{pools: make(map[string]*sql.DB)}
}

var _ Driver = (*PostgresDriver)(nil)
var _ DSNBuilder = (*PostgresDriver)(nil)

// validateIdentity rejects hosts/users/databases that don't look like
// identities, the same defense-in-depth the teacher's validateConfig applies
// before building a connection string (prevents a malformed Host record from
// smuggling extra DSN parameters).
func validateIdentity(h *host.Host, user, database string) error {
	if h.Endpoint == "" {
		return errs.ConfigurationError("postgres: host endpoint cannot be empty")
	}
	if net.ParseIP(h.Endpoint) == nil && !hostnameRE.MatchString(h.Endpoint) {
		return errs.ConfigurationError(fmt.Sprintf("postgres: invalid host endpoint %q", h.Endpoint))
	}
	if h.Port < 1 || h.Port > 65535 {
		return errs.ConfigurationError(fmt.Sprintf("postgres: invalid port %d", h.Port))
	}
	if user != "" && !identRE.MatchString(user) {
		return errs.ConfigurationError(fmt.Sprintf("postgres: invalid user %q", user))
	}
	if database != "" && !identRE.MatchString(database) {
		return errs.ConfigurationError(fmt.Sprintf("postgres: invalid database name %q", database))
	}
	return nil
}

func (d *PostgresDriver) DSN(h *host.Host, p *props.Properties) string {
	user := p.GetString("user")
	password := p.GetString("password")
	database := p.GetStringDefault("database", "postgres")
	sslmode := p.GetStringDefault("sslmode", "require")

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		h.Endpoint, h.Port, user, password, database, sslmode,
		int(p.GetDuration("wrapperConnectTimeoutMs", 30*time.Second).Seconds()),
	)
}

func (d *PostgresDriver) Connect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	if err := validateIdentity(h, p.GetString("user"), p.GetStringDefault("database", "postgres")); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", d.DSN(h, p))
	if err != nil {
		return nil, errs.NetworkError(err, "postgres: open failed for "+h.Key())
	}

	cfg := PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	d.applyPool(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.NetworkError(err, "postgres: ping failed for "+h.Key())
	}
	return db, nil
}

func (d *PostgresDriver) applyPool(db *sql.DB, cfg PoolConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func (d *PostgresDriver) Query(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *PostgresDriver) Exec(ctx context.Context, conn *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	return conn.ExecContext(ctx, query, args...)
}

func (d *PostgresDriver) Ping(ctx context.Context, conn *sql.DB) error {
	return conn.PingContext(ctx)
}

func (d *PostgresDriver) End(conn *sql.DB) error {
	if conn == nil {
		return nil
	}
	d.mu.Lock()
	for key, db := range d.pools {
		if db == conn {
			delete(d.pools, key)
		}
	}
	d.mu.Unlock()
	return conn.Close()
}

func (d *PostgresDriver) IsClientValid(ctx context.Context, conn *sql.DB) bool {
	if conn == nil {
		return false
	}
	return conn.PingContext(ctx) == nil
}

func (d *PostgresDriver) PreparePoolProperties(p *props.Properties, cfg PoolConfig) *props.Properties {
	out := p.Clone()
	out.Set("pool.maxOpenConns", cfg.MaxOpenConns)
	out.Set("pool.maxIdleConns", cfg.MaxIdleConns)
	out.Set("pool.connMaxLifetimeMs", cfg.ConnMaxLifetime.Milliseconds())
	return out
}

func (d *PostgresDriver) GetPoolClient(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error) {
	key := h.Key()

	d.mu.Lock()
	if db, ok := d.pools[key]; ok {
		d.mu.Unlock()
		return db, nil
	}
	d.mu.Unlock()

	db, err := d.Connect(ctx, h, p)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if existing, ok := d.pools[key]; ok {
		d.mu.Unlock()
		db.Close()
		return existing, nil
	}
	d.pools[key] = db
	d.mu.Unlock()
	return db, nil
}

// SetKeepAlive is a no-op for Postgres that always succeeds: enabled and
// interval are ignored and conn is left as it is (database/sql has no
// portable post-open keepalive knob).
func (d *PostgresDriver) SetKeepAlive(conn *sql.DB, enabled bool, interval time.Duration) error {
	// lib/pq connections already default keepalives on; nothing is flipped
	// post-open and the connection is not reopened.
	return nil
}
