package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/armon/circbuf"

	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/props"
)

// historyBufferSize bounds the diagnostic ping-history buffer kept per
// monitor so a long-lived, permanently wedged host can't grow its monitor's
// memory without bound.
const historyBufferSize = 4096

// ConnectionOpener is the subset of the Plugin Service (C7) a Monitor needs:
// opening a dedicated connection that bypasses the plugin chain entirely
// (spec §4.6: "MUST be opened via forceConnect... so it bypasses the plugin
// chain, no recursion into EFM").
type ConnectionOpener interface {
	ForceConnect(ctx context.Context, h *host.Host, p *props.Properties) (*sql.DB, error)
}

// Pinger is the subset of the Driver Dialect (C4) a Monitor needs to probe
// and release its dedicated connection.
type Pinger interface {
	Ping(ctx context.Context, conn *sql.DB) error
	End(conn *sql.DB) error
}

// Monitor owns the background poll loop for one host (spec §3 Monitor,
// §4.6). Exactly one Monitor exists per host key (endpoint:port) at a time,
// managed by the Registry.
type Monitor struct {
	host        *host.Host
	opener      ConnectionOpener
	pinger      Pinger
	monitorProp *props.Properties
	disposeTime time.Duration
	markUnhealthy func(hostKey string)

	history *circbuf.Buffer

	mu        sync.Mutex
	newQueue  []*Context
	active    []*Context
	conn      *sql.DB
	idleSince time.Time

	stop chan struct{}
	done chan struct{}
}

// NewMonitor builds a Monitor for h. It does not start polling until Run is
// called (typically by the Registry, once, when GetOrCreate creates it).
func NewMonitor(h *host.Host, opener ConnectionOpener, pinger Pinger, monitorProps *props.Properties, disposeTime time.Duration, markUnhealthy func(hostKey string)) *Monitor {
	buf, _ := circbuf.NewBuffer(historyBufferSize)
	return &Monitor{
		host:          h,
		opener:        opener,
		pinger:        pinger,
		monitorProp:   monitorProps,
		disposeTime:   disposeTime,
		markUnhealthy: markUnhealthy,
		history:       buf,
		idleSince:     time.Now(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Submit enqueues a new Context for this host's monitor.
func (m *Monitor) Submit(c *Context) {
	m.mu.Lock()
	m.newQueue = append(m.newQueue, c)
	m.idleSince = time.Time{}
	m.mu.Unlock()
}

// Run executes the monitor's sleep/poll loop until Stop is called or the
// monitor self-terminates after disposeTime of inactivity. Run is meant to
// be launched with `go monitor.Run()` by the Registry; Done reports when it
// has exited so the registry can evict it.
func (m *Monitor) Run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			m.closeConn()
			return
		default:
		}

		if m.tick() {
			m.closeConn()
			return
		}
	}
}

// Done reports whether the monitor's loop has exited (self-disposed or
// stopped).
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Stop requests the monitor's loop exit promptly.
func (m *Monitor) Stop() { close(m.stop) }

// tick runs one iteration of the loop, returning true if the monitor should
// terminate (spec §4.6's disposal rule).
func (m *Monitor) tick() (terminate bool) {
	m.promoteReady()
	m.dropInactive()

	active := m.snapshotActive()
	if len(active) == 0 {
		if !m.idleSince.IsZero() && time.Since(m.idleSince) > m.disposeTime {
			return true
		}
		if m.idleSince.IsZero() {
			m.mu.Lock()
			m.idleSince = time.Now()
			m.mu.Unlock()
		}
		time.Sleep(sleepWhenInactive)
		return false
	}

	m.mu.Lock()
	m.idleSince = time.Time{}
	m.mu.Unlock()

	start := time.Now()
	valid := m.ping()
	end := time.Now()
	elapsed := end.Sub(start)

	m.recordHistory(valid, elapsed)

	minInterval := active[0].FailureDetectionInterval
	for _, c := range active {
		if c.FailureDetectionInterval < minInterval {
			minInterval = c.FailureDetectionInterval
		}
		if c.updateConnectionStatus(start, end, valid) {
			m.markUnhealthy(m.host.Key())
			c.abort()
		}
	}

	sleep := minInterval - elapsed
	if sleep < minConnectionCheckTimeout {
		sleep = minConnectionCheckTimeout
	}
	time.Sleep(sleep)
	return false
}

// promoteReady moves new-queue contexts whose grace period has elapsed into
// the active queue, re-enqueueing the rest (spec §4.6 step 1).
func (m *Monitor) promoteReady() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var stillNew []*Context
	for _, c := range m.newQueue {
		if c.isDone() {
			continue
		}
		if !now.Before(c.readyAt()) {
			m.active = append(m.active, c)
		} else {
			stillNew = append(stillNew, c)
		}
	}
	m.newQueue = stillNew
}

// dropInactive removes contexts whose call has already returned from both
// queues (spec §4.6: "marked inactive on method return").
func (m *Monitor) dropInactive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = filterContexts(m.active)
	m.newQueue = filterContexts(m.newQueue)
}

func filterContexts(cs []*Context) []*Context {
	out := cs[:0]
	for _, c := range cs {
		if !c.isDone() {
			out = append(out, c)
		}
	}
	return out
}

func (m *Monitor) snapshotActive() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, len(m.active))
	copy(out, m.active)
	return out
}

// ping performs one probe against the dedicated monitoring connection,
// opening it lazily and discarding it on failure so the next tick reopens
// fresh (spec §4.6: "closed... after a failed ping").
func (m *Monitor) ping() bool {
	conn, err := m.connection()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), minConnectionCheckTimeout)
	defer cancel()
	if err := m.pinger.Ping(ctx, conn); err != nil {
		m.closeConn()
		return false
	}
	return true
}

func (m *Monitor) connection() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.opener.ForceConnect(context.Background(), m.host, m.monitorProp)
	if err != nil {
		logger.Monitoring().Warn().Str("host", m.host.Key()).Err(err).Msg("failed to open monitoring connection")
		return nil, err
	}
	m.conn = conn
	return conn, nil
}

func (m *Monitor) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = m.pinger.End(conn)
	}
}

func (m *Monitor) recordHistory(valid bool, elapsed time.Duration) {
	status := "ok"
	if !valid {
		status = "fail"
	}
	fmt.Fprintf(m.history, "%s host=%s status=%s elapsed=%s\n", time.Now().Format(time.RFC3339), m.host.Key(), status, elapsed)
}

// History returns the monitor's recent ping/status diagnostic log.
func (m *Monitor) History() string {
	if m.history == nil {
		return ""
	}
	return string(m.history.Bytes())
}
