package monitoring

import (
	"sync"
	"time"

	"github.com/clusterwrap/driver/internal/config"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/props"
)

var (
	sleepWhenInactive        = config.SleepWhenInactive
	minConnectionCheckTimeout = config.MinConnectionCheckTimeout
)

// Registry is the process-wide Monitor registry, keyed by host.Host.Key()
// (endpoint:port), with idempotent creation (spec §5: "Monitor registry:
// keyed by host-id; creation is idempotent").
type Registry struct {
	mu       sync.Mutex
	monitors map[string]*Monitor

	opener      ConnectionOpener
	pinger      Pinger
	markUnhealthy func(hostKey string)
}

// NewRegistry builds a Registry. opener/pinger back every Monitor it
// creates; markUnhealthy is invoked when a Monitor decides a host is
// unhealthy (typically pluginservice.Service.SetAvailability).
func NewRegistry(opener ConnectionOpener, pinger Pinger, markUnhealthy func(hostKey string)) *Registry {
	return &Registry{
		monitors:      make(map[string]*Monitor),
		opener:        opener,
		pinger:        pinger,
		markUnhealthy: markUnhealthy,
	}
}

// GetOrCreate returns the Monitor for h, lazily creating and starting it if
// this is the first context ever submitted for that host (spec §4.6:
// "lazily created on first context").
func (r *Registry) GetOrCreate(h *host.Host, monitorProps *props.Properties, disposeTime time.Duration) *Monitor {
	key := h.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.monitors[key]; ok {
		select {
		case <-m.Done():
			// Prior monitor self-terminated; fall through and replace it.
		default:
			return m
		}
	}

	m := NewMonitor(h, r.opener, r.pinger, monitorProps, disposeTime, r.markUnhealthy)
	r.monitors[key] = m
	go r.runAndEvict(key, m)
	return m
}

func (r *Registry) runAndEvict(key string, m *Monitor) {
	m.Run()
	r.mu.Lock()
	if r.monitors[key] == m {
		delete(r.monitors, key)
	}
	r.mu.Unlock()
}

// Len reports how many monitors are currently registered, for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// StopAll stops every registered monitor, for orderly shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}
}
