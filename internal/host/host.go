// Package host implements the Host Model (spec §3 Host / Topology Snapshot):
// identity, role, availability, weight and aliases for one database instance,
// and the immutable, atomically-swapped snapshot of a cluster's hosts.
package host

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Role is a host's position in the cluster topology.
type Role int

const (
	RoleUnknown Role = iota
	RoleWriter
	RoleReader
)

func (r Role) String() string {
	switch r {
	case RoleWriter:
		return "WRITER"
	case RoleReader:
		return "READER"
	default:
		return "UNKNOWN"
	}
}

// Availability is advisory (spec §4.4): selectors prefer AVAILABLE hosts but
// widen to NOT_AVAILABLE ones rather than treat it as a hard fence.
type Availability int

const (
	Unavailable Availability = iota
	Available
)

// Host is one routable database instance endpoint (spec §3). Equality is by
// Endpoint:Port (spec §3's "Equality by host:port").
type Host struct {
	Endpoint     string
	Port         int
	HostID       string // instance identifier, e.g. an RDS instance name
	Role         Role
	Availability Availability
	Weight       float64
	LastUpdate   time.Time
	Aliases      map[string]struct{}

	// availability is mutated in place by SetAvailability so that a Host
	// value held by a published snapshot can be updated without forcing a full topology republish for every ping
	// result; everything else on Host is treated as immutable once
	// published, per spec §3's "Immutable once published" rule for the
	// snapshot as a whole.
	availability atomic.Int32
}

// New creates a Host with the given identity and role, defaulting to
// Available (the initial assumption until a probe says otherwise).
func New(endpoint string, port int, hostID string, role Role) *Host {
	h := &Host{
		Endpoint: endpoint,
		Port:     port,
		HostID:   hostID,
		Role:     role,
		Weight:   1,
		Aliases:  make(map[string]struct{}),
	}
	h.availability.Store(int32(Available))
	return h
}

// Key returns the host:port identity used for equality (spec §3).
func (h *Host) Key() string {
	return fmt.Sprintf("%s:%d", h.Endpoint, h.Port)
}

func (h *Host) GetAvailability() Availability {
	if h == nil {
		return Unavailable
	}
	return Availability(h.availability.Load())
}

func (h *Host) SetAvailability(a Availability) {
	h.availability.Store(int32(a))
}

func (h *Host) HasAlias(alias string) bool {
	_, ok := h.Aliases[alias]
	return ok
}

func (h *Host) AddAlias(alias string) {
	if h.Aliases == nil {
		h.Aliases = make(map[string]struct{})
	}
	h.Aliases[alias] = struct{}{}
}

func (h *Host) String() string {
	return fmt.Sprintf("%s (role=%s, availability=%d, id=%s)", h.Key(), h.Role, h.availability.Load(), h.HostID)
}

// Snapshot is an ordered, immutable Topology Snapshot (spec §3): element [0]
// is the writer if one exists. Once constructed a Snapshot's Hosts slice and
// the Host values it references for Role/Endpoint/Port/HostID are never
// mutated; only Availability is allowed to change after publication (see
// Host.SetAvailability), which is why Availability lives behind an atomic.
type Snapshot struct {
	Hosts     []*Host
	CreatedAt time.Time
}

// NewSnapshot orders hosts with the writer (if any) first, enforcing the
// invariant from spec §3 and §8 that at most one host carries role=WRITER:
// if more than one row claims WRITER (spec §4.3's writer election), the
// caller must have already downgraded all but the most-recently-updated one
// before calling NewSnapshot, which asserts the invariant rather than
// silently fixing it up.
func NewSnapshot(hosts []*Host) (*Snapshot, error) {
	writers := 0
	for _, h := range hosts {
		if h.Role == RoleWriter {
			writers++
		}
	}
	if writers > 1 {
		return nil, fmt.Errorf("host: %d hosts claim role=WRITER, invariant allows at most one", writers)
	}

	ordered := make([]*Host, len(hosts))
	copy(ordered, hosts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Role == RoleWriter && ordered[j].Role != RoleWriter
	})

	return &Snapshot{Hosts: ordered, CreatedAt: time.Now()}, nil
}

// Writer returns the snapshot's writer host, or nil if the topology has none
// (e.g. mid-failover).
func (s *Snapshot) Writer() *Host {
	if s == nil || len(s.Hosts) == 0 {
		return nil
	}
	if s.Hosts[0].Role == RoleWriter {
		return s.Hosts[0]
	}
	return nil
}

// Readers returns every host with role=READER.
func (s *Snapshot) Readers() []*Host {
	if s == nil {
		return nil
	}
	out := make([]*Host, 0, len(s.Hosts))
	for _, h := range s.Hosts {
		if h.Role == RoleReader {
			out = append(out, h)
		}
	}
	return out
}

// ByKey finds a host by its host:port identity.
func (s *Snapshot) ByKey(key string) *Host {
	if s == nil {
		return nil
	}
	for _, h := range s.Hosts {
		if h.Key() == key {
			return h
		}
	}
	return nil
}

// Box holds an atomically-swappable *Snapshot reference so readers never
// observe a partial blend of two topology versions (spec §5's ordering
// guarantee: "readers either see the old complete snapshot or the new
// complete snapshot, never a partial blend").
type Box struct {
	mu  sync.RWMutex
	ptr *Snapshot
}

func (b *Box) Load() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ptr
}

func (b *Box) Store(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ptr = s
}
