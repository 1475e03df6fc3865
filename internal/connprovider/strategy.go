// Package connprovider implements the Connection Provider (C9): picking
// which host a new connection should target from the current topology
// snapshot. Strategy selection is adapted from the teacher's
// internal/services.AgentSelector, which filters a candidate pool by
// criteria (cluster, region, connectivity) and then applies a preference
// (lowest load); here the filter is "available reader" and the preference
// is one of four pluggable strategies instead of always-lowest-load.
package connprovider

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
)

// Strategy selects one host out of candidates. Implementations must be safe
// for concurrent use; a single Strategy instance is shared across all
// connection requests for its reader pool.
type Strategy interface {
	Name() string
	Select(candidates []*host.Host) (*host.Host, error)
}

const (
	NameRandom          = "random"
	NameRoundRobin      = "round_robin"
	NameWeightedRandom  = "weighted_random"
	NameFastestResponse = "fastest_response"
)

// New constructs the named strategy (spec §6 lists these four as the
// built-in reader-selection strategies).
func New(name string) (Strategy, error) {
	switch name {
	case "", NameRandom:
		return &RandomStrategy{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
	case NameRoundRobin:
		return &RoundRobinStrategy{}, nil
	case NameWeightedRandom:
		return &WeightedRandomStrategy{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
	case NameFastestResponse:
		return NewFastestResponseStrategy(), nil
	default:
		return nil, errs.UnsupportedStrategyError(name)
	}
}

// configStrategyNames maps the readerHostSelectorStrategy spelling (spec §6:
// config.StrategyRandom/StrategyRoundRobin/StrategyWeightedRandom/
// StrategyFastestResponse, all camelCase) to this package's Name* constants.
// The two naming schemes diverge because this package's names were adapted
// from the teacher's internal/services.AgentSelector strategy tags (snake
// tokens), while the config keys keep the camelCase spelling spec §6 uses
// for every other option; New only understands its own tokens, so anything
// reading a configured strategy name must go through NewFromConfigName
// instead of New directly.
var configStrategyNames = map[string]string{
	"random":          NameRandom,
	"roundRobin":      NameRoundRobin,
	"weightedRandom":  NameWeightedRandom,
	"fastestResponse": NameFastestResponse,
}

// NewFromConfigName constructs the named strategy from a
// readerHostSelectorStrategy value as read out of Properties, translating
// its camelCase spelling to this package's Name* tokens before delegating
// to New.
func NewFromConfigName(configName string) (Strategy, error) {
	if configName == "" {
		return New(NameRandom)
	}
	name, ok := configStrategyNames[configName]
	if !ok {
		return nil, errs.UnsupportedStrategyError(configName)
	}
	return New(name)
}

// availableOnly filters candidates to those marked AVAILABLE. Per spec
// §4.4, availability is advisory, not a hard fence: when every candidate is
// NOT_AVAILABLE the filtered pool is empty and this widens back out to the
// full candidate list rather than leaving callers with nothing to select
// from.
func availableOnly(candidates []*host.Host) []*host.Host {
	out := make([]*host.Host, 0, len(candidates))
	for _, h := range candidates {
		if h.GetAvailability() == host.Available {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// RandomStrategy picks uniformly among available candidates.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *RandomStrategy) Name() string { return NameRandom }

func (s *RandomStrategy) Select(candidates []*host.Host) (*host.Host, error) {
	pool := availableOnly(candidates)
	if len(pool) == 0 {
		return nil, fmt.Errorf("connprovider: no available hosts to select from")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rng.Intn(len(pool))], nil
}

// RoundRobinStrategy cycles through available candidates in Key() order,
// remembering its position across calls.
type RoundRobinStrategy struct {
	mu   sync.Mutex
	next int
}

func (s *RoundRobinStrategy) Name() string { return NameRoundRobin }

func (s *RoundRobinStrategy) Select(candidates []*host.Host) (*host.Host, error) {
	pool := availableOnly(candidates)
	if len(pool) == 0 {
		return nil, fmt.Errorf("connprovider: no available hosts to select from")
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Key() < pool[j].Key() })

	s.mu.Lock()
	defer s.mu.Unlock()
	h := pool[s.next%len(pool)]
	s.next++
	return h, nil
}

// WeightedRandomStrategy picks among available candidates with probability
// proportional to host.Host.Weight (spec §6: "weight defaults to 1,
// configurable per host for uneven instance classes").
type WeightedRandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *WeightedRandomStrategy) Name() string { return NameWeightedRandom }

func (s *WeightedRandomStrategy) Select(candidates []*host.Host) (*host.Host, error) {
	pool := availableOnly(candidates)
	if len(pool) == 0 {
		return nil, fmt.Errorf("connprovider: no available hosts to select from")
	}

	var total float64
	for _, h := range pool {
		total += weightOf(h)
	}

	s.mu.Lock()
	pick := s.rng.Float64() * total
	s.mu.Unlock()

	for _, h := range pool {
		w := weightOf(h)
		if pick < w {
			return h, nil
		}
		pick -= w
	}
	return pool[len(pool)-1], nil
}

func weightOf(h *host.Host) float64 {
	if h.Weight <= 0 {
		return 1
	}
	return h.Weight
}
