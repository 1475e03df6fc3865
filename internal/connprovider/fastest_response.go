package connprovider

import (
	"fmt"
	"sync"
	"time"

	"github.com/clusterwrap/driver/internal/host"
)

const fastestResponseWindow = 5

// FastestResponseStrategy selects the available candidate with the lowest
// recent average response time. Whenever at least one available candidate
// has no samples yet, it picks at random among those untried candidates
// instead (spec §6: "fastest response
// MUST NOT starve hosts it has no data for").
type FastestResponseStrategy struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
	fallback *RandomStrategy
}

func NewFastestResponseStrategy() *FastestResponseStrategy {
	fallback, _ := New(NameRandom)
	return &FastestResponseStrategy{
		samples:  make(map[string][]time.Duration),
		fallback: fallback.(*RandomStrategy),
	}
}

func (s *FastestResponseStrategy) Name() string { return NameFastestResponse }

// Observe records a response-time sample for a host key, keeping at most
// fastestResponseWindow of the most recent measurements per host.
func (s *FastestResponseStrategy) Observe(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := append(s.samples[key], d)
	if len(hist) > fastestResponseWindow {
		hist = hist[len(hist)-fastestResponseWindow:]
	}
	s.samples[key] = hist
}

func (s *FastestResponseStrategy) average(key string) (time.Duration, bool) {
	hist, ok := s.samples[key]
	if !ok || len(hist) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range hist {
		sum += d
	}
	return sum / time.Duration(len(hist)), true
}

func (s *FastestResponseStrategy) Select(candidates []*host.Host) (*host.Host, error) {
	pool := availableOnly(candidates)
	if len(pool) == 0 {
		return nil, fmt.Errorf("connprovider: no available hosts to select from")
	}

	var untried []*host.Host
	var best *host.Host
	var bestAvg time.Duration

	s.mu.Lock()
	for _, h := range pool {
		avg, ok := s.average(h.Key())
		if !ok {
			untried = append(untried, h)
			continue
		}
		if best == nil || avg < bestAvg {
			best, bestAvg = h, avg
		}
	}
	s.mu.Unlock()

	if len(untried) > 0 {
		return s.fallback.Select(untried)
	}
	if best != nil {
		return best, nil
	}
	return s.fallback.Select(pool)
}
