package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/props"
)

// failoverToReader implements spec §4.5's reader failover algorithm:
// force-refresh the topology, walk candidate readers in the configured
// strategy's order trying each with its own per-attempt timeout, and — when
// allowWriterFallback is set (failoverMode=reader-or-writer) — fall back to
// the cluster's current writer if no reader could be reached and the
// writer itself still answers (spec: "if mode was reader-or-writer and no
// reader succeeds but the writer is reachable, accept the writer as
// fallback"). This is deliberately not the same operation as
// failoverToWriter: the writer fallback here accepts the writer whether or
// not it has changed, whereas strict-writer failover (spec's writer
// failover algorithm) only accepts a *newly elected* writer, since there
// the old one is presumed to be the one that just failed.
func (p *Plugin) failoverToReader(ctx context.Context, base *props.Properties, deadline time.Time, allowWriterFallback bool) (*host.Host, error) {
	snap, err := p.svc.ForceRefreshHostList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failover: reader topology refresh failed: %w", err)
	}

	order := p.orderReaders(snap.Readers())

	var lastErr error
	for _, candidate := range order {
		if time.Now().After(deadline) {
			lastErr = fmt.Errorf("failover: reader failover deadline exceeded")
			break
		}

		if h, err := p.tryConnect(ctx, candidate, base, p.cfg.ReaderConnectTimeoutMs, deadline); err == nil {
			return h, nil
		} else {
			lastErr = err
		}
	}

	if allowWriterFallback && snap.Writer() != nil && !time.Now().After(deadline) {
		if h, err := p.tryConnect(ctx, snap.Writer(), base, p.cfg.ReaderConnectTimeoutMs, deadline); err == nil {
			logger.Failover().Info().Str("host", h.Key()).Msg("reader failover: falling back to writer")
			return h, nil
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("failover: no reader hosts available in current topology")
	}
	return nil, lastErr
}

// tryConnect attempts one connection to h within the lesser of timeout and
// the time remaining until deadline, replaying session state and marking
// the host available on success.
func (p *Plugin) tryConnect(ctx context.Context, h *host.Host, base *props.Properties, timeout time.Duration, deadline time.Time) (*host.Host, error) {
	if remaining := time.Until(deadline); remaining < timeout {
		timeout = remaining
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := p.svc.Connect(attemptCtx, h, base)
	cancel()
	if err != nil {
		logger.Failover().Warn().Err(err).Str("host", h.Key()).Msg("failover: connect attempt failed")
		p.svc.SetAvailability(h.Key(), host.Unavailable)
		return nil, err
	}

	if rerr := p.replaySession(ctx, conn); rerr != nil {
		logger.Failover().Warn().Err(rerr).Msg("failover: session state replay failed")
	}
	p.svc.SetAvailability(h.Key(), host.Available)
	return h, nil
}

// orderReaders produces a deterministic-per-run visiting order over
// candidates using the plugin's configured selection strategy (spec §4.5:
// "walk candidate readers in a deterministic order (e.g. weighted-
// shuffled)"), repeatedly drawing one host at a time from the shrinking
// remainder so every reader is visited at most once per failover attempt.
func (p *Plugin) orderReaders(candidates []*host.Host) []*host.Host {
	remaining := append([]*host.Host(nil), candidates...)
	order := make([]*host.Host, 0, len(candidates))

	for len(remaining) > 0 {
		pick, err := p.strategy.Select(remaining)
		if err != nil || pick == nil {
			// Every remaining candidate is NOT_AVAILABLE and the strategy
			// still refuses; take them in listed order rather than give up
			// on candidates that might still be reachable (spec §4.4:
			// availability is advisory, never a hard fence).
			order = append(order, remaining...)
			break
		}
		order = append(order, pick)
		remaining = removeHost(remaining, pick)
	}
	return order
}

func removeHost(hosts []*host.Host, target *host.Host) []*host.Host {
	out := make([]*host.Host, 0, len(hosts))
	for _, h := range hosts {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}
