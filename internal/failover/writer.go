package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/logger"
	"github.com/clusterwrap/driver/internal/props"
)

// failoverToWriter implements spec §4.5's writer failover algorithm:
// force-refresh the topology until a writer different from the one that
// just failed appears, then race to connect to it before deadline.
//
// The spec calls for temporarily overriding clusterTopologyRefreshRateMs to
// failoverClusterTopologyRefreshRateMs for the duration of this algorithm
// "so topology converges faster." ForceRefreshHostList already bypasses the
// cache's TTL unconditionally (see hostlist.Cache.ForceRefresh), so there is
// no slower cadence here to override in the first place, and this algorithm
// does not read failoverClusterTopologyRefreshRateMs. The pause between
// unsuccessful refresh attempts is FailoverConfig.WriterReconnectIntervalMs.
func (p *Plugin) failoverToWriter(ctx context.Context, base *props.Properties, deadline time.Time) (*host.Host, error) {
	var before string
	if snap := p.svc.Topology(); snap != nil {
		if w := snap.Writer(); w != nil {
			before = w.Key()
		}
	}

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failover: writer failover deadline exceeded")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := p.svc.ForceRefreshHostList(ctx)
		if err != nil {
			logger.Failover().Warn().Err(err).Msg("writer failover: topology refresh failed")
			if sleepUntil(ctx, p.cfg.WriterReconnectIntervalMs, deadline) {
				return nil, fmt.Errorf("failover: writer failover deadline exceeded")
			}
			continue
		}

		writer := snap.Writer()
		if writer == nil || writer.Key() == before {
			if sleepUntil(ctx, p.cfg.WriterReconnectIntervalMs, deadline) {
				return nil, fmt.Errorf("failover: writer failover deadline exceeded")
			}
			continue
		}

		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		conn, connErr := p.svc.Connect(attemptCtx, writer, base)
		cancel()
		if connErr != nil {
			logger.Failover().Warn().Err(connErr).Str("host", writer.Key()).Msg("writer failover: connect attempt failed")
			if sleepUntil(ctx, p.cfg.WriterReconnectIntervalMs, deadline) {
				return nil, fmt.Errorf("failover: writer failover deadline exceeded")
			}
			continue
		}

		if err := p.replaySession(ctx, conn); err != nil {
			logger.Failover().Warn().Err(err).Msg("writer failover: session state replay failed")
		}
		p.svc.SetAvailability(writer.Key(), host.Available)
		return writer, nil
	}
}

// sleepUntil pauses for d, or until ctx is cancelled or deadline passes,
// whichever comes first. It reports whether the caller should give up
// (deadline/ctx already exhausted) rather than loop again.
func sleepUntil(ctx context.Context, d time.Duration, deadline time.Time) (giveUp bool) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return true
	}
	if d > remaining {
		d = remaining
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return time.Now().After(deadline)
	}
}
