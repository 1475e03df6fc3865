package hostlist

import (
	"github.com/robfig/cron/v3"

	"github.com/clusterwrap/driver/internal/logger"
)

// Janitor periodically sweeps a Cache for expired entries, adapted from the
// teacher's plugins.PluginScheduler: one shared cron instance, job panics
// logged and swallowed rather than allowed to kill the sweep permanently.
type Janitor struct {
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewJanitor starts a background sweep of cache on the given cron
// expression (e.g. "*/1 * * * *" for once a minute).
func NewJanitor(cache *Cache, cronExpr string) (*Janitor, error) {
	c := cron.New()
	entryID, err := c.AddFunc(cronExpr, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Topology().Error().Interface("panic", r).Msg("topology cache sweep panicked")
			}
		}()
		if n := cache.Sweep(); n > 0 {
			logger.Topology().Debug().Int("evicted", n).Msg("topology cache sweep evicted expired entries")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Janitor{cron: c, entryID: entryID}, nil
}

func (j *Janitor) Stop() {
	j.cron.Remove(j.entryID)
	<-j.cron.Stop().Done()
}
