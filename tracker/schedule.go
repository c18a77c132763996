package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"merlodigital/site/logging"
)

// Scheduler runs Maintain on a cron spec inside the process.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler parses spec (standard five fields or a descriptor such as
// "@every 10m") and registers the maintenance job. It does not start it.
func NewScheduler(t *Tracker, spec string, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		res, err := t.Maintain(ctx, ReasonScheduled)
		if err != nil {
			logging.Warn().Err(err).Str("acao", res.Action).Int("events", res.Events).Msg("scheduled maintenance could not dispatch")
			return
		}
		logging.Info().Str("acao", res.Action).Int("events", res.Events).Int("projects", res.Projects).Msg("scheduled maintenance ran")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid tracker schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running job until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
