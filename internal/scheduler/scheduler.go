// Package scheduler runs recurring screening jobs on cron
// expressions.
package scheduler

import (
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// Scheduler dispatches registered jobs on their cron schedules. Specs
// use the standard five-field format, with an optional leading seconds
// field and @daily style descriptors.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
}

// New creates a scheduler whose specs are interpreted in loc; pass
// utils.JST for exchange-aligned schedules.
func New(loc *time.Location, logger *log.Logger) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithParser(parser)),
		logger: logger,
	}
}

// Add registers job under spec. name appears in the job's log lines.
func (s *Scheduler) Add(spec, name string, job func()) error {
	wrapped := func() {
		if s.logger != nil {
			s.logger.Info().Str("job", name).Msg("scheduled job starting")
		}
		job()
		if s.logger != nil {
			s.logger.Info().Str("job", name).Msg("scheduled job finished")
		}
	}
	if _, err := s.cron.AddFunc(spec, wrapped); err != nil {
		return fmt.Errorf("register job %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start begins dispatching in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.logger != nil {
		s.logger.Info().Msg("scheduler started")
	}
}

// Stop halts dispatch and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.logger != nil {
		s.logger.Info().Msg("scheduler stopped")
	}
}
