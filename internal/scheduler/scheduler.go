// Package scheduler runs the periodic admin report.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSpec fires every day at 21:00 UTC.
const DefaultSpec = "0 21 * * *"

type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	spec   string
	ctx    context.Context
	cancel context.CancelFunc
	job    Job
}

// New returns a scheduler for a standard five-field cron spec evaluated in UTC.
// An empty spec means DefaultSpec.
func New(spec string, job Job) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
		job:    job,
	}
}

func (s *Scheduler) Start() error {
	if s.job == nil {
		log.Warn().Msg("report job not set, scheduler disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return errors.Wrapf(err, "schedule report %q", s.spec)
	}
	s.cron.Start()
	log.Info().Str("spec", s.spec).Msg("report scheduler started")
	return nil
}

// Run executes the job once, outside the schedule.
func (s *Scheduler) Run() error {
	if s.job == nil {
		return nil
	}
	return s.job(s.ctx)
}

func (s *Scheduler) run() {
	log.Info().Str("spec", s.spec).Msg("scheduled report triggered")
	if err := s.job(s.ctx); err != nil {
		log.Error().Err(err).Msg("scheduled report failed")
	}
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Info().Msg("report scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}

// Next reports when the job fires next; zero if not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
