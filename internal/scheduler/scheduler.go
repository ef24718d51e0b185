// Package scheduler drives the periodic jobs: ingestion cycles and the
// stale-pending sweep.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named cron entry.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs registered jobs on their cron schedules. Jobs receive
// the scheduler's base context so shutdown cancels in-flight runs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser)),
		ctx:  ctx,
	}
}

// Add registers a job. An invalid schedule is an error; the caller
// decides whether to treat it as fatal.
func (s *Scheduler) Add(job Job) error {
	name := job.Name
	run := job.Run
	_, err := s.cron.AddFunc(job.Schedule, func() {
		slog.Info("cron firing job", "name", name)
		run(s.ctx)
	})
	if err != nil {
		return err
	}
	slog.Info("scheduled job", "name", name, "schedule", job.Schedule)
	return nil
}

// Start begins the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron ticker and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
