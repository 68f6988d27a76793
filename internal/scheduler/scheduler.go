// Package scheduler provides cron-based scheduling for tutorbot's
// background jobs, chiefly the periodic idle-session sweep.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tutorlinkhq/tutorbot/internal/dialog"
)

// DefaultReapSchedule runs the idle sweep once a minute.
const DefaultReapSchedule = "* * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleReaper registers the idle-conversation sweep on the given cron
// expression. An empty expression uses DefaultReapSchedule.
func (s *Scheduler) ScheduleReaper(ctx context.Context, reaper *dialog.Reaper, expr string) error {
	if expr == "" {
		expr = DefaultReapSchedule
	}
	return s.AddJob(expr, func() {
		expired, err := reaper.Reap(ctx, time.Now())
		if err != nil {
			slog.Error("Scheduled reap failed", "error", err)
			return
		}
		if len(expired) > 0 {
			slog.Info("Scheduled reap expired conversations", "count", len(expired))
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
