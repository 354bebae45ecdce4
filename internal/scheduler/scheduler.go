// Package scheduler runs TripPipe's periodic maintenance with cron.
//
// The main job is the idle-session sweep, which evicts planning sessions
// nobody has touched for a configured TTL.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the idle sweep every five minutes.
const DefaultSweepSpec = "@every 5m"

// DefaultIdleTTL is how long a session may sit untouched before eviction.
const DefaultIdleTTL = 24 * time.Hour

// Sweeper evicts sessions idle for longer than ttl and returns their ids.
type Sweeper interface {
	EvictIdle(ttl time.Duration) []string
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Specs use the standard
// five fields or a descriptor such as "@every 5m".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
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

// ScheduleIdleSweep evicts idle sessions on spec. onEvict, if set, receives
// the ids removed by each sweep that removed any.
func (s *Scheduler) ScheduleIdleSweep(spec string, sweeper Sweeper, ttl time.Duration, onEvict func([]string)) error {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	err := s.AddJob(spec, func() {
		ids := RunIdleSweep(sweeper, ttl)
		if len(ids) > 0 && onEvict != nil {
			onEvict(ids)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("Scheduler.ScheduleIdleSweep: scheduled", "spec", spec, "ttl", ttl)
	return nil
}

// RunIdleSweep performs one sweep.
func RunIdleSweep(sweeper Sweeper, ttl time.Duration) []string {
	ids := sweeper.EvictIdle(ttl)
	slog.Debug("Scheduler.RunIdleSweep: sweep finished", "evicted", len(ids), "ttl", ttl)
	return ids
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
