// Package schedule feeds template tasks into a queue on a cron schedule.
package schedule

import (
	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs cron entries that submit tasks.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler accepting 6-field (seconds) cron expressions as
// well as descriptors like "@every 1m".
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  logger.For("schedule"),
	}
}

// Schedule registers a cron entry that submits a clone of tmpl to target on
// every run. Each run gets its own task ID.
func (s *Scheduler) Schedule(spec string, target *queue.Queue, tmpl tasks.Task) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		task := tmpl.Clone()
		target.AddPriority(task, task.Priority)
		s.log.Info().
			Str("task_id", task.ID).
			Str("type", task.Type).
			Str("spec", spec).
			Msg("Scheduled task submitted")
	})
}

// Remove deletes a cron entry. It reports false when no such entry exists.
func (s *Scheduler) Remove(id cron.EntryID) bool {
	if !s.cron.Entry(id).Valid() {
		return false
	}
	s.cron.Remove(id)
	s.log.Info().Int("entry_id", int(id)).Msg("Scheduled entry removed")
	return true
}

// Start runs the scheduler in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. Running submissions are not waited for.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
