package main

import (
	"context"
	"fmt"
	"time"

	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
)

// work simulates the processing of one task.
type work func(ctx context.Context, task tasks.Task) error

// simulated processing time per stage kind
var workDurations = map[string]time.Duration{
	"email":        200 * time.Millisecond,
	"image_resize": 500 * time.Millisecond,
	"slow":         5 * time.Second,
	"generic":      100 * time.Millisecond,
}

func workFor(kind string) work {
	d, ok := workDurations[kind]
	if !ok {
		d = workDurations["generic"]
	}
	return func(ctx context.Context, task tasks.Task) error {
		return sleep(ctx, d)
	}
}

// processorFor returns the queue handler of a stage. Work runs on its own
// goroutine; done is called with the task stamped with the stage name.
func processorFor(stage, kind string) queue.Handler {
	run := workFor(kind)
	log := logger.For("processor").With().Str("stage", stage).Logger()

	return func(ctx context.Context, v any, done queue.DoneFunc) {
		task, ok := v.(tasks.Task)
		if !ok {
			done(fmt.Errorf("unexpected task type %T", v), v)
			return
		}

		go func() {
			start := time.Now()
			log.Info().
				Str("task_id", task.ID).
				Str("type", task.Type).
				Msg("Processing task")

			err := run(ctx, task)
			task.Stage = stage
			if err != nil {
				log.Error().Err(err).Str("task_id", task.ID).Msg("Task failed")
			} else {
				log.Debug().
					Str("task_id", task.ID).
					Dur("took", time.Since(start)).
					Msg("Task processed")
			}
			done(err, task)
		}()
	}
}

// sleep waits for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
