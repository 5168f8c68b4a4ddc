package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// activation is the bookkeeping for one task occupying a channel. The
// queue owns it in its inflight map; completing the task is a lookup by
// id, so a second done call finds nothing and has no effect.
type activation struct {
	id         uuid.UUID
	task       any
	enqueuedAt time.Time
	startedAt  time.Time
	ctx        context.Context
	cancel     context.CancelCauseFunc
	timer      *time.Timer
}

// stop disarms the process timer and cancels the handler context.
func (a *activation) stop(cause error) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.cancel(cause)
}
