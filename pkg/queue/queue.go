// Package queue provides an in-process, bounded-concurrency task queue.
// It supports:
//   - A fixed number of channels processing tasks through an async handler
//   - FIFO or priority ordering of waiting tasks
//   - Wait timeouts for tasks that never reach a channel
//   - Process timeouts for handlers that never report back
//   - Pause/resume of admission
//   - Forwarding successful results into a downstream queue (Pipe)
//
// All queue state sits behind one mutex. Handlers and listeners are always
// called without holding it, so they may call back into any queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/rs/zerolog"
)

// Queue admits tasks into a bounded number of channels.
type Queue struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu       sync.Mutex
	slots    slots
	waiting  waitingList
	inflight map[uuid.UUID]*activation
	dest     *Queue
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Active   int    `json:"active"`
	Waiting  int    `json:"waiting"`
	Paused   bool   `json:"paused"`
}

// pulled is the outcome of taking the head of the waiting set. At most one
// of expired and started is set.
type pulled struct {
	expired *entry
	idle    bool
	started *activation
}

// New creates a queue from cfg.
func New(cfg Config) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	log := logger.For("queue")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	q := &Queue{
		cfg:      cfg,
		log:      log.With().Str("queue", cfg.Name).Logger(),
		metrics:  cfg.Metrics,
		slots:    slots{concurrency: cfg.Channels},
		waiting:  waitingList{byPriority: cfg.Priority},
		inflight: make(map[uuid.UUID]*activation),
	}
	q.metrics.setOccupancy(cfg.Name, 0, 0)
	return q, nil
}

// Name returns the configured queue name.
func (q *Queue) Name() string { return q.cfg.Name }

// Add submits a task with priority 0.
func (q *Queue) Add(task any) *Queue {
	return q.AddPriority(task, 0)
}

// AddPriority submits a task. The priority only affects ordering when the
// queue runs in priority mode. The task starts right away when a channel
// is free and nothing is waiting ahead of it; otherwise it waits.
func (q *Queue) AddPriority(task any, priority int) *Queue {
	now := time.Now()

	q.mu.Lock()
	if q.waiting.len() == 0 && q.slots.canAdmit() {
		act := q.admitLocked(task, now, now)
		q.mu.Unlock()
		q.run(act)
		return q
	}

	q.waiting.push(entry{task: task, enqueuedAt: now, priority: priority})
	q.log.Debug().
		Int("priority", priority).
		Int("waiting", q.waiting.len()).
		Msg("Task waiting for a channel")

	// A channel can be free here while an asynchronous wait-timeout
	// cascade is pending. Pull now so the head keeps its place.
	var p pulled
	if q.slots.canAdmit() {
		p = q.takeNextLocked(now)
	}
	q.observeLocked()
	q.mu.Unlock()

	q.dispatch(p)
	return q
}

// Pause stops admission. Tasks already processing are not affected.
func (q *Queue) Pause() *Queue {
	q.mu.Lock()
	q.slots.paused = true
	q.mu.Unlock()

	q.log.Info().Msg("Queue paused")
	return q
}

// Resume re-enables admission and pulls one waiting task for every channel
// that is free at this moment.
func (q *Queue) Resume() *Queue {
	now := time.Now()

	q.mu.Lock()
	q.slots.paused = false
	n := q.slots.free()
	batch := make([]pulled, 0, n)
	for i := 0; i < n && q.waiting.len() > 0; i++ {
		batch = append(batch, q.takeNextLocked(now))
	}
	q.observeLocked()
	q.mu.Unlock()

	q.log.Info().Int("pulled", len(batch)).Msg("Queue resumed")
	for _, p := range batch {
		q.dispatch(p)
	}
	return q
}

// Pipe forwards every successful result to dest.Add. It replaces any
// previously configured destination; a nil dest disables forwarding. The
// queue does not manage dest's lifetime.
func (q *Queue) Pipe(dest *Queue) *Queue {
	q.mu.Lock()
	q.dest = dest
	q.mu.Unlock()
	return q
}

// Stats returns a snapshot of the queue state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:     q.cfg.Name,
		Channels: q.slots.concurrency,
		Active:   q.slots.active,
		Waiting:  q.waiting.len(),
		Paused:   q.slots.paused,
	}
}

// admitLocked occupies a channel and registers the activation. The
// handler is not called yet.
func (q *Queue) admitLocked(task any, enqueuedAt, now time.Time) *activation {
	q.slots.acquire()

	ctx, cancel := context.WithCancelCause(context.Background())
	act := &activation{
		id:         uuid.New(),
		task:       task,
		enqueuedAt: enqueuedAt,
		startedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
	}
	if q.cfg.Timeout > 0 {
		id, limit := act.id, q.cfg.Timeout
		act.timer = time.AfterFunc(limit, func() {
			q.complete(id, &TimeoutError{
				Kind:    ErrProcessTimeout,
				Task:    task,
				Limit:   limit,
				Elapsed: time.Since(now),
			}, task)
		})
	}
	q.inflight[act.id] = act
	q.observeLocked()
	q.metrics.observeStart(q.cfg.Name, now.Sub(enqueuedAt))
	return act
}

// run hands an admitted task to the handler.
func (q *Queue) run(act *activation) {
	done := func(err error, result any) {
		q.complete(act.id, err, result)
	}

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("Handler panicked")
			done(fmt.Errorf("%w: %v", ErrHandlerPanic, r), act.task)
		}
	}()

	q.cfg.Process(act.ctx, act.task, done)
}

// complete releases the channel of the activation with the given id. Only
// the first call per id has effect.
func (q *Queue) complete(id uuid.UUID, err error, result any) {
	q.mu.Lock()
	act, ok := q.inflight[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, id)

	var cause error
	if isKind(err, ErrProcessTimeout) {
		cause = ErrProcessTimeout
	}
	act.stop(cause)

	idle := q.slots.release()
	dest := q.dest
	q.observeLocked()
	q.mu.Unlock()

	q.finish(err, result, idle, dest, time.Since(act.startedAt))

	now := time.Now()
	q.mu.Lock()
	var p pulled
	if q.waiting.len() > 0 && q.slots.canAdmit() {
		p = q.takeNextLocked(now)
	}
	q.observeLocked()
	q.mu.Unlock()

	q.dispatch(p)
}

// takeNextLocked removes the head of the waiting set. An expired head is
// returned for failure reporting without using a channel, and the rest of
// the set is drained from a fresh goroutine rather than by recursion.
func (q *Queue) takeNextLocked(now time.Time) pulled {
	if !q.slots.canAdmit() {
		// Callers check for a free channel first; reaching this means that
		// check was skipped. Keep the entry queued rather than losing it.
		q.log.Error().
			Int("active", q.slots.active).
			Bool("paused", q.slots.paused).
			Msg("Pulled waiting task without a free channel")
		return pulled{}
	}

	e, ok := q.waiting.pop()
	if !ok {
		return pulled{}
	}

	if q.cfg.Wait > 0 && now.Sub(e.enqueuedAt) > q.cfg.Wait {
		if q.waiting.len() > 0 {
			go q.pull()
		}
		return pulled{expired: &e, idle: q.slots.active == 0}
	}

	return pulled{started: q.admitLocked(e.task, e.enqueuedAt, now)}
}

// pull is the deferred follow-up of an expired waiting task.
func (q *Queue) pull() {
	now := time.Now()

	q.mu.Lock()
	var p pulled
	if q.waiting.len() > 0 && q.slots.canAdmit() {
		p = q.takeNextLocked(now)
	}
	q.observeLocked()
	q.mu.Unlock()

	q.dispatch(p)
}

// dispatch acts on a pulled entry outside the lock.
func (q *Queue) dispatch(p pulled) {
	switch {
	case p.expired != nil:
		waited := time.Since(p.expired.enqueuedAt)
		q.log.Warn().
			Dur("waited", waited).
			Dur("limit", q.cfg.Wait).
			Msg("Task expired before reaching a channel")
		err := &TimeoutError{
			Kind:    ErrWaitTimeout,
			Task:    p.expired.task,
			Limit:   q.cfg.Wait,
			Elapsed: waited,
		}
		q.mu.Lock()
		dest := q.dest
		q.mu.Unlock()
		q.finish(err, p.expired.task, p.idle, dest, 0)
	case p.started != nil:
		q.run(p.started)
	}
}

// finish reports one outcome to the listeners and forwards successes.
func (q *Queue) finish(err error, result any, idle bool, dest *Queue, took time.Duration) {
	status := StatusSuccess
	switch {
	case isKind(err, ErrWaitTimeout):
		status = StatusWaitTimeout
	case isKind(err, ErrProcessTimeout):
		status = StatusProcessTimeout
		q.log.Warn().Dur("limit", q.cfg.Timeout).Msg("Task exceeded process timeout")
	case err != nil:
		status = StatusFailure
	}
	q.metrics.observeFinish(q.cfg.Name, status, took)

	if err != nil {
		q.log.Debug().Err(err).Str("status", status).Msg("Task failed")
		if q.cfg.Failure != nil {
			q.cfg.Failure(err, result)
		}
	} else {
		if q.cfg.Success != nil {
			q.cfg.Success(result)
		}
		if dest != nil {
			dest.Add(result)
		}
	}

	if q.cfg.Done != nil {
		q.cfg.Done(err, result)
	}
	if idle && q.cfg.Drain != nil {
		q.cfg.Drain()
	}
}

func (q *Queue) observeLocked() {
	q.metrics.setOccupancy(q.cfg.Name, q.slots.active, q.waiting.len())
}

func isKind(err, kind error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Kind == kind
}
