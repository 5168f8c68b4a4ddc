package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DoneFunc reports the outcome of one task. Only the first call for a task
// has any effect.
type DoneFunc func(err error, result any)

// Handler processes a task and eventually calls done. It may return before
// the work finishes. ctx is cancelled once the task completes, including
// when the queue gives up on it after the process timeout.
type Handler func(ctx context.Context, task any, done DoneFunc)

// Config is the immutable configuration of a Queue.
type Config struct {
	// Name labels the queue in logs and metrics. Defaults to "default".
	Name string

	// Channels is the maximum number of tasks processed at once.
	Channels int

	// Priority serves waiting tasks highest priority first instead of FIFO.
	Priority bool

	// Wait is the longest a task may wait for a channel. Zero means no limit.
	Wait time.Duration

	// Timeout is the longest a handler may take to call done. Zero means no
	// limit.
	Timeout time.Duration

	// Process is the task handler. Required.
	Process Handler

	// Listeners. Any of them may be nil.
	Done    func(err error, result any)
	Success func(result any)
	Failure func(err error, result any)
	Drain   func()

	// Logger defaults to the global logger when nil.
	Logger *zerolog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

func (c Config) validate() error {
	if c.Channels < 0 {
		return errors.New("queue: channels must not be negative")
	}
	if c.Wait < 0 || c.Timeout < 0 {
		return errors.New("queue: timeouts must not be negative")
	}
	if c.Process == nil {
		return errors.New("queue: process handler is required")
	}
	return nil
}

// Builder accumulates a Config for fluent construction:
//
//	q, err := queue.NewBuilder().
//		Channels(4).
//		Priority(true).
//		Process(handle).
//		OnFailure(report).
//		Build()
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder for a single-channel FIFO queue.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{Channels: 1}}
}

// Name sets the label used in logs and metrics.
func (b *Builder) Name(name string) *Builder {
	b.cfg.Name = name
	return b
}

// Channels sets how many tasks may be processed at once.
func (b *Builder) Channels(n int) *Builder {
	b.cfg.Channels = n
	return b
}

// Priority switches the waiting set to highest priority first.
func (b *Builder) Priority(on bool) *Builder {
	b.cfg.Priority = on
	return b
}

// Wait sets the wait timeout. Zero means no limit.
func (b *Builder) Wait(d time.Duration) *Builder {
	b.cfg.Wait = d
	return b
}

// Timeout sets the process timeout. Zero means no limit.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

// Process sets the task handler.
func (b *Builder) Process(h Handler) *Builder {
	b.cfg.Process = h
	return b
}

// OnDone sets the listener called after every task.
func (b *Builder) OnDone(f func(error, any)) *Builder {
	b.cfg.Done = f
	return b
}

// OnSuccess sets the listener called with successful results.
func (b *Builder) OnSuccess(f func(any)) *Builder {
	b.cfg.Success = f
	return b
}

// OnFailure sets the listener called with errors and timeouts.
func (b *Builder) OnFailure(f func(error, any)) *Builder {
	b.cfg.Failure = f
	return b
}

// OnDrain sets the listener called when no task is active anymore.
func (b *Builder) OnDrain(f func()) *Builder {
	b.cfg.Drain = f
	return b
}

// Logger replaces the global logger for this queue.
func (b *Builder) Logger(l zerolog.Logger) *Builder {
	b.cfg.Logger = &l
	return b
}

// Metrics sets the collectors the queue reports to.
func (b *Builder) Metrics(m *Metrics) *Builder {
	b.cfg.Metrics = m
	return b
}

// Build validates the accumulated configuration and creates the queue.
// The builder may be reused; later changes do not affect built queues.
func (b *Builder) Build() (*Queue, error) {
	return New(b.cfg)
}
