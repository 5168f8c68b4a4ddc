// Package results records task outcomes in Redis so they can be looked up
// after the queue has forgotten the task.
//
// Key layout:
//   - result:{taskID}: JSON Record of the latest outcome, expires after the TTL
//   - failed_tasks: list of the most recent failed Records, newest last
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	failedKey  = "failed_tasks"
	maxFailed  = 100
	defaultTTL = 24 * time.Hour

	// recordTimeout bounds a listener write. Listeners run before the
	// queue pulls its next task, so a slow Redis delays admission by at
	// most this much per completion.
	recordTimeout = 250 * time.Millisecond
)

// ErrNotFound is returned by Get when no outcome is recorded for a task.
var ErrNotFound = errors.New("results: not found")

// Status values stored in a Record.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the stored outcome of a task at a pipeline stage.
type Record struct {
	TaskID     string      `json:"task_id"`
	Type       string      `json:"type"`
	Stage      string      `json:"stage"`
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Store writes and reads Records.
type Store struct {
	rdb          *redis.Client
	ttl          time.Duration
	writeTimeout time.Duration
	log          zerolog.Logger
}

// NewStore creates a store connected to the specified Redis address.
// A non-positive ttl falls back to 24 hours.
func NewStore(addr string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		// Listener writes rely on their context deadline
		ContextTimeoutEnabled: true,
	})
	return &Store{
		rdb:          rdb,
		ttl:          ttl,
		writeTimeout: recordTimeout,
		log:          logger.For("results"),
	}
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Save stores rec under its task ID. Failed records are also appended to
// the failure list, which keeps the last 100 entries.
func (s *Store) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.TaskID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, resultKey(rec.TaskID), data, s.ttl)
	if rec.Status == StatusFailed {
		pipe.RPush(ctx, failedKey, data)
		pipe.LTrim(ctx, failedKey, -maxFailed, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the latest Record for taskID.
func (s *Store) Get(ctx context.Context, taskID string) (Record, error) {
	raw, err := s.rdb.Get(ctx, resultKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", taskID, err)
	}
	return rec, nil
}

// Failures returns up to limit of the most recent failed Records, newest first.
func (s *Store) Failures(ctx context.Context, limit int64) ([]Record, error) {
	raw, err := s.rdb.LRange(ctx, failedKey, -limit, -1).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]Record, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec Record
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			// Skip malformed entries, the list is for inspection only
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// SuccessListener returns a queue Success listener recording completions
// at the named stage. It runs before the result is piped on, so a later
// stage's record replaces it.
func (s *Store) SuccessListener(stage string) func(result any) {
	return func(result any) {
		s.record(stage, nil, result)
	}
}

// FailureListener returns a queue Failure listener recording failures and
// timeouts at the named stage.
func (s *Store) FailureListener(stage string) func(err error, result any) {
	return func(err error, result any) {
		s.record(stage, err, result)
	}
}

// record stores the outcome of a tasks.Task. Other result types are
// ignored. Redis errors are logged; they never reach the queue. The write
// gives up after writeTimeout so an unreachable Redis cannot hold up the
// stage that called the listener.
func (s *Store) record(stage string, err error, result any) {
	task, ok := asTask(result)
	if !ok {
		return
	}

	rec := Record{
		TaskID:     task.ID,
		Type:       task.Type,
		Stage:      stage,
		Status:     StatusCompleted,
		Payload:    task.Payload,
		FinishedAt: time.Now(),
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Reason = reason(err)
		rec.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.Save(ctx, rec); err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to record task outcome")
	}
}

func asTask(v any) (tasks.Task, bool) {
	switch t := v.(type) {
	case tasks.Task:
		return t, true
	case *tasks.Task:
		if t != nil {
			return *t, true
		}
	}
	return tasks.Task{}, false
}

func reason(err error) string {
	switch {
	case errors.Is(err, queue.ErrWaitTimeout):
		return queue.StatusWaitTimeout
	case errors.Is(err, queue.ErrProcessTimeout):
		return queue.StatusProcessTimeout
	case errors.Is(err, queue.ErrHandlerPanic):
		return "panic"
	default:
		return queue.StatusFailure
	}
}

func resultKey(taskID string) string {
	return fmt.Sprintf("result:%s", taskID)
}
