package integration_tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/results"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d to be running.
func setupIntegrationRedis(t *testing.T) *results.Store {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	// Clear failures for clean state
	rdb.Del(context.Background(), "failed_tasks")

	store := results.NewStore("localhost:6379", time.Minute)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIntegrationFlow(t *testing.T) {
	store := setupIntegrationRedis(t)
	ctx := context.Background()

	drained := make(chan struct{}, 4)
	ingestIdle := make(chan struct{}, 4)
	work := func(_ context.Context, v any, done queue.DoneFunc) {
		go func() {
			task := v.(tasks.Task)
			time.Sleep(10 * time.Millisecond)
			if task.Type == "broken" {
				done(errors.New("cannot process"), task)
				return
			}
			done(nil, task)
		}()
	}

	notify, err := queue.NewBuilder().
		Name("notify").
		Channels(1).
		Process(work).
		OnSuccess(store.SuccessListener("notify")).
		OnFailure(store.FailureListener("notify")).
		OnDrain(func() { drained <- struct{}{} }).
		Build()
	if err != nil {
		t.Fatalf("Build notify failed: %v", err)
	}

	ingest, err := queue.NewBuilder().
		Name("ingest").
		Channels(2).
		Priority(true).
		Process(work).
		OnSuccess(store.SuccessListener("ingest")).
		OnFailure(store.FailureListener("ingest")).
		OnDrain(func() { ingestIdle <- struct{}{} }).
		Build()
	if err != nil {
		t.Fatalf("Build ingest failed: %v", err)
	}
	ingest.Pipe(notify)

	good := tasks.New("integration", map[string]string{"msg": "hello"}, tasks.PriorityHigh)
	bad := tasks.New("broken", nil, tasks.PriorityLow)
	ingest.AddPriority(good, good.Priority).AddPriority(bad, bad.Priority)

	for _, ch := range []chan struct{}{ingestIdle, drained} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for the pipeline to drain")
		}
	}

	rec, err := store.Get(ctx, good.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Stage != "notify" || rec.Status != results.StatusCompleted {
		t.Errorf("Expected completion at notify, got %+v", rec)
	}

	rec, err = store.Get(ctx, bad.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Stage != "ingest" || rec.Status != results.StatusFailed {
		t.Errorf("Expected failure at ingest, got %+v", rec)
	}

	failures, err := store.Failures(ctx, 10)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if len(failures) != 1 || failures[0].TaskID != bad.ID {
		t.Errorf("Expected only the broken task in failures, got %+v", failures)
	}
}
