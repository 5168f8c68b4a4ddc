// Package main provides a benchmark tool measuring the throughput of a
// two-stage in-process pipeline. Producers submit dummy tasks concurrently;
// the tool reports how long submission and processing take.
//
// Usage:
//
//	go run ./benchmark -tasks 100000 -channels 16
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/tasks"
)

func main() {
	numTasks := flag.Int("tasks", 100000, "Number of tasks to submit")
	numProducers := flag.Int("producers", 10, "Number of concurrent producers")
	channels := flag.Int("channels", 16, "Channels per stage")
	work := flag.Duration("work", 0, "Simulated processing time per task and stage")
	priority := flag.Bool("priority", false, "Run the first stage in priority mode")
	flag.Parse()

	var finished atomic.Int64
	var failed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(*numTasks)

	// async completes on a fresh goroutine so deep waiting sets never turn
	// into deep call stacks.
	async := func(_ context.Context, task any, done queue.DoneFunc) {
		go func() {
			if *work > 0 {
				time.Sleep(*work)
			}
			done(nil, task)
		}()
	}

	sink, err := queue.NewBuilder().
		Name("sink").
		Channels(*channels).
		Process(async).
		OnDone(func(err error, _ any) {
			if err != nil {
				failed.Add(1)
			}
			finished.Add(1)
			wg.Done()
		}).
		Build()
	if err != nil {
		panic(err)
	}

	source, err := queue.NewBuilder().
		Name("source").
		Channels(*channels).
		Priority(*priority).
		Process(async).
		OnFailure(func(error, any) {
			failed.Add(1)
			finished.Add(1)
			wg.Done()
		}).
		Build()
	if err != nil {
		panic(err)
	}
	source.Pipe(sink)

	fmt.Printf("taskpipe Benchmark\n")
	fmt.Printf("==================\n")
	fmt.Printf("Tasks to submit: %d\n", *numTasks)
	fmt.Printf("Concurrent producers: %d\n", *numProducers)
	fmt.Printf("Channels per stage: %d\n\n", *channels)

	// Submit phase
	fmt.Printf("Starting submit phase...\n")
	start := time.Now()

	var submitted atomic.Int64
	var producers sync.WaitGroup
	perProducer := *numTasks / *numProducers
	for i := 0; i < *numProducers; i++ {
		n := perProducer
		if i == *numProducers-1 {
			n = *numTasks - perProducer*(*numProducers-1)
		}
		producers.Add(1)
		go func(producerID, n int) {
			defer producers.Done()
			for j := 0; j < n; j++ {
				task := tasks.New("benchmark", map[string]interface{}{"producer": producerID, "task": j}, j%3)
				source.AddPriority(task, task.Priority)
				submitted.Add(1)
			}
		}(i, n)
	}

	producers.Wait()
	submitTime := time.Since(start)

	fmt.Printf("✓ Submitted %d tasks in %s\n", submitted.Load(), submitTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(submitted.Load())/submitTime.Seconds())

	fmt.Printf("Waiting for all tasks to be processed...\n")
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-doneCh:
			waiting = false
		case <-ticker.C:
			src, dst := source.Stats(), sink.Stats()
			fmt.Printf("  Remaining: %d tasks (source %d waiting, sink %d waiting)\n",
				int64(*numTasks)-finished.Load(), src.Waiting, dst.Waiting)
		}
	}

	totalTime := time.Since(start)
	fmt.Printf("\n✓ All tasks processed in %s (%d failed)\n", totalTime, failed.Load())
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(*numTasks)/totalTime.Seconds())
}
