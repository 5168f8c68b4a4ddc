package main

import (
	"fmt"

	"github.com/guido-cesarano/taskpipe/pkg/config"
	"github.com/guido-cesarano/taskpipe/pkg/logger"
	"github.com/guido-cesarano/taskpipe/pkg/queue"
	"github.com/guido-cesarano/taskpipe/pkg/results"
)

// pipeline is the ordered chain of stage queues. Successful results of
// each stage are piped into the next one.
type pipeline struct {
	stages []*queue.Queue
	byName map[string]*queue.Queue
}

// handlerFunc builds the handler of a stage.
type handlerFunc func(stage, kind string) queue.Handler

func buildPipeline(stages []config.Stage, handler handlerFunc, store *results.Store, metrics *queue.Metrics) (*pipeline, error) {
	p := &pipeline{byName: make(map[string]*queue.Queue, len(stages))}
	log := logger.For("pipeline")

	for _, s := range stages {
		b := queue.NewBuilder().
			Name(s.Name).
			Channels(s.Channels).
			Priority(s.Priority).
			Wait(s.Wait.Std()).
			Timeout(s.Timeout.Std()).
			Process(handler(s.Name, s.Kind)).
			Metrics(metrics).
			OnDrain(func() {
				log.Debug().Str("stage", s.Name).Msg("Stage idle")
			})
		if store != nil {
			b.OnSuccess(store.SuccessListener(s.Name)).
				OnFailure(store.FailureListener(s.Name))
		}

		q, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name, err)
		}
		if n := len(p.stages); n > 0 {
			p.stages[n-1].Pipe(q)
		}
		p.stages = append(p.stages, q)
		p.byName[s.Name] = q
	}

	return p, nil
}

// head is the stage new tasks are submitted to.
func (p *pipeline) head() *queue.Queue {
	return p.stages[0]
}

// selectStages returns the named stage, or every stage when name is empty.
func (p *pipeline) selectStages(name string) ([]*queue.Queue, bool) {
	if name == "" {
		return p.stages, true
	}
	q, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return []*queue.Queue{q}, true
}

func (p *pipeline) stats() []queue.Stats {
	out := make([]queue.Stats, 0, len(p.stages))
	for _, q := range p.stages {
		out = append(out, q.Stats())
	}
	return out
}
