package orchestrator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amangupta62/sales-call-analysis-microservice/internal/pipeline"
	"github.com/amangupta62/sales-call-analysis-microservice/internal/queue"
)

// RunWorkers starts n stateless workers pulling pipeline tasks until ctx is
// cancelled or the trigger closes. Workers share nothing: each task is
// re-validated against the store, and lease conflicts from redelivered or
// racing tasks are absorbed silently.
func (o *Orchestrator) RunWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			log := o.log.WithField("worker", worker)
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-o.trigger.Tasks():
					if !ok {
						return
					}
					o.handle(ctx, task, log)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (o *Orchestrator) handle(ctx context.Context, task queue.Task, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{"call_id": task.CallID, "expected_stage": task.ExpectedStage})
	err := o.Advance(ctx, task.CallID)
	switch {
	case err == nil:
	case pipeline.IsConflict(err):
		// Another worker holds the lease, or this was a duplicate delivery.
		log.Debug("skipping task: lease contention or duplicate")
	case pipeline.IsNotFound(err):
		log.WithError(err).Warn("task references unknown call")
	default:
		// Advance already committed the failure; nothing more to do here.
		log.WithError(err).Warn("pipeline task failed")
	}

	// Confirm the delivery only after Advance has run. A crash before this
	// point leaves the message unacked and the broker redelivers it.
	if task.Ack != nil {
		task.Ack()
	}
}
