package core

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Orchestrator runs workers on their schedules. Executions are not
// serialized: a worker that is still running when its next tick fires runs
// again unless its Ready says otherwise.
type Orchestrator struct {
	logger  *zap.Logger
	workers []Worker
	cron    *cron.Cron
}

func NewOrchestrator(logger *zap.Logger, workers []Worker) *Orchestrator {
	return &Orchestrator{logger: logger, workers: workers}
}

func (o *Orchestrator) Start(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()

	for _, worker := range o.workers {
		w := worker
		_, err := c.AddFunc(w.Schedule(), func() {
			if ctx.Err() != nil {
				return
			}
			if w.Ready(time.Now()) {
				go w.Execute()
			}
		})

		if err != nil {
			o.logger.Error("Error adding cron job",
				zap.String("schedule", w.Schedule()),
				zap.Error(err),
			)
			return nil, fmt.Errorf("schedule %q: %w", w.Schedule(), err)
		}
	}

	c.Start()
	o.cron = c
	return c, nil
}

// Stop removes all timers and waits for running callbacks of the scheduler
// itself, not for executions it already handed off.
func (o *Orchestrator) Stop() {
	if o.cron == nil {
		return
	}
	<-o.cron.Stop().Done()
	o.cron = nil
}
