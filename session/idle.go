package session

import (
	"context"
	"fmt"
	"time"
)

// DefaultIdleCheckInterval is deliberately coarse.
const DefaultIdleCheckInterval = 60 * time.Second

// IdleWorker runs CheckIdle on a fixed cadence.
type IdleWorker struct {
	coordinator *Coordinator
	interval    time.Duration
}

func NewIdleWorker(c *Coordinator, interval time.Duration) *IdleWorker {
	if interval <= 0 {
		interval = DefaultIdleCheckInterval
	}
	return &IdleWorker{coordinator: c, interval: interval}
}

func (w *IdleWorker) Schedule() string {
	return fmt.Sprintf("@every %s", w.interval)
}

func (w *IdleWorker) Ready(time.Time) bool {
	return w.coordinator.State() == SignedIn
}

func (w *IdleWorker) Execute() {
	w.coordinator.CheckIdle(context.Background(), w.coordinator.now())
}
