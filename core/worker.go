package core

import "time"

// Worker is a recurring task. Schedule is a cron spec; "@every 3s" style
// specs are used for sub-minute cadences.
type Worker interface {
	Schedule() string
	Ready(now time.Time) bool
	Execute()
}
