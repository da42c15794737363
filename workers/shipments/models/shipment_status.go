package models

// Stage groups phases into the two legs of the delivery workflow.
type Stage string

const (
	StageWarehouse Stage = "warehouse"
	StageStore     Stage = "store"
)

// Status keys as the dispatch server reports them in currentStatus.
const (
	StatusPending        = "Pending"
	StatusStartLoading   = "Start Loading"
	StatusEndLoading     = "End Loading"
	StatusStartRoute     = "Start Route"
	StatusArrival        = "Arrival"
	StatusStartUnloading = "Start Unloading"
	StatusEndUnloading   = "End Unloading"
	StatusDeparture      = "Departure"
	StatusCompleted      = "Completed"

	// StatusLoaded is referenced by the overdue and in-transit rules but is not a
	// registry phase. See DESIGN.md.
	StatusLoaded = "Loaded"
)

// Phase is one step of the delivery workflow
type Phase struct {
	Key   string
	Label string
	Icon  string
	Stage Stage
}

var phases = []Phase{
	{Key: StatusPending, Label: "Waiting for loading", Icon: "clock", Stage: StageWarehouse},
	{Key: StatusStartLoading, Label: "Loading started", Icon: "box-open", Stage: StageWarehouse},
	{Key: StatusEndLoading, Label: "Loading finished", Icon: "boxes", Stage: StageWarehouse},
	{Key: StatusStartRoute, Label: "On the road", Icon: "truck", Stage: StageWarehouse},
	{Key: StatusArrival, Label: "Arrived at store", Icon: "store", Stage: StageStore},
	{Key: StatusStartUnloading, Label: "Unloading started", Icon: "dolly", Stage: StageStore},
	{Key: StatusEndUnloading, Label: "Unloading finished", Icon: "check-square", Stage: StageStore},
	{Key: StatusDeparture, Label: "Left the store", Icon: "flag-checkered", Stage: StageStore},
}

// Phases returns the workflow in order, warehouse phases first.
func Phases() []Phase {
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// StagePhases returns the phases of a single stage, in order.
func StagePhases(stage Stage) []Phase {
	var out []Phase
	for _, p := range phases {
		if p.Stage == stage {
			out = append(out, p)
		}
	}
	return out
}

func LookupPhase(key string) (Phase, bool) {
	for _, p := range phases {
		if p.Key == key {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseIndex gives the display position of a status. Completed sorts after
// every phase and unknown statuses return -1.
func PhaseIndex(key string) int {
	if key == StatusCompleted {
		return len(phases)
	}
	for i, p := range phases {
		if p.Key == key {
			return i
		}
	}
	return -1
}

func IsKnownStatus(key string) bool {
	return PhaseIndex(key) >= 0
}

// NextStatus returns the status that follows key in the workflow. The phase
// after Departure is Completed; Completed and unknown statuses have none.
func NextStatus(key string) (string, bool) {
	i := PhaseIndex(key)
	switch {
	case i < 0 || key == StatusCompleted:
		return "", false
	case i == len(phases)-1:
		return StatusCompleted, true
	default:
		return phases[i+1].Key, true
	}
}
