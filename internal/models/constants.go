package models

const (
	// DefaultRolloverCeiling is how many times an open task follows the
	// calendar before it stays on its last day.
	DefaultRolloverCeiling = 7

	// AttentionRolloverThreshold marks tasks that keep slipping.
	AttentionRolloverThreshold = 3
)

// Keys of the persisted local state. Each lives in its own record.
const (
	KeyTasks         = "tasks"
	KeyTasksCorrupt  = "tasks.corrupt"
	KeyLastSync      = "last_sync_timestamp"
	KeySyncDirtyDays = "sync_dirty_days"
)

// Quadrant is an Eisenhower classification bucket.
type Quadrant string

const (
	QuadrantDoFirst   Quadrant = "do-first"
	QuadrantSchedule  Quadrant = "schedule"
	QuadrantDelegate  Quadrant = "delegate"
	QuadrantEliminate Quadrant = "eliminate"
)

// Quadrants lists the buckets in card order.
var Quadrants = []Quadrant{QuadrantDoFirst, QuadrantSchedule, QuadrantDelegate, QuadrantEliminate}

// Priority returns the priority a classified task is rewritten to.
func (q Quadrant) Priority() Priority {
	switch q {
	case QuadrantDoFirst:
		return PriorityCritical
	case QuadrantSchedule:
		return PriorityHigh
	case QuadrantDelegate:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
