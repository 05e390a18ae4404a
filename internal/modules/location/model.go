// README: Technician position updates and lookup results.
package location

import (
	"time"

	"fixit/internal/types"
)

// Update is a technician position report from the app or the RTDB feed.
type Update struct {
	TechnicianID types.ID
	Position     types.Point
	RecordedAt   time.Time
}

type UpdateResult struct {
	Accepted bool
	// Reason is set when an update is dropped, e.g. "stale".
	Reason string
}

// TechnicianLocation represents a technician's position with computed distance.
type TechnicianLocation struct {
	TechnicianID types.ID
	Position     types.Point
	Distance     float64 // km from the queried origin
}
