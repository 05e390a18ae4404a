// README: Technician aggregate, availability status and per-service skills.
package technician

import (
	"errors"
	"time"

	"fixit/internal/types"
)

type Status string

const (
	StatusOffline   Status = "offline"
	StatusAvailable Status = "available"
	StatusOnline    Status = "online"
	StatusBusy      Status = "busy"
)

var ErrNotFound = errors.New("technician not found")

// Matchable reports whether a technician in this status may receive work.
func (s Status) Matchable() bool {
	return s == StatusAvailable || s == StatusOnline
}

type Technician struct {
	ID             types.ID     `json:"id"`
	Name           string       `json:"name"`
	Location       *types.Point `json:"location,omitempty"`
	LocationAt     *time.Time   `json:"location_at,omitempty"`
	Status         Status       `json:"status"`
	StatusVersion  int          `json:"-"`
	Rating         float64      `json:"rating"`
	AcceptanceRate float64      `json:"acceptance_rate"`
	OntimeRate     float64      `json:"ontime_rate"`
	ComplaintRate  float64      `json:"complaint_rate"`
	CompletedJobs  int          `json:"completed_jobs"`
}

// Skill is one (technician, catalog service) proficiency row, level 1-5.
type Skill struct {
	TechnicianID types.ID `json:"technician_id"`
	ServiceID    types.ID `json:"service_id"`
	Level        int      `json:"level"`
}

// Summary is the public view shown to requesters.
type Summary struct {
	ID            types.ID `json:"id"`
	Name          string   `json:"name"`
	Rating        float64  `json:"rating"`
	CompletedJobs int      `json:"completed_jobs"`
}

func (t *Technician) Summary() Summary {
	return Summary{ID: t.ID, Name: t.Name, Rating: t.Rating, CompletedJobs: t.CompletedJobs}
}
