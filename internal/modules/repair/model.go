// README: Service request aggregate, status definitions and audit log entries.
package repair

import (
	"errors"
	"fmt"
	"time"

	"fixit/internal/types"
)

type Status string

const (
	StatusRequested  Status = "requested"
	StatusAssigning  Status = "assigning"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Mode string

const (
	ModeASAP      Mode = "asap"
	ModeScheduled Mode = "scheduled"
)

var (
	ErrNotFound = errors.New("service request not found")
	ErrConflict = errors.New("service request state conflict")
	ErrBadPatch = errors.New("technician set on a status that cannot hold one")
)

// Request is a repair job raised by a customer.
type Request struct {
	ID            types.ID     `json:"id"`
	RequesterID   types.ID     `json:"requester_id"`
	ServiceID     *types.ID    `json:"service_id,omitempty"`
	Category      string       `json:"category"`
	Location      types.Point  `json:"location"`
	Mode          Mode         `json:"mode"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"-"`
	TechnicianID  *types.ID    `json:"technician_id,omitempty"`
	AssignedAt    *time.Time   `json:"assigned_at,omitempty"`
	SLADeadline   *time.Time   `json:"sla_deadline,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	FinalCost     *types.Money `json:"final_cost,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Summary is the view of a request shown to an offered technician.
type Summary struct {
	ID        types.ID    `json:"id"`
	ServiceID *types.ID   `json:"service_id,omitempty"`
	Category  string      `json:"category"`
	Mode      Mode        `json:"mode"`
	Location  types.Point `json:"location"`
	CreatedAt time.Time   `json:"created_at"`
}

func (r *Request) Summary() Summary {
	return Summary{
		ID:        r.ID,
		ServiceID: r.ServiceID,
		Category:  r.Category,
		Mode:      r.Mode,
		Location:  r.Location,
		CreatedAt: r.CreatedAt,
	}
}

// Patch carries the columns written alongside a status change. Nil fields are
// left untouched; ClearTechnician detaches the assigned technician.
type Patch struct {
	TechnicianID    *types.ID
	ClearTechnician bool
	At              time.Time
	SLADeadline     *time.Time
	FinalCost       *types.Money
}

// Event types recorded in the audit log.
const (
	EventStatusChange = "status_change"
	EventAutoAssign   = "auto_assign"
	EventMatchAccept  = "match_accept"
	EventCancel       = "cancel"
	EventComplete     = "complete"
)

// Event is one append-only audit log row.
type Event struct {
	ID         int64
	RequestID  types.ID
	Type       string
	FromStatus Status
	ToStatus   Status
	Content    string
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

type Warranty struct {
	ID           types.ID    `json:"id"`
	RequestID    types.ID    `json:"service_request_id"`
	TechnicianID types.ID    `json:"technician_id"`
	FinalCost    types.Money `json:"final_cost"`
	StartsAt     time.Time   `json:"starts_at"`
	EndsAt       time.Time   `json:"ends_at"`
}

// AllowedTransitions represents the request state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:  {StatusAssigning, StatusAssigned, StatusCancelled},
	StatusAssigning:  {StatusAssigned, StatusRequested, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// HoldsTechnician reports whether a request in this status keeps a technician attached.
func (s Status) HoldsTechnician() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusCompleted
}

// Check rejects a patch that would attach a technician to a status that
// cannot hold one.
func (p Patch) Check(to Status) error {
	if p.TechnicianID != nil && !to.HoldsTechnician() {
		return fmt.Errorf("%w: %s", ErrBadPatch, to)
	}
	return nil
}

// Detaches reports whether writing `to` with this patch leaves the request
// without a technician.
func (p Patch) Detaches(to Status) bool {
	return p.ClearTechnician || !to.HoldsTechnician()
}
