// README: Match offers, candidate views and the results returned by matching operations.
package matching

import (
	"errors"
	"time"

	"fixit/internal/config"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

type MatchStatus string

const (
	MatchPending  MatchStatus = "pending"
	MatchAccepted MatchStatus = "accepted"
	MatchRejected MatchStatus = "rejected"
	MatchExpired  MatchStatus = "expired"
)

// Policy selects both the eligibility rule and the scoring formula.
type Policy string

const (
	PolicyRadius Policy = config.PolicyRadius
	PolicySLA    Policy = config.PolicySLA
)

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("not addressed to this technician")
	ErrInvalidState          = errors.New("invalid state")
	ErrTechnicianUnavailable = errors.New("technician is not available")
	ErrConflict              = errors.New("concurrent update, retry")
	// ErrPendingExists is returned by Store.CreateMatch when the request
	// already has a pending match.
	ErrPendingExists = errors.New("pending match already exists")
)

// Reasons reported on unsuccessful results. These are normal outcomes, not errors.
const (
	ReasonAlreadyAssigned = "already_assigned"
	ReasonMatchInProgress = "match_in_progress"
	ReasonNoEligible      = "no_eligible_technician"
)

// Backup is a ranked candidate held in reserve for re-offer.
type Backup struct {
	TechnicianID types.ID `json:"technician_id"`
	Score        float64  `json:"score"`
}

type Match struct {
	ID               types.ID    `json:"id"`
	ServiceRequestID types.ID    `json:"service_request_id"`
	TechnicianID     types.ID    `json:"technician_id"`
	Status           MatchStatus `json:"status"`
	Policy           Policy      `json:"policy"`
	Priority         float64     `json:"priority"`
	Backups          []Backup    `json:"backups"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RespondedAt      *time.Time  `json:"responded_at,omitempty"`
	RejectReason     string      `json:"reject_reason,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Live reports whether the match is pending and its offer window is still open.
func (m *Match) Live(now time.Time) bool {
	return m.Status == MatchPending && now.Before(m.ExpiresAt)
}

// Eligible is a technician that passed the eligibility filter.
type Eligible struct {
	Technician technician.Technician
	DistanceKm float64
	ETAMinutes int
	// SkillLevel is 0 when the request needs no catalog skill.
	SkillLevel int
}

type Breakdown struct {
	Proximity  float64 `json:"proximity,omitempty"`
	Quality    float64 `json:"quality,omitempty"`
	Experience float64 `json:"experience,omitempty"`
	Penalty    float64 `json:"penalty,omitempty"`
	ETA        float64 `json:"eta,omitempty"`
	Acceptance float64 `json:"acceptance"`
	Ontime     float64 `json:"ontime"`
	Complaint  float64 `json:"complaint,omitempty"`
	ServiceFit float64 `json:"service_fit,omitempty"`
}

type Score struct {
	Total     float64   `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

type Ranked struct {
	Eligible
	Score Score
}

// Candidate is the external view of a ranked technician.
type Candidate struct {
	TechnicianID types.ID  `json:"technician_id"`
	Name         string    `json:"name"`
	DistanceKm   float64   `json:"distance_km"`
	ETAMinutes   int       `json:"eta_minutes"`
	Score        float64   `json:"score"`
	Breakdown    Breakdown `json:"breakdown"`
}

func (r Ranked) Candidate() Candidate {
	return Candidate{
		TechnicianID: r.Technician.ID,
		Name:         r.Technician.Name,
		DistanceKm:   r.DistanceKm,
		ETAMinutes:   r.ETAMinutes,
		Score:        r.Score.Total,
		Breakdown:    r.Score.Breakdown,
	}
}

func candidates(ranked []Ranked) []Candidate {
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.Candidate()
	}
	return out
}

type StartResult struct {
	Success       bool        `json:"success"`
	Reason        string      `json:"reason,omitempty"`
	MatchID       types.ID    `json:"match_id,omitempty"`
	TechnicianID  types.ID    `json:"technician_id,omitempty"`
	Priority      float64     `json:"priority,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	EligibleCount int         `json:"eligible_count"`
	Candidates    []Candidate `json:"candidates,omitempty"`
}

type RejectResult struct {
	Success          bool     `json:"success"`
	NextMatchID      types.ID `json:"next_match_id,omitempty"`
	NextTechnicianID types.ID `json:"next_technician_id,omitempty"`
}

type AssignResult struct {
	Success       bool            `json:"success"`
	Reason        string          `json:"reason,omitempty"`
	Request       *repair.Request `json:"service_request,omitempty"`
	TechnicianID  types.ID        `json:"technician_id,omitempty"`
	SLADeadline   *time.Time      `json:"sla_deadline,omitempty"`
	EligibleCount int             `json:"eligible_count"`
	// Candidates holds the top ranked technicians, the first being the one assigned.
	Candidates []Candidate `json:"candidates,omitempty"`
}

type DispatchResult struct {
	Mode   string        `json:"mode"`
	Offer  *StartResult  `json:"offer,omitempty"`
	Assign *AssignResult `json:"assign,omitempty"`
}

type ViewState string

const (
	ViewMatched   ViewState = "MATCHED"
	ViewNotifying ViewState = "NOTIFYING"
	ViewSearching ViewState = "SEARCHING"
	ViewCancelled ViewState = "CANCELLED"
)

// StatusView is derived at read time; it is never stored.
type StatusView struct {
	State            ViewState           `json:"status"`
	RequestID        types.ID            `json:"service_request_id"`
	RequestStatus    repair.Status       `json:"request_status"`
	MatchID          types.ID            `json:"match_id,omitempty"`
	Technician       *technician.Summary `json:"technician,omitempty"`
	ETAMinutes       *int                `json:"eta_minutes,omitempty"`
	EstimatedArrival *time.Time          `json:"estimated_arrival,omitempty"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
}

// EnrichedMatch is a pending offer as shown to the offered technician.
type EnrichedMatch struct {
	Match
	Request    repair.Summary `json:"service_request"`
	DistanceKm *float64       `json:"distance_km,omitempty"`
}
