// README: Collaborators the matching core depends on.
package matching

import (
	"context"
	"time"

	"fixit/internal/modules/catalog"
	"fixit/internal/modules/notify"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

// Store is the persistence the core needs. Lookups of missing requests and
// technicians return repair.ErrNotFound / technician.ErrNotFound; missing
// matches return ErrNotFound.
type Store interface {
	// InTx runs fn atomically. fn must only use the Store it is given.
	InTx(ctx context.Context, fn func(tx Store) error) error

	GetRequest(ctx context.Context, id types.ID) (*repair.Request, error)
	UpdateRequestStatus(ctx context.Context, id types.ID, from, to repair.Status, version int, p repair.Patch) (bool, error)
	AppendEvent(ctx context.Context, e *repair.Event) error
	CreateWarranty(ctx context.Context, w *repair.Warranty) error

	GetTechnician(ctx context.Context, id types.ID) (*technician.Technician, error)
	ListMatchableTechnicians(ctx context.Context) ([]technician.Technician, error)
	ListSkills(ctx context.Context, serviceID types.ID) ([]technician.Skill, error)
	UpdateTechnicianStatus(ctx context.Context, id types.ID, from []technician.Status, to technician.Status) (bool, error)
	FinishTechnicianJob(ctx context.Context, id types.ID) (bool, error)

	// CreateMatch returns ErrPendingExists if the request already has a pending match.
	CreateMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, id types.ID) (*Match, error)
	UpdateMatchStatus(ctx context.Context, id types.ID, from, to MatchStatus, respondedAt *time.Time, reason string) (bool, error)
	// PendingMatch and AcceptedMatch return nil, nil when there is none.
	PendingMatch(ctx context.Context, requestID types.ID) (*Match, error)
	AcceptedMatch(ctx context.Context, requestID types.ID) (*Match, error)
	ListPendingByTechnician(ctx context.Context, technicianID types.ID) ([]Match, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Match, error)
}

type CatalogLookup interface {
	Get(ctx context.Context, id types.ID) (catalog.Entry, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID types.ID, ev notify.Event) error
}

// ArrivalEstimator gives a driving-time estimate in minutes.
type ArrivalEstimator interface {
	ArrivalMinutes(ctx context.Context, from, to types.Point) (int, error)
}

// NearbyIndex narrows the candidate set before exact distance checks.
type NearbyIndex interface {
	NearbyTechnicians(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}
