// README: Service request store backed by PostgreSQL.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fixit/internal/infra"
	"fixit/internal/types"
)

const defaultCurrency = "KRW"

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO service_requests (
            id, requester_id, service_id, category, lat, lng,
            mode, status, status_version, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID),
		string(r.RequesterID),
		toStringPtr(r.ServiceID),
		r.Category,
		r.Location.Lat, r.Location.Lng,
		string(r.Mode),
		string(r.Status),
		r.StatusVersion,
		r.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, requester_id, service_id, category, lat, lng, mode,
               status, status_version, technician_id,
               assigned_at, sla_deadline, started_at, completed_at, cancelled_at,
               final_cost, currency, created_at
        FROM service_requests
        WHERE id = $1`, string(id),
	)

	var r Request
	var serviceID, technicianID *string
	var mode, status, currency string
	var finalCost *int64

	err := row.Scan(
		&r.ID, &r.RequesterID, &serviceID, &r.Category, &r.Location.Lat, &r.Location.Lng, &mode,
		&status, &r.StatusVersion, &technicianID,
		&r.AssignedAt, &r.SLADeadline, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&finalCost, &currency, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service request %s: %w", id, err)
	}

	r.Mode = Mode(mode)
	r.Status = Status(status)
	r.ServiceID = toIDPtr(serviceID)
	r.TechnicianID = toIDPtr(technicianID)
	if finalCost != nil {
		r.FinalCost = &types.Money{Amount: *finalCost, Currency: currency}
	}
	return &r, nil
}

// UpdateStatus applies an optimistic compare-and-set on (status, version).
// It reports false when another writer got there first.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, p Patch) (bool, error) {
	if err := p.Check(to); err != nil {
		return false, err
	}
	var techID *string
	if p.TechnicianID != nil {
		v := string(*p.TechnicianID)
		techID = &v
	}
	var cost *int64
	currency := defaultCurrency
	if p.FinalCost != nil {
		cost = &p.FinalCost.Amount
		if p.FinalCost.Currency != "" {
			currency = p.FinalCost.Currency
		}
	}
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE service_requests
        SET status = $1,
            status_version = status_version + 1,
            technician_id = CASE WHEN $2 THEN NULL ELSE COALESCE($3, technician_id) END,
            assigned_at = CASE WHEN $1 = 'assigned' THEN $4 ELSE assigned_at END,
            sla_deadline = COALESCE($5, sla_deadline),
            started_at = CASE WHEN $1 = 'in_progress' THEN $4 ELSE started_at END,
            completed_at = CASE WHEN $1 = 'completed' THEN $4 ELSE completed_at END,
            cancelled_at = CASE WHEN $1 = 'cancelled' THEN $4 ELSE cancelled_at END,
            final_cost = COALESCE($6, final_cost),
            currency = $7
        WHERE id = $8 AND status = $9 AND status_version = $10`,
		string(to),
		p.Detaches(to),
		techID,
		at,
		p.SLADeadline,
		cost,
		currency,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, fmt.Errorf("update service request status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendEvent writes one audit log row.
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO service_request_logs (
            service_request_id, type, old_status, new_status, content, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.RequestID),
		e.Type,
		string(e.FromStatus),
		string(e.ToStatus),
		e.Content,
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append service request log: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, requestID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, service_request_id, type, old_status, new_status, content, actor_type, actor_id, created_at
        FROM service_request_logs
        WHERE service_request_id = $1
        ORDER BY id`, string(requestID))
	if err != nil {
		return nil, fmt.Errorf("list service request logs: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var from, to string
		var actorID *string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Type, &from, &to, &e.Content, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateWarranty(ctx context.Context, w *Warranty) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO warranties (
            id, service_request_id, technician_id, final_cost, currency, starts_at, ends_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(w.ID),
		string(w.RequestID),
		string(w.TechnicianID),
		w.FinalCost.Amount,
		w.FinalCost.Currency,
		w.StartsAt,
		w.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("create warranty: %w", err)
	}
	return nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
