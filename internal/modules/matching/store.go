// README: Matching store backed by PostgreSQL; composes the request and technician stores.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixit/internal/infra"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

const uniqueViolation = "23505"

type PGStore struct {
	pool *pgxpool.Pool // nil inside a transaction
	db   infra.DBTX
	*repairStore
	*technicianStore
}

// the embedded stores expose the names the Store interface expects
type repairStore struct{ s *repair.Store }
type technicianStore struct{ s *technician.Store }

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return newPGStore(pool, pool)
}

func newPGStore(pool *pgxpool.Pool, db infra.DBTX) *PGStore {
	return &PGStore{
		pool:            pool,
		db:              db,
		repairStore:     &repairStore{s: repair.NewStore(db)},
		technicianStore: &technicianStore{s: technician.NewStore(db)},
	}
}

func (p *PGStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if p.pool == nil {
		return fn(p)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(newPGStore(nil, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *repairStore) GetRequest(ctx context.Context, id types.ID) (*repair.Request, error) {
	return r.s.Get(ctx, id)
}

func (r *repairStore) UpdateRequestStatus(ctx context.Context, id types.ID, from, to repair.Status, version int, p repair.Patch) (bool, error) {
	return r.s.UpdateStatus(ctx, id, from, to, version, p)
}

func (r *repairStore) AppendEvent(ctx context.Context, e *repair.Event) error {
	return r.s.AppendEvent(ctx, e)
}

func (r *repairStore) CreateWarranty(ctx context.Context, w *repair.Warranty) error {
	return r.s.CreateWarranty(ctx, w)
}

func (t *technicianStore) GetTechnician(ctx context.Context, id types.ID) (*technician.Technician, error) {
	return t.s.Get(ctx, id)
}

func (t *technicianStore) ListMatchableTechnicians(ctx context.Context) ([]technician.Technician, error) {
	return t.s.ListMatchable(ctx)
}

func (t *technicianStore) ListSkills(ctx context.Context, serviceID types.ID) ([]technician.Skill, error) {
	return t.s.ListSkills(ctx, serviceID)
}

func (t *technicianStore) UpdateTechnicianStatus(ctx context.Context, id types.ID, from []technician.Status, to technician.Status) (bool, error) {
	return t.s.UpdateStatus(ctx, id, from, to)
}

func (t *technicianStore) FinishTechnicianJob(ctx context.Context, id types.ID) (bool, error) {
	return t.s.FinishJob(ctx, id)
}

const matchColumns = `id, service_request_id, technician_id, status, policy, priority,
    backups, expires_at, responded_at, reject_reason, created_at`

func (p *PGStore) CreateMatch(ctx context.Context, m *Match) error {
	backups, err := json.Marshal(m.Backups)
	if err != nil {
		return fmt.Errorf("encode backups: %w", err)
	}
	_, err = p.db.Exec(ctx, `
        INSERT INTO service_request_matches (
            id, service_request_id, technician_id, status, policy, priority,
            backups, expires_at, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(m.ID), string(m.ServiceRequestID), string(m.TechnicianID),
		string(m.Status), string(m.Policy), m.Priority,
		backups, m.ExpiresAt, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrPendingExists
	}
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (p *PGStore) GetMatch(ctx context.Context, id types.ID) (*Match, error) {
	row := p.db.QueryRow(ctx, `SELECT `+matchColumns+` FROM service_request_matches WHERE id = $1`, string(id))
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	return m, nil
}

func (p *PGStore) UpdateMatchStatus(ctx context.Context, id types.ID, from, to MatchStatus, respondedAt *time.Time, reason string) (bool, error) {
	var rejectReason *string
	if reason != "" {
		rejectReason = &reason
	}
	tag, err := p.db.Exec(ctx, `
        UPDATE service_request_matches
        SET status = $1,
            responded_at = COALESCE($2, responded_at),
            reject_reason = COALESCE($3, reject_reason)
        WHERE id = $4 AND status = $5`,
		string(to), respondedAt, rejectReason, string(id), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update match status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PGStore) PendingMatch(ctx context.Context, requestID types.ID) (*Match, error) {
	return p.oneByStatus(ctx, requestID, MatchPending)
}

func (p *PGStore) AcceptedMatch(ctx context.Context, requestID types.ID) (*Match, error) {
	return p.oneByStatus(ctx, requestID, MatchAccepted)
}

func (p *PGStore) oneByStatus(ctx context.Context, requestID types.ID, status MatchStatus) (*Match, error) {
	row := p.db.QueryRow(ctx, `
        SELECT `+matchColumns+`
        FROM service_request_matches
        WHERE service_request_id = $1 AND status = $2
        ORDER BY created_at DESC
        LIMIT 1`, string(requestID), string(status))
	m, err := scanMatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s match for %s: %w", status, requestID, err)
	}
	return m, nil
}

func (p *PGStore) ListPendingByTechnician(ctx context.Context, technicianID types.ID) ([]Match, error) {
	rows, err := p.db.Query(ctx, `
        SELECT `+matchColumns+`
        FROM service_request_matches
        WHERE technician_id = $1 AND status = 'pending'
        ORDER BY created_at`, string(technicianID))
	if err != nil {
		return nil, fmt.Errorf("list pending matches: %w", err)
	}
	return collectMatches(rows)
}

func (p *PGStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Match, error) {
	rows, err := p.db.Query(ctx, `
        SELECT `+matchColumns+`
        FROM service_request_matches
        WHERE status = 'pending' AND expires_at <= $1
        ORDER BY expires_at
        LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired matches: %w", err)
	}
	return collectMatches(rows)
}

func collectMatches(rows pgx.Rows) ([]Match, error) {
	defer rows.Close()
	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMatch(row pgx.Row) (*Match, error) {
	var m Match
	var status, policy string
	var backups []byte
	var reason *string
	err := row.Scan(
		&m.ID, &m.ServiceRequestID, &m.TechnicianID, &status, &policy, &m.Priority,
		&backups, &m.ExpiresAt, &m.RespondedAt, &reason, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = MatchStatus(status)
	m.Policy = Policy(policy)
	if reason != nil {
		m.RejectReason = *reason
	}
	if len(backups) > 0 {
		if err := json.Unmarshal(backups, &m.Backups); err != nil {
			return nil, fmt.Errorf("decode backups: %w", err)
		}
	}
	return &m, nil
}
