// README: Technician store backed by PostgreSQL.
package technician

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fixit/internal/infra"
	"fixit/internal/types"
)

type Store struct {
	db infra.DBTX
}

func NewStore(db infra.DBTX) *Store {
	return &Store{db: db}
}

const technicianColumns = `id, name, lat, lng, location_at, status, status_version,
    rating, acceptance_rate, ontime_rate, complaint_rate, completed_jobs`

func (s *Store) Create(ctx context.Context, t *Technician) error {
	var lat, lng *float64
	if t.Location != nil {
		lat, lng = &t.Location.Lat, &t.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO technicians (
            id, name, lat, lng, location_at, status, status_version,
            rating, acceptance_rate, ontime_rate, complaint_rate, completed_jobs
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(t.ID), t.Name, lat, lng, t.LocationAt, string(t.Status), t.StatusVersion,
		t.Rating, t.AcceptanceRate, t.OntimeRate, t.ComplaintRate, t.CompletedJobs,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Technician, error) {
	row := s.db.QueryRow(ctx, `SELECT `+technicianColumns+` FROM technicians WHERE id = $1`, string(id))
	t, err := scanTechnician(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get technician %s: %w", id, err)
	}
	return t, nil
}

// ListMatchable returns technicians whose status allows new work, in a
// stable order so ranking ties resolve deterministically.
func (s *Store) ListMatchable(ctx context.Context) ([]Technician, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+technicianColumns+`
        FROM technicians
        WHERE status IN ('available', 'online')
        ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list matchable technicians: %w", err)
	}
	defer rows.Close()

	var out []Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListSkills(ctx context.Context, serviceID types.ID) ([]Skill, error) {
	rows, err := s.db.Query(ctx, `
        SELECT technician_id, service_id, skill_level
        FROM technician_skills
        WHERE service_id = $1`, string(serviceID))
	if err != nil {
		return nil, fmt.Errorf("list skills for %s: %w", serviceID, err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		var sk Skill
		if err := rows.Scan(&sk.TechnicianID, &sk.ServiceID, &sk.Level); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSkill(ctx context.Context, sk Skill) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO technician_skills (technician_id, service_id, skill_level)
        VALUES ($1, $2, $3)
        ON CONFLICT (technician_id, service_id) DO UPDATE SET skill_level = EXCLUDED.skill_level`,
		string(sk.TechnicianID), string(sk.ServiceID), sk.Level,
	)
	return err
}

// UpdateStatus moves the technician to `to` only if the current status is one
// of `from`. It reports whether the row changed.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from []Status, to Status) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE technicians
        SET status = $1, status_version = status_version + 1
        WHERE id = $2 AND status = ANY($3)`,
		string(to), string(id), fromStrs,
	)
	if err != nil {
		return false, fmt.Errorf("update technician status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJob releases a busy technician and counts the completed job.
func (s *Store) FinishJob(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE technicians
        SET status = 'available',
            status_version = status_version + 1,
            completed_jobs = completed_jobs + 1
        WHERE id = $1 AND status = 'busy'`, string(id))
	if err != nil {
		return false, fmt.Errorf("finish technician job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanTechnician(row pgx.Row) (*Technician, error) {
	var t Technician
	var lat, lng *float64
	var status string
	err := row.Scan(
		&t.ID, &t.Name, &lat, &lng, &t.LocationAt, &status, &t.StatusVersion,
		&t.Rating, &t.AcceptanceRate, &t.OntimeRate, &t.ComplaintRate, &t.CompletedJobs,
	)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if lat != nil && lng != nil {
		t.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &t, nil
}
