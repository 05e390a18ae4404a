// README: Location store backed by Redis GEO and the technicians table.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"fixit/internal/infra"
	"fixit/internal/types"
)

const technicianGeoKey = "fixit:technicians:geo"

type Store struct {
	db    infra.DBTX
	redis *redis.Client
}

func NewStore(db infra.DBTX, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// SetPosition stores the position unless a newer one is already recorded.
// It reports whether the row was updated.
func (s *Store) SetPosition(ctx context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE technicians
        SET lat = $2, lng = $3, location_at = $4
        WHERE id = $1 AND (location_at IS NULL OR location_at <= $4)`,
		string(id), p.Lat, p.Lng, at,
	)
	if err != nil {
		return false, fmt.Errorf("update technician position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if s.redis == nil {
		return true, nil
	}
	err = s.redis.GeoAdd(ctx, technicianGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
	if err != nil {
		return true, fmt.Errorf("geo add %s: %w", id, err)
	}
	return true, nil
}

// TakeOffline moves an idle technician to offline and forgets the position.
// An already offline technician is accepted; a busy one is refused.
func (s *Store) TakeOffline(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE technicians
        SET status = 'offline',
            status_version = CASE WHEN status = 'offline' THEN status_version ELSE status_version + 1 END,
            lat = NULL, lng = NULL
        WHERE id = $1 AND status IN ('available', 'online', 'offline')`,
		string(id),
	)
	if err != nil {
		return fmt.Errorf("take technician %s offline: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.db.QueryRow(ctx, `SELECT status FROM technicians WHERE id = $1`, string(id)).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownTechnician
		}
		if err != nil {
			return fmt.Errorf("load technician %s: %w", id, err)
		}
		return fmt.Errorf("%w: technician is %s", ErrTechnicianBusy, status)
	}
	if s.redis == nil {
		return nil
	}
	return s.redis.ZRem(ctx, technicianGeoKey, string(id)).Err()
}

// RebuildIndex reloads the geo index from the positions of technicians who
// can take work. It returns how many were indexed.
func (s *Store) RebuildIndex(ctx context.Context) (int, error) {
	if s.redis == nil {
		return 0, ErrNoIndex
	}
	rows, err := s.db.Query(ctx, `
        SELECT id, lat, lng
        FROM technicians
        WHERE lat IS NOT NULL AND lng IS NOT NULL
          AND status IN ('available', 'online')`)
	if err != nil {
		return 0, fmt.Errorf("list technician positions: %w", err)
	}
	defer rows.Close()

	var locs []*redis.GeoLocation
	for rows.Next() {
		var (
			id       string
			lat, lng float64
		)
		if err := rows.Scan(&id, &lat, &lng); err != nil {
			return 0, err
		}
		locs = append(locs, &redis.GeoLocation{Name: id, Longitude: lng, Latitude: lat})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, technicianGeoKey)
	if len(locs) > 0 {
		pipe.GeoAdd(ctx, technicianGeoKey, locs...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rebuild geo index: %w", err)
	}
	return len(locs), nil
}

// Nearby returns technician IDs within radiusKm, closest first.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	if s.redis == nil {
		return nil, ErrNoIndex
	}
	results, err := s.redis.GeoSearch(ctx, technicianGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
