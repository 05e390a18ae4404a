// README: Location service applies technician position updates and answers proximity queries.
package location

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fixit/internal/types"
)

var (
	ErrInvalidPosition   = errors.New("invalid position")
	ErrNoIndex           = errors.New("geo index not configured")
	ErrUnknownTechnician = errors.New("technician not found")
	ErrTechnicianBusy    = errors.New("technician is busy")
)

type PositionStore interface {
	SetPosition(ctx context.Context, id types.ID, p types.Point, at time.Time) (bool, error)
	// TakeOffline sets an available or online technician offline and clears
	// the stored position. Busy technicians get ErrTechnicianBusy.
	TakeOffline(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

// Feed is a bulk source of technician positions such as Firebase RTDB.
type Feed interface {
	Snapshot(ctx context.Context) ([]Update, error)
}

type Service struct {
	store  PositionStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store PositionStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) UpdateTechnician(ctx context.Context, u Update) (UpdateResult, error) {
	if u.TechnicianID == "" || !validPoint(u.Position) {
		return UpdateResult{}, ErrInvalidPosition
	}
	if u.RecordedAt.IsZero() {
		u.RecordedAt = s.now()
	}
	ok, err := s.store.SetPosition(ctx, u.TechnicianID, u.Position, u.RecordedAt)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ok {
		return UpdateResult{Accepted: false, Reason: "stale"}, nil
	}
	return UpdateResult{Accepted: true}, nil
}

// GoOffline stops the technician from receiving work and drops them from
// proximity queries.
func (s *Service) GoOffline(ctx context.Context, id types.ID) error {
	if id == "" {
		return ErrUnknownTechnician
	}
	if err := s.store.TakeOffline(ctx, id); err != nil {
		return err
	}
	s.logger.Info("technician offline", zap.String("technician_id", string(id)))
	return nil
}

// NearbyTechnicians lists technician IDs within radiusKm of p, closest first.
func (s *Service) NearbyTechnicians(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	return s.store.Nearby(ctx, p, radiusKm)
}

// SyncFromFeed applies every position in the feed snapshot and returns how
// many were accepted. Invalid entries are skipped.
func (s *Service) SyncFromFeed(ctx context.Context, feed Feed) (int, error) {
	updates, err := feed.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, u := range updates {
		res, err := s.UpdateTechnician(ctx, u)
		if errors.Is(err, ErrInvalidPosition) {
			s.logger.Debug("skipping invalid feed position", zap.String("technician_id", string(u.TechnicianID)))
			continue
		}
		if err != nil {
			return accepted, err
		}
		if res.Accepted {
			accepted++
		}
	}
	return accepted, nil
}

// RunFeedSync polls the feed until ctx is cancelled.
func (s *Service) RunFeedSync(ctx context.Context, feed Feed, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SyncFromFeed(ctx, feed)
			if err != nil {
				s.logger.Warn("location feed sync failed", zap.Error(err))
				continue
			}
			s.logger.Debug("location feed synced", zap.Int("accepted", n))
		}
	}
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && !(p.Lat == 0 && p.Lng == 0)
}
