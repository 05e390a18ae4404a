// README: Catalog service resolves catalog entries with a Redis read-through cache.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fixit/internal/types"
)

const (
	cacheKeyPrefix = "fixit:catalog:%s"
	cacheTTL       = 10 * time.Minute
)

type EntryStore interface {
	Get(ctx context.Context, id types.ID) (Entry, error)
}

type Service struct {
	store  EntryStore
	cache  *redis.Client
	logger *zap.Logger
}

// NewService builds a catalog lookup. cache may be nil.
func NewService(store EntryStore, cache *redis.Client, logger *zap.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

func (s *Service) Get(ctx context.Context, id types.ID) (Entry, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cacheKey(id)).Bytes()
		switch {
		case err == nil:
			var e Entry
			if jsonErr := json.Unmarshal(raw, &e); jsonErr == nil {
				return e, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("catalog cache read failed", zap.String("service_id", string(id)), zap.Error(err))
		}
	}

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(e); err == nil {
			if err := s.cache.Set(ctx, cacheKey(id), raw, cacheTTL).Err(); err != nil {
				s.logger.Warn("catalog cache write failed", zap.String("service_id", string(id)), zap.Error(err))
			}
		}
	}
	return e, nil
}

// Invalidate drops a cached entry after the catalog row changes.
func (s *Service) Invalidate(ctx context.Context, id types.ID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(id)).Err()
}

func (c Static) Get(_ context.Context, id types.ID) (Entry, error) {
	e, ok := c[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func cacheKey(id types.ID) string {
	return fmt.Sprintf(cacheKeyPrefix, string(id))
}
