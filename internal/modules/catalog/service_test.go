package catalog

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fixit/internal/types"
)

type countingStore struct {
	entries Static
	calls   int
}

func (c *countingStore) Get(ctx context.Context, id types.ID) (Entry, error) {
	c.calls++
	return c.entries.Get(ctx, id)
}

func TestRequiredSkillLevel(t *testing.T) {
	cases := map[Difficulty]int{
		DifficultyA: 1,
		DifficultyB: 2,
		DifficultyC: 3,
		"":          1,
	}
	for d, want := range cases {
		if got := d.RequiredSkillLevel(); got != want {
			t.Errorf("%q.RequiredSkillLevel() = %d, want %d", d, got, want)
		}
	}
}

func TestServiceWithoutCache(t *testing.T) {
	store := &countingStore{entries: Static{"s1": {ID: "s1", Name: "Faucet", Difficulty: DifficultyB, WarrantyDays: 30}}}
	svc := NewService(store, nil, zap.NewNop())
	ctx := context.Background()

	e, err := svc.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Difficulty != DifficultyB || e.WarrantyDays != 30 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Invalidate(ctx, "s1"); err != nil {
		t.Fatalf("invalidate without cache: %v", err)
	}
}

func TestServiceRedisCache(t *testing.T) {
	redisAddr := os.Getenv("FIXIT_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("FIXIT_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	id := types.ID("cache_test_" + types.NewID())
	store := &countingStore{entries: Static{id: {ID: id, Name: "Boiler", Difficulty: DifficultyC, WarrantyDays: 180}}}
	svc := NewService(store, rdb, zap.NewNop())
	defer svc.Invalidate(ctx, id)

	for i := 0; i < 3; i++ {
		e, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get #%d: %v", i, err)
		}
		if e.Difficulty != DifficultyC {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
	if store.calls != 1 {
		t.Fatalf("store hit %d times, want 1", store.calls)
	}
}
