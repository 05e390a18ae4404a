package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fixit/internal/infra"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[types.ID]types.Point
	recorded  map[types.ID]time.Time
	busy      map[types.ID]bool
	offline   []types.ID
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		positions: make(map[types.ID]types.Point),
		recorded:  make(map[types.ID]time.Time),
		busy:      make(map[types.ID]bool),
	}
}

func (f *fakePositionStore) SetPosition(_ context.Context, id types.ID, p types.Point, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.recorded[id]; ok && at.Before(last) {
		return false, nil
	}
	f.positions[id] = p
	f.recorded[id] = at
	return true, nil
}

func (f *fakePositionStore) TakeOffline(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recorded[id]; !ok {
		return ErrUnknownTechnician
	}
	if f.busy[id] {
		return ErrTechnicianBusy
	}
	delete(f.positions, id)
	f.offline = append(f.offline, id)
	return nil
}

func (f *fakePositionStore) Nearby(_ context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TechnicianLocation
	for id, pos := range f.positions {
		if d := Distance(p, pos); d <= radiusKm {
			out = append(out, TechnicianLocation{TechnicianID: id, Position: pos, Distance: d})
		}
	}
	SortByDistance(out, func(t TechnicianLocation) float64 { return t.Distance })
	ids := make([]types.ID, len(out))
	for i, t := range out {
		ids[i] = t.TechnicianID
	}
	return ids, nil
}

type staticFeed []Update

func (f staticFeed) Snapshot(context.Context) ([]Update, error) { return f, nil }

func TestUpdateTechnician(t *testing.T) {
	store := newFakePositionStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()
	now := time.Now()

	res, err := svc.UpdateTechnician(ctx, Update{TechnicianID: "t1", Position: types.Point{Lat: 37.5, Lng: 127.03}, RecordedAt: now})
	if err != nil || !res.Accepted {
		t.Fatalf("first update: res=%+v err=%v", res, err)
	}

	res, err = svc.UpdateTechnician(ctx, Update{TechnicianID: "t1", Position: types.Point{Lat: 37.6, Lng: 127.03}, RecordedAt: now.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if res.Accepted || res.Reason != "stale" {
		t.Fatalf("expected stale rejection, got %+v", res)
	}
	if store.positions["t1"].Lat != 37.5 {
		t.Fatalf("stale update overwrote position: %+v", store.positions["t1"])
	}
}

func TestUpdateTechnician_Invalid(t *testing.T) {
	svc := NewService(newFakePositionStore(), zap.NewNop())
	bad := []Update{
		{TechnicianID: "", Position: types.Point{Lat: 1, Lng: 1}},
		{TechnicianID: "t1", Position: types.Point{Lat: 91, Lng: 1}},
		{TechnicianID: "t1", Position: types.Point{Lat: 1, Lng: -181}},
		{TechnicianID: "t1", Position: types.Point{}},
	}
	for _, u := range bad {
		if _, err := svc.UpdateTechnician(context.Background(), u); !errors.Is(err, ErrInvalidPosition) {
			t.Errorf("update %+v: expected ErrInvalidPosition, got %v", u, err)
		}
	}
}

func TestSyncFromFeedAndNearby(t *testing.T) {
	store := newFakePositionStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()
	origin := types.Point{Lat: 37.50, Lng: 127.03}

	feed := staticFeed{
		{TechnicianID: "far", Position: OffsetNorth(origin, 20)},
		{TechnicianID: "near", Position: OffsetNorth(origin, 2)},
		{TechnicianID: "mid", Position: OffsetNorth(origin, 9)},
		{TechnicianID: "broken", Position: types.Point{Lat: 200}},
	}
	n, err := svc.SyncFromFeed(ctx, feed)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 3 {
		t.Fatalf("accepted = %d, want 3", n)
	}

	ids, err := svc.NearbyTechnicians(ctx, origin, 15)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ids) != 2 || ids[0] != "near" || ids[1] != "mid" {
		t.Fatalf("nearby = %v, want [near mid]", ids)
	}

	if err := svc.GoOffline(ctx, "near"); err != nil {
		t.Fatal(err)
	}
	ids, _ = svc.NearbyTechnicians(ctx, origin, 15)
	if len(ids) != 1 || ids[0] != "mid" {
		t.Fatalf("nearby after offline = %v", ids)
	}
}

func TestGoOffline_Refusals(t *testing.T) {
	store := newFakePositionStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()
	origin := types.Point{Lat: 37.50, Lng: 127.03}

	if _, err := svc.UpdateTechnician(ctx, Update{TechnicianID: "working", Position: origin}); err != nil {
		t.Fatal(err)
	}
	store.busy["working"] = true

	if err := svc.GoOffline(ctx, "working"); !errors.Is(err, ErrTechnicianBusy) {
		t.Fatalf("busy: got %v, want ErrTechnicianBusy", err)
	}
	if ids, _ := svc.NearbyTechnicians(ctx, origin, 1); len(ids) != 1 {
		t.Fatalf("busy technician lost their position: %v", ids)
	}
	if err := svc.GoOffline(ctx, "ghost"); !errors.Is(err, ErrUnknownTechnician) {
		t.Fatalf("unknown: got %v, want ErrUnknownTechnician", err)
	}
	if len(store.offline) != 0 {
		t.Fatalf("offline calls = %v, want none", store.offline)
	}
}

func TestEntriesToUpdates(t *testing.T) {
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	updates := entriesToUpdates(map[string]rtdbTechnicianEntry{
		"t1": {Lat: 37.5, Lng: 127.0, Status: "online", Timestamp: ts.UnixMilli()},
	})
	if len(updates) != 1 {
		t.Fatalf("got %d updates", len(updates))
	}
	u := updates[0]
	if u.TechnicianID != "t1" || u.Position.Lat != 37.5 || !u.RecordedAt.Equal(ts) {
		t.Fatalf("unexpected update: %+v", u)
	}
}

func TestRedisNearby(t *testing.T) {
	redisAddr := os.Getenv("FIXIT_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("FIXIT_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	store := NewStore(nil, rdb)
	id := types.ID(fmt.Sprintf("tech_test_%d", time.Now().UnixNano()))
	origin := types.Point{Lat: 37.50, Lng: 127.03}

	if err := rdb.GeoAdd(ctx, technicianGeoKey, &redis.GeoLocation{Name: string(id), Longitude: origin.Lng, Latitude: origin.Lat}).Err(); err != nil {
		t.Fatalf("geo add: %v", err)
	}
	defer rdb.ZRem(ctx, technicianGeoKey, string(id))

	ids, err := store.Nearby(ctx, origin, 1)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	found := false
	for _, got := range ids {
		if got == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in %v", id, ids)
	}
}

// ---------------------------------------------------------------------------
// PostgreSQL + Redis
// ---------------------------------------------------------------------------

func setupStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	dsn := os.Getenv("FIXIT_TEST_DSN")
	redisAddr := os.Getenv("FIXIT_REDIS_ADDR")
	if dsn == "" || redisAddr == "" {
		t.Skip("FIXIT_TEST_DSN or FIXIT_REDIS_ADDR not set; skipping integration test")
	}
	ctx := context.Background()
	pool, err := infra.NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := infra.RunMigrations(pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(pool, rdb), rdb
}

func TestStoreTakeOffline(t *testing.T) {
	store, rdb := setupStore(t)
	ctx := context.Background()
	techs := technician.NewStore(store.db)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	origin := types.Point{Lat: 37.50, Lng: 127.03}

	idle := types.ID("tech_idle_" + suffix)
	working := types.ID("tech_busy_" + suffix)
	for id, status := range map[types.ID]technician.Status{idle: technician.StatusAvailable, working: technician.StatusBusy} {
		if err := techs.Create(ctx, &technician.Technician{ID: id, Name: "offline test", Status: status}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if ok, err := store.SetPosition(ctx, id, origin, time.Now()); err != nil || !ok {
			t.Fatalf("set position %s: %v %v", id, ok, err)
		}
	}
	defer rdb.ZRem(ctx, technicianGeoKey, string(idle), string(working))

	if err := store.TakeOffline(ctx, idle); err != nil {
		t.Fatalf("take offline: %v", err)
	}
	got, err := techs.Get(ctx, idle)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != technician.StatusOffline || got.Location != nil || got.StatusVersion != 1 {
		t.Fatalf("after offline = %+v, want offline without position at version 1", got)
	}
	if err := store.TakeOffline(ctx, idle); err != nil {
		t.Fatalf("second offline should be accepted: %v", err)
	}
	if again, _ := techs.Get(ctx, idle); again.StatusVersion != 1 {
		t.Fatalf("repeat offline bumped version to %d", again.StatusVersion)
	}

	if err := store.TakeOffline(ctx, working); !errors.Is(err, ErrTechnicianBusy) {
		t.Fatalf("busy: got %v, want ErrTechnicianBusy", err)
	}
	if err := store.TakeOffline(ctx, types.ID("missing_"+suffix)); !errors.Is(err, ErrUnknownTechnician) {
		t.Fatalf("missing: got %v, want ErrUnknownTechnician", err)
	}

	ids, err := store.Nearby(ctx, origin, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if id == idle {
			t.Fatalf("offline technician still indexed: %v", ids)
		}
	}
}

func TestStoreRebuildIndex(t *testing.T) {
	store, rdb := setupStore(t)
	ctx := context.Background()
	techs := technician.NewStore(store.db)
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	origin := types.Point{Lat: 37.50, Lng: 127.03}

	at := OffsetNorth(origin, 14.997)
	edge := types.ID("tech_edge_" + suffix)
	idle := types.ID("tech_off_" + suffix)
	if err := techs.Create(ctx, &technician.Technician{ID: edge, Name: "rebuild", Location: &at, Status: technician.StatusAvailable}); err != nil {
		t.Fatal(err)
	}
	if err := techs.Create(ctx, &technician.Technician{ID: idle, Name: "rebuild", Location: &at, Status: technician.StatusOffline}); err != nil {
		t.Fatal(err)
	}
	defer rdb.ZRem(ctx, technicianGeoKey, string(edge), string(idle))

	// rows written straight to the database are not indexed yet
	rdb.ZRem(ctx, technicianGeoKey, string(edge))
	n, err := store.RebuildIndex(ctx)
	if err != nil || n == 0 {
		t.Fatalf("rebuild = %d %v", n, err)
	}

	// the index measures on a slightly larger sphere, so the exact radius
	// misses a technician just inside it
	ids, err := store.Nearby(ctx, origin, 15.025)
	if err != nil {
		t.Fatal(err)
	}
	var sawEdge, sawIdle bool
	for _, id := range ids {
		sawEdge = sawEdge || id == edge
		sawIdle = sawIdle || id == idle
	}
	if !sawEdge || sawIdle {
		t.Fatalf("nearby = %v, want %s indexed and %s skipped", ids, edge, idle)
	}
}
