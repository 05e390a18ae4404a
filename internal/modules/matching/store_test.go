package matching

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"fixit/internal/infra"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

func setupPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("FIXIT_TEST_DSN")
	if dsn == "" {
		t.Skip("FIXIT_TEST_DSN not set; skipping integration test")
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
	return NewPGStore(pool)
}

func TestPGStore_OnePendingPerRequest(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	now := time.Now().UTC().Truncate(time.Microsecond)

	techID := types.ID("tech_" + suffix)
	loc := origin
	if err := technician.NewStore(store.db).Create(ctx, &technician.Technician{
		ID: techID, Name: "pg test", Location: &loc, Status: technician.StatusAvailable,
	}); err != nil {
		t.Fatalf("create technician: %v", err)
	}
	reqID := types.ID("req_" + suffix)
	if err := repair.NewStore(store.db).Create(ctx, &repair.Request{
		ID: reqID, RequesterID: types.ID("user_" + suffix), Location: origin,
		Mode: repair.ModeASAP, Status: repair.StatusRequested, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create request: %v", err)
	}

	first := &Match{
		ID: types.NewID(), ServiceRequestID: reqID, TechnicianID: techID,
		Status: MatchPending, Policy: PolicyRadius, Priority: 370,
		Backups:   []Backup{{TechnicianID: "backup", Score: 300}},
		ExpiresAt: now.Add(5 * time.Minute), CreatedAt: now,
	}
	if err := store.CreateMatch(ctx, first); err != nil {
		t.Fatalf("create match: %v", err)
	}
	second := *first
	second.ID = types.NewID()
	if err := store.CreateMatch(ctx, &second); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("second pending: got %v, want ErrPendingExists", err)
	}

	got, err := store.PendingMatch(ctx, reqID)
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("pending = %+v %v", got, err)
	}
	if len(got.Backups) != 1 || got.Backups[0].TechnicianID != "backup" {
		t.Fatalf("backups round trip = %+v", got.Backups)
	}

	ok, err := store.UpdateMatchStatus(ctx, first.ID, MatchPending, MatchRejected, &now, "busy")
	if err != nil || !ok {
		t.Fatalf("reject: ok=%v err=%v", ok, err)
	}
	if err := store.CreateMatch(ctx, &second); err != nil {
		t.Fatalf("pending after reject: %v", err)
	}
}

func TestPGStore_TxRollback(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	techID := types.ID("tech_tx_" + suffix)
	if err := technician.NewStore(store.db).Create(ctx, &technician.Technician{ID: techID, Status: technician.StatusAvailable}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx Store) error {
		if _, err := tx.UpdateTechnicianStatus(ctx, techID, []technician.Status{technician.StatusAvailable}, technician.StatusBusy); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	tech, err := store.GetTechnician(ctx, techID)
	if err != nil {
		t.Fatal(err)
	}
	if tech.Status != technician.StatusAvailable {
		t.Fatalf("status = %s, want rollback to available", tech.Status)
	}
}
