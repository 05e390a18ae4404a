package matching

import (
	"math"
	"testing"

	"fixit/internal/config"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

func t1Profile() technician.Technician {
	return technician.Technician{
		ID:             "t1",
		Rating:         4.8,
		AcceptanceRate: 95,
		OntimeRate:     92,
		ComplaintRate:  2,
		CompletedJobs:  145,
	}
}

func TestRadiusScore_Reference(t *testing.T) {
	// 86.67 + 96 + 95 + 46 + 50 - 4 = 369.67
	got := ScoreCandidate(Eligible{Technician: t1Profile(), DistanceKm: 2}, PolicyRadius, config.DefaultMatching())
	if got.Total != 370 {
		t.Fatalf("score = %v, want 370", got.Total)
	}
	if got.Breakdown.Experience != 50 {
		t.Errorf("experience = %v, want capped 50", got.Breakdown.Experience)
	}
}

func TestRadiusScore_Monotonic(t *testing.T) {
	cfg := config.DefaultMatching()
	base := t1Profile()

	prev := math.Inf(-1)
	for _, d := range []float64{14, 10, 6, 2, 0} {
		s := ScoreCandidate(Eligible{Technician: base, DistanceKm: d}, PolicyRadius, cfg).Total
		if s <= prev {
			t.Fatalf("score did not increase as distance dropped to %v: %v <= %v", d, s, prev)
		}
		prev = s
	}

	prev = math.Inf(1)
	for _, c := range []float64{0, 1, 5, 20} {
		tech := base
		tech.ComplaintRate = c
		s := ScoreCandidate(Eligible{Technician: tech, DistanceKm: 5}, PolicyRadius, cfg).Total
		if s >= prev {
			t.Fatalf("score did not decrease as complaint rate rose to %v: %v >= %v", c, s, prev)
		}
		prev = s
	}
}

func TestRadiusScore_ProximityFloor(t *testing.T) {
	s := ScoreCandidate(Eligible{Technician: technician.Technician{}, DistanceKm: 20}, PolicyRadius, config.DefaultMatching())
	if s.Breakdown.Proximity != 0 {
		t.Fatalf("proximity = %v, want 0 beyond the radius", s.Breakdown.Proximity)
	}
}

func TestSLAScore_Weights(t *testing.T) {
	cfg := config.DefaultMatching()
	got := ScoreCandidate(Eligible{Technician: t1Profile(), ETAMinutes: 14}, PolicySLA, cfg)

	// (106/120)*40 + 23.75 + 18.4 + 9.8 + 5
	want := 106.0/120*40 + 23.75 + 18.4 + 9.8 + 5
	if math.Abs(got.Total-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", got.Total, want)
	}
	if got.Breakdown.ServiceFit != 5 {
		t.Errorf("service fit = %v, want 5", got.Breakdown.ServiceFit)
	}

	cfg.ServiceFitWeight = 0
	if s := ScoreCandidate(Eligible{Technician: t1Profile(), ETAMinutes: 14}, PolicySLA, cfg); math.Abs(s.Total-(want-5)) > 1e-9 {
		t.Errorf("service fit weight not applied: %v", s.Total)
	}

	late := ScoreCandidate(Eligible{Technician: t1Profile(), ETAMinutes: 200}, PolicySLA, config.DefaultMatching())
	if late.Breakdown.ETA != 0 {
		t.Errorf("eta component = %v, want 0 past the window", late.Breakdown.ETA)
	}
}

func TestRank_StableDescending(t *testing.T) {
	cfg := config.DefaultMatching()
	same := t1Profile()
	cands := []Eligible{
		{Technician: technician.Technician{ID: "weak"}, DistanceKm: 10},
		{Technician: withID(same, "first"), DistanceKm: 3},
		{Technician: withID(same, "second"), DistanceKm: 3},
		{Technician: withID(same, "best"), DistanceKm: 0.5},
	}
	ranked := Rank(cands, PolicyRadius, cfg)

	want := []string{"best", "first", "second", "weak"}
	for i, r := range ranked {
		if string(r.Technician.ID) != want[i] {
			t.Fatalf("rank %d = %s, want %s (full order %v)", i, r.Technician.ID, want[i], rankedIDs(ranked))
		}
	}

	top := Top(ranked, 3)
	if len(top) != 3 || top[0].Technician.ID != "best" {
		t.Fatalf("top 3 = %v", rankedIDs(top))
	}
	if len(Top(ranked, 10)) != 4 || len(Top(ranked, 0)) != 0 {
		t.Fatal("Top bounds wrong")
	}
}

func withID(t technician.Technician, id string) technician.Technician {
	t.ID = types.ID(id)
	return t
}

func rankedIDs(rs []Ranked) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r.Technician.ID)
	}
	return out
}
