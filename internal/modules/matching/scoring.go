// README: Scoring engine; weighted composite score per eligible technician.
package matching

import (
	"math"
	"sort"

	"fixit/internal/config"
)

const experienceCap = 50

// ScoreCandidate computes the composite score of one candidate. Higher is better.
func ScoreCandidate(c Eligible, policy Policy, cfg config.MatchingConfig) Score {
	if policy == PolicySLA {
		return slaScore(c, cfg)
	}
	return radiusScore(c, cfg)
}

// radiusScore is on a 0 to ~400 scale and rounded to the nearest integer.
func radiusScore(c Eligible, cfg config.MatchingConfig) Score {
	t := c.Technician
	b := Breakdown{
		Proximity:  math.Max(0, (cfg.RadiusKm-c.DistanceKm)/cfg.RadiusKm) * 100,
		Quality:    t.Rating / 5 * 100,
		Acceptance: t.AcceptanceRate,
		Ontime:     t.OntimeRate * 0.5,
		Experience: float64(min(t.CompletedJobs, experienceCap)),
		Penalty:    t.ComplaintRate * 2,
	}
	total := b.Proximity + b.Quality + b.Acceptance + b.Ontime + b.Experience - b.Penalty
	return Score{Total: math.Round(total), Breakdown: b}
}

// slaScore is on a 0-100 scale: ETA 40, acceptance 25, on-time 20,
// complaints 10 and a flat service fit slot.
func slaScore(c Eligible, cfg config.MatchingConfig) Score {
	t := c.Technician
	window := float64(cfg.SLAWindowMinutes)
	b := Breakdown{
		ETA:        math.Max(0, (window-float64(c.ETAMinutes))/window) * 40,
		Acceptance: t.AcceptanceRate / 100 * 25,
		Ontime:     t.OntimeRate / 100 * 20,
		Complaint:  (1 - t.ComplaintRate/100) * 10,
		// TODO: replace the flat weight with the technician's completion count for this service once it is tracked.
		ServiceFit: cfg.ServiceFitWeight,
	}
	total := b.ETA + b.Acceptance + b.Ontime + b.Complaint + b.ServiceFit
	return Score{Total: total, Breakdown: b}
}

// Rank scores every candidate and sorts by score, highest first. Ties keep
// input order.
func Rank(cands []Eligible, policy Policy, cfg config.MatchingConfig) []Ranked {
	ranked := make([]Ranked, len(cands))
	for i, c := range cands {
		ranked[i] = Ranked{Eligible: c, Score: ScoreCandidate(c, policy, cfg)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})
	return ranked
}

// Top returns at most n leading entries.
func Top(ranked []Ranked, n int) []Ranked {
	if n < 0 {
		n = 0
	}
	if len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}
