// README: Eligibility filter; decides which technicians may be considered for a request.
package matching

import (
	"fixit/internal/config"
	"fixit/internal/modules/catalog"
	"fixit/internal/modules/location"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

// FindEligible returns the technicians that may take req under the given
// policy, in input order. difficulty is only consulted by the SLA policy.
// An empty result is a normal outcome.
func FindEligible(
	req *repair.Request,
	techs []technician.Technician,
	skills []technician.Skill,
	difficulty catalog.Difficulty,
	policy Policy,
	cfg config.MatchingConfig,
) []Eligible {
	levels := make(map[types.ID]int, len(skills))
	if req.ServiceID != nil {
		for _, sk := range skills {
			if sk.ServiceID == *req.ServiceID {
				levels[sk.TechnicianID] = sk.Level
			}
		}
	}

	out := make([]Eligible, 0, len(techs))
	for _, t := range techs {
		var e Eligible
		var ok bool
		switch policy {
		case PolicySLA:
			e, ok = slaEligible(req, t, levels, difficulty, cfg)
		default:
			e, ok = radiusEligible(req, t, levels, cfg)
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

func radiusEligible(req *repair.Request, t technician.Technician, levels map[types.ID]int, cfg config.MatchingConfig) (Eligible, bool) {
	if t.Location == nil || !t.Status.Matchable() {
		return Eligible{}, false
	}
	level, hasSkill := levels[t.ID]
	if req.ServiceID != nil && !hasSkill {
		return Eligible{}, false
	}
	d := location.Distance(req.Location, *t.Location)
	if !inRadius(d, cfg.RadiusKm) {
		return Eligible{}, false
	}
	return Eligible{
		Technician: t,
		DistanceKm: d,
		ETAMinutes: location.ETAMinutes(d, cfg.AverageSpeedKmh, cfg.PrepMinutes),
		SkillLevel: level,
	}, true
}

func slaEligible(req *repair.Request, t technician.Technician, levels map[types.ID]int, difficulty catalog.Difficulty, cfg config.MatchingConfig) (Eligible, bool) {
	if t.Status != technician.StatusAvailable || t.Location == nil {
		return Eligible{}, false
	}
	level := 0
	if req.ServiceID != nil {
		var ok bool
		level, ok = levels[t.ID]
		if !ok || level < difficulty.RequiredSkillLevel() {
			return Eligible{}, false
		}
	}
	d := location.Distance(req.Location, *t.Location)
	eta := location.ETAMinutes(d, cfg.AverageSpeedKmh, cfg.PrepMinutes)
	if req.Mode == repair.ModeASAP && eta > cfg.SLAWindowMinutes {
		return Eligible{}, false
	}
	return Eligible{Technician: t, DistanceKm: d, ETAMinutes: eta, SkillLevel: level}, true
}

// inRadius keeps the boundary itself: only distances strictly beyond the
// radius are excluded.
func inRadius(distanceKm, radiusKm float64) bool {
	return distanceKm <= radiusKm
}
