// README: Demo data for --memory runs.
package main

import (
	"time"

	"fixit/internal/modules/catalog"
	"fixit/internal/modules/location"
	"fixit/internal/modules/matching"
	"fixit/internal/modules/repair"
	"fixit/internal/modules/technician"
	"fixit/internal/types"
)

var demoCatalog = catalog.Static{
	"svc-boiler": {ID: "svc-boiler", Name: "Boiler repair", Difficulty: catalog.DifficultyB, WarrantyDays: 365},
	"svc-faucet": {ID: "svc-faucet", Name: "Faucet replacement", Difficulty: catalog.DifficultyA, WarrantyDays: 90},
}

// Gangnam station; the demo technicians sit north of it.
var demoOrigin = types.Point{Lat: 37.4979, Lng: 127.0276}

func seedDemo(store *matching.MemoryStore) {
	techs := []struct {
		id     types.ID
		name   string
		km     float64
		rating float64
		boiler int
	}{
		{"tech-kim", "Kim Minjun", 1.5, 4.8, 4},
		{"tech-lee", "Lee Seoyeon", 4, 4.5, 2},
		{"tech-park", "Park Jiho", 9, 4.2, 0},
		{"tech-choi", "Choi Yuna", 22, 4.9, 5},
	}
	now := time.Now()
	for _, t := range techs {
		p := location.OffsetNorth(demoOrigin, t.km)
		store.PutTechnician(technician.Technician{
			ID:             t.id,
			Name:           t.name,
			Location:       &p,
			LocationAt:     &now,
			Status:         technician.StatusAvailable,
			Rating:         t.rating,
			AcceptanceRate: 90,
			OntimeRate:     90,
			CompletedJobs:  40,
		})
		if t.boiler > 0 {
			store.PutSkill(technician.Skill{TechnicianID: t.id, ServiceID: "svc-boiler", Level: t.boiler})
		}
	}

	boiler := types.ID("svc-boiler")
	store.PutRequest(repair.Request{
		ID:          "req-demo-1",
		RequesterID: "customer-demo",
		ServiceID:   &boiler,
		Category:    "boiler",
		Location:    demoOrigin,
		Mode:        repair.ModeASAP,
		Status:      repair.StatusRequested,
		CreatedAt:   now,
	})
	store.PutRequest(repair.Request{
		ID:          "req-demo-2",
		RequesterID: "customer-demo",
		Category:    "general",
		Location:    demoOrigin,
		Mode:        repair.ModeScheduled,
		Status:      repair.StatusRequested,
		CreatedAt:   now,
	})
}
