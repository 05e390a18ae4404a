// Package location provides technician position tracking, including a
// Firebase RTDB feed that mirrors the positions the technician app publishes.
package location

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"

	"fixit/internal/types"
)

const technicianLocationsRef = "technician_locations"

// rtdbTechnicianEntry mirrors a single technician entry stored in Firebase
// RTDB under the /technician_locations node.
type rtdbTechnicianEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// FirebaseFeed reads technician positions from Firebase RTDB.
type FirebaseFeed struct {
	dbClient *db.Client
}

func NewFirebaseFeed(ctx context.Context, app *firebase.App) (*FirebaseFeed, error) {
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &FirebaseFeed{dbClient: dbClient}, nil
}

// Snapshot fetches positions of technicians whose app reports them online.
func (f *FirebaseFeed) Snapshot(ctx context.Context) ([]Update, error) {
	ref := f.dbClient.NewRef(technicianLocationsRef)

	var data map[string]rtdbTechnicianEntry
	if err := ref.OrderByChild("status").EqualTo("online").Get(ctx, &data); err != nil {
		return nil, fmt.Errorf("querying technician locations: %w", err)
	}
	return entriesToUpdates(data), nil
}

func entriesToUpdates(data map[string]rtdbTechnicianEntry) []Update {
	updates := make([]Update, 0, len(data))
	for id, entry := range data {
		u := Update{
			TechnicianID: types.ID(id),
			Position:     types.Point{Lat: entry.Lat, Lng: entry.Lng},
		}
		if entry.Timestamp > 0 {
			u.RecordedAt = time.UnixMilli(entry.Timestamp)
		}
		updates = append(updates, u)
	}
	return updates
}
