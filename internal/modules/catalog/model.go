// README: Service catalog entry and difficulty grading.
package catalog

import (
	"errors"

	"fixit/internal/types"
)

type Difficulty string

const (
	DifficultyA Difficulty = "A"
	DifficultyB Difficulty = "B"
	DifficultyC Difficulty = "C"
)

// DefaultWarrantyDays applies to general repairs with no catalog entry.
const DefaultWarrantyDays = 90

var ErrNotFound = errors.New("catalog service not found")

type Entry struct {
	ID           types.ID   `json:"id"`
	Name         string     `json:"name"`
	Difficulty   Difficulty `json:"difficulty"`
	WarrantyDays int        `json:"warranty_days"`
}

// RequiredSkillLevel maps difficulty to the minimum technician skill level.
// Unknown grades are treated as the easiest.
func (d Difficulty) RequiredSkillLevel() int {
	switch d {
	case DifficultyC:
		return 3
	case DifficultyB:
		return 2
	default:
		return 1
	}
}

// Static is an in-memory catalog, used for tests and local runs.
type Static map[types.ID]Entry
