package repair

import (
	"errors"
	"testing"

	"fixit/internal/types"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// offer/accept flow
		{StatusRequested, StatusAssigned, true},
		// direct auto-assign flow
		{StatusRequested, StatusAssigning, true},
		{StatusAssigning, StatusAssigned, true},
		{StatusAssigning, StatusRequested, true}, // no eligible technician
		// work lifecycle
		{StatusAssigned, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusAssigned, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusRequested, StatusCancelled, true},
		{StatusAssigning, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		// invalid: terminal states have no outgoing transitions
		{StatusCompleted, StatusRequested, false},
		{StatusCancelled, StatusRequested, false},
		{StatusCompleted, StatusCancelled, false},
		// invalid: skipping states
		{StatusRequested, StatusInProgress, false},
		{StatusRequested, StatusCompleted, false},
		{StatusAssigned, StatusRequested, false},
		{Status("none"), StatusAssigned, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestHoldsTechnician(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusRequested:  false,
		StatusAssigning:  false,
		StatusAssigned:   true,
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusCancelled:  false,
	} {
		if got := s.HoldsTechnician(); got != want {
			t.Errorf("%s.HoldsTechnician() = %v, want %v", s, got, want)
		}
	}
}

func TestPatchTechnicianRules(t *testing.T) {
	tech := types.ID("T1")
	if err := (Patch{TechnicianID: &tech}).Check(StatusAssigned); err != nil {
		t.Fatalf("assigned with technician: %v", err)
	}
	if err := (Patch{TechnicianID: &tech}).Check(StatusRequested); !errors.Is(err, ErrBadPatch) {
		t.Fatalf("requested with technician: got %v, want ErrBadPatch", err)
	}
	if !(Patch{}).Detaches(StatusCancelled) || !(Patch{}).Detaches(StatusRequested) {
		t.Error("statuses without a technician must detach")
	}
	if (Patch{}).Detaches(StatusInProgress) {
		t.Error("in_progress keeps its technician")
	}
	if !(Patch{ClearTechnician: true}).Detaches(StatusAssigned) {
		t.Error("explicit clear must detach")
	}
}
