// README: Session model tests covering transitions, timestamps and cloning.
package conversation

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInitial, StateFreeInput, true},
		{StateInitial, StateGatheringPreferences, true},
		{StateInitial, StateGeneratingPlan, true},
		{StateFreeInput, StateGeneratingPlan, true},
		{StateGeneratingPlan, StatePresentingPlan, true},
		{StateGeneratingPlan, StateFreeInput, true},
		{StatePresentingPlan, StateFreeInput, true},
		{StateFreeInput, StatePresentingPlan, false},
		{StateCompleted, StateInitial, false},
		{StatePresentingPlan, StateInitial, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSessionTransition(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	s := NewSession("s1", now)

	if err := s.Transition(StateInitial, now); err != nil {
		t.Fatalf("self transition should be allowed: %v", err)
	}
	if err := s.Transition(StatePresentingPlan, now); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	later := now.Add(time.Minute)
	if err := s.Transition(StateFreeInput, later); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if s.State != StateFreeInput || !s.LastUpdated.Equal(later) {
		t.Fatalf("unexpected session after transition: %s %v", s.State, s.LastUpdated)
	}
}

func TestSessionTimestampsMonotonic(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	s := NewSession("s1", now)

	s.AddMessage(RoleUser, "こんにちは", now.Add(2*time.Second))
	s.AddMessage(RoleAssistant, "いらっしゃいませ", now.Add(time.Second))

	if len(s.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.Messages))
	}
	if !s.LastUpdated.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("last_updated moved backwards: %v", s.LastUpdated)
	}
	if s.CreatedAt.After(s.LastUpdated) {
		t.Fatalf("created_at after last_updated")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := NewSession("s1", now)
	s.Preferences.Overwrite(Patch{Location: &Location{Address: "横浜駅"}, Meals: []string{"lunch"}})
	s.Preferences.AddShown("p1")
	s.AddMessage(RoleUser, "hi", now)
	s.MarkAsked(FieldChildAge)

	c := s.Clone()
	c.Preferences.Meals[0] = "dinner"
	c.Preferences.ShownPlaceIDs[0] = "changed"
	c.Messages[0].Content = "changed"
	c.AskedFields[0] = FieldMeals
	c.Preferences.Location.Address = "東京駅"

	if s.Preferences.Meals[0] != "lunch" || s.Preferences.ShownPlaceIDs[0] != "p1" ||
		s.Messages[0].Content != "hi" || s.AskedFields[0] != FieldChildAge ||
		s.Preferences.Location.Address != "横浜駅" {
		t.Fatalf("clone shares state with original: %+v", s)
	}
}

func TestMarkAskedAndSkipped(t *testing.T) {
	s := NewSession("s1", time.Now())
	s.MarkAsked(FieldChildAge)
	s.MarkAsked(FieldChildAge)
	if !s.Asked(FieldChildAge) || len(s.AskedFields) != 1 || s.PendingQuestion != FieldChildAge {
		t.Fatalf("unexpected asked bookkeeping: %+v", s)
	}
	if s.Skipped(FieldMeals) {
		t.Fatalf("meals should not be skipped yet")
	}
	s.MarkSkipped(FieldMeals)
	if !s.Skipped(FieldMeals) {
		t.Fatalf("meals should be skipped")
	}
}
