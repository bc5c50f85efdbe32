package models

import "testing"

func TestSpecialization_Valid(t *testing.T) {
	for _, s := range Specializations {
		if !s.Valid() {
			t.Errorf("Specialization(%q).Valid() = false, want true", s)
		}
	}
	for _, s := range []Specialization{"", "ml", "Frontend"} {
		if s.Valid() {
			t.Errorf("Specialization(%q).Valid() = true, want false", s)
		}
	}
	if len(Specializations) != 7 {
		t.Errorf("len(Specializations) = %d, want 7", len(Specializations))
	}
}

func TestPhase_Next(t *testing.T) {
	tests := []struct {
		from Phase
		want Phase
	}{
		{PhaseExplore, PhasePlan},
		{PhasePlan, PhaseFound},
		{PhaseFound, PhaseSummon},
		{PhaseSummon, PhaseComplete},
		{PhaseComplete, PhaseComplete},
		{Phase("bogus"), PhaseComplete},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			if got := tt.from.Next(); got != tt.want {
				t.Errorf("%s.Next() = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestPhase_Valid(t *testing.T) {
	if Phase("explore").Valid() {
		t.Error("phases are upper case")
	}
	if !PhaseSummon.Valid() {
		t.Error("SUMMON should be valid")
	}
}
