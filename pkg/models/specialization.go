package models

// Specialization describes the focus area of an agent.
type Specialization string

const (
	SpecializationFrontend Specialization = "frontend"
	SpecializationBackend  Specialization = "backend"
	SpecializationDatabase Specialization = "database"
	SpecializationTesting  Specialization = "testing"
	SpecializationSecurity Specialization = "security"
	SpecializationDevops   Specialization = "devops"
	SpecializationGeneral  Specialization = "general"
)

// Specializations lists every specialization in declaration order.
var Specializations = []Specialization{
	SpecializationFrontend,
	SpecializationBackend,
	SpecializationDatabase,
	SpecializationTesting,
	SpecializationSecurity,
	SpecializationDevops,
	SpecializationGeneral,
}

// Valid returns true if the specialization is a known value.
func (s Specialization) Valid() bool {
	switch s {
	case SpecializationFrontend, SpecializationBackend, SpecializationDatabase,
		SpecializationTesting, SpecializationSecurity, SpecializationDevops,
		SpecializationGeneral:
		return true
	default:
		return false
	}
}

// Phase is a lifecycle stage of an agent's work.
type Phase string

const (
	// PhaseExplore is the initial phase: reading the codebase and the vision.
	PhaseExplore Phase = "EXPLORE"
	// PhasePlan is where the agent breaks the vision down into work.
	PhasePlan Phase = "PLAN"
	// PhaseFound is where the agent lays down foundational code itself.
	PhaseFound Phase = "FOUND"
	// PhaseSummon is where the agent delegates work to child agents.
	PhaseSummon Phase = "SUMMON"
	// PhaseComplete is the final phase.
	PhaseComplete Phase = "COMPLETE"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseExplore, PhasePlan, PhaseFound, PhaseSummon, PhaseComplete:
		return true
	default:
		return false
	}
}

// Next returns the phase that conventionally follows p.
// PhaseComplete and unknown phases return PhaseComplete.
func (p Phase) Next() Phase {
	switch p {
	case PhaseExplore:
		return PhasePlan
	case PhasePlan:
		return PhaseFound
	case PhaseFound:
		return PhaseSummon
	default:
		return PhaseComplete
	}
}
