package lifecycle

// Phase is the coarse lifecycle position of an order
type Phase string

const (
	PhaseReadyToFulfill    Phase = "ready_to_fulfill"
	PhaseReadyToSession    Phase = "ready_to_session"
	PhaseAwaitingDecisions Phase = "awaiting_decisions"
	PhaseReadyToPick       Phase = "ready_to_pick"
	PhasePicking           Phase = "picking"
	PhasePackingReady      Phase = "packing_ready"
	PhaseOnDock            Phase = "on_dock"
	PhaseInTransit         Phase = "in_transit"
	PhaseDelivered         Phase = "delivered"
)

var phaseOrder = []Phase{
	PhaseReadyToFulfill,
	PhaseReadyToSession,
	PhaseAwaitingDecisions,
	PhaseReadyToPick,
	PhasePicking,
	PhasePackingReady,
	PhaseOnDock,
	PhaseInTransit,
	PhaseDelivered,
}

// Rank returns the position of the phase in its total order, -1 when unknown
func (p Phase) Rank() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// IsValid returns true if the phase is known
func (p Phase) IsValid() bool {
	return p.Rank() >= 0
}

// String returns the string representation of Phase
func (p Phase) String() string {
	return string(p)
}

// Subphase is the position of an order inside PhaseAwaitingDecisions.
// Each subphase is a hard gate on its data precondition.
type Subphase string

const (
	SubphaseNone                Subphase = ""
	SubphaseNeedsHydration      Subphase = "needs_hydration"
	SubphaseNeedsCategorization Subphase = "needs_categorization"
	SubphaseNeedsFingerprint    Subphase = "needs_fingerprint"
	SubphaseNeedsPackaging      Subphase = "needs_packaging"
	SubphaseNeedsRateCheck      Subphase = "needs_rate_check"
	SubphaseNeedsSession        Subphase = "needs_session"
)

var subphaseOrder = []Subphase{
	SubphaseNeedsHydration,
	SubphaseNeedsCategorization,
	SubphaseNeedsFingerprint,
	SubphaseNeedsPackaging,
	SubphaseNeedsRateCheck,
	SubphaseNeedsSession,
}

// Rank returns the position of the subphase in its total order, -1 when unset or unknown
func (s Subphase) Rank() int {
	for i, candidate := range subphaseOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// IsValid returns true if the subphase is a known, non-empty value
func (s Subphase) IsValid() bool {
	return s.Rank() >= 0
}

// String returns the string representation of Subphase
func (s Subphase) String() string {
	return string(s)
}

// SideEffect is automation that may only run once its gate has been reached
type SideEffect string

const (
	SideEffectNone             SideEffect = ""
	SideEffectExplodeInventory SideEffect = "explode_inventory"
	SideEffectAssignPackaging  SideEffect = "assign_packaging"
	SideEffectCreateSession    SideEffect = "create_session"
)

// Stage is a phase plus, inside PhaseAwaitingDecisions, a subphase
type Stage struct {
	Phase    Phase
	Subphase Subphase
}

// NewStage builds a normalized stage
func NewStage(phase Phase, subphase Subphase) Stage {
	return Stage{Phase: phase, Subphase: subphase}.normalize()
}

// normalize clears the subphase outside the decision phase and defaults it inside
func (s Stage) normalize() Stage {
	if s.Phase != PhaseAwaitingDecisions {
		s.Subphase = SubphaseNone
		return s
	}
	if !s.Subphase.IsValid() {
		s.Subphase = SubphaseNeedsHydration
	}
	return s
}

// String returns "phase" or "phase/subphase"
func (s Stage) String() string {
	if s.Subphase == SubphaseNone {
		return string(s.Phase)
	}
	return string(s.Phase) + "/" + string(s.Subphase)
}

// Compare returns -1, 0 or 1 as s is behind, equal to or ahead of other.
// Subphases only take part in the comparison when both stages are in the decision phase.
func (s Stage) Compare(other Stage) int {
	a, b := s.Phase.Rank(), other.Phase.Rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	if s.Phase != PhaseAwaitingDecisions {
		return 0
	}
	sa, sb := s.Subphase.Rank(), other.Subphase.Rank()
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// SideEffect returns the automation unlocked by entering this stage
func (s Stage) SideEffect() SideEffect {
	if s.Phase != PhaseAwaitingDecisions {
		return SideEffectNone
	}
	switch s.Subphase {
	case SubphaseNeedsHydration:
		return SideEffectExplodeInventory
	case SubphaseNeedsPackaging:
		return SideEffectAssignPackaging
	case SubphaseNeedsSession:
		return SideEffectCreateSession
	default:
		return SideEffectNone
	}
}

// Advance returns proposed when it is not behind current, otherwise current.
// An unknown current stage accepts any known proposal; an unknown proposal never
// replaces a known current stage.
func Advance(current, proposed Stage) Stage {
	if !proposed.Phase.IsValid() {
		return current
	}
	proposed = proposed.normalize()
	if !current.Phase.IsValid() {
		return proposed
	}
	if proposed.Compare(current.normalize()) < 0 {
		return current
	}
	return proposed
}

// IsRegression returns true if moving from current to proposed would go backward
func IsRegression(current, proposed Stage) bool {
	return Advance(current, proposed) != proposed.normalize()
}
