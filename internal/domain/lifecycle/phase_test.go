package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhase_Rank(t *testing.T) {
	for i := 1; i < len(phaseOrder); i++ {
		assert.Greater(t, phaseOrder[i].Rank(), phaseOrder[i-1].Rank())
	}
	assert.Equal(t, -1, Phase("bogus").Rank())
	assert.False(t, Phase("").IsValid())
}

func TestSubphase_Rank(t *testing.T) {
	for i := 1; i < len(subphaseOrder); i++ {
		assert.Greater(t, subphaseOrder[i].Rank(), subphaseOrder[i-1].Rank())
	}
	assert.Equal(t, -1, SubphaseNone.Rank())
}

func TestAdvance(t *testing.T) {
	picking := NewStage(PhasePicking, SubphaseNone)
	readyToPick := NewStage(PhaseReadyToPick, SubphaseNone)
	packaging := NewStage(PhaseAwaitingDecisions, SubphaseNeedsPackaging)
	hydration := NewStage(PhaseAwaitingDecisions, SubphaseNeedsHydration)

	tests := []struct {
		name     string
		current  Stage
		proposed Stage
		want     Stage
	}{
		{"phase regression is dropped", picking, readyToPick, picking},
		{"phase advance is applied", readyToPick, picking, picking},
		{"same stage is kept", picking, picking, picking},
		{"subphase regression is dropped", packaging, hydration, packaging},
		{"subphase advance is applied", hydration, packaging, packaging},
		{"leaving the decision phase clears subphase", packaging, readyToPick, readyToPick},
		{"entering decision phase from earlier phase", NewStage(PhaseReadyToSession, SubphaseNone), hydration, hydration},
		{"unknown current accepts proposal", Stage{}, picking, picking},
		{"unknown proposal is dropped", picking, Stage{Phase: "bogus"}, picking},
		{"decision phase without subphase defaults to hydration", NewStage(PhaseReadyToFulfill, SubphaseNone), Stage{Phase: PhaseAwaitingDecisions}, hydration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Advance(tt.current, tt.proposed))
		})
	}
}

func TestIsRegression(t *testing.T) {
	assert.True(t, IsRegression(NewStage(PhasePicking, SubphaseNone), NewStage(PhaseReadyToPick, SubphaseNone)))
	assert.False(t, IsRegression(NewStage(PhasePicking, SubphaseNone), NewStage(PhasePicking, SubphaseNone)))
	assert.True(t, IsRegression(
		NewStage(PhaseAwaitingDecisions, SubphaseNeedsRateCheck),
		NewStage(PhaseAwaitingDecisions, SubphaseNeedsFingerprint),
	))
}

// Advance must never produce a stage behind current, for every pair of stages
func TestAdvance_NeverRegresses(t *testing.T) {
	var all []Stage
	for _, p := range phaseOrder {
		if p == PhaseAwaitingDecisions {
			for _, s := range subphaseOrder {
				all = append(all, NewStage(p, s))
			}
			continue
		}
		all = append(all, NewStage(p, SubphaseNone))
	}

	for _, current := range all {
		for _, proposed := range all {
			got := Advance(current, proposed)
			assert.GreaterOrEqual(t, got.Compare(current), 0, "%s -> %s gave %s", current, proposed, got)
		}
	}
}

func TestStage_SideEffect(t *testing.T) {
	assert.Equal(t, SideEffectExplodeInventory, NewStage(PhaseAwaitingDecisions, SubphaseNeedsHydration).SideEffect())
	assert.Equal(t, SideEffectAssignPackaging, NewStage(PhaseAwaitingDecisions, SubphaseNeedsPackaging).SideEffect())
	assert.Equal(t, SideEffectCreateSession, NewStage(PhaseAwaitingDecisions, SubphaseNeedsSession).SideEffect())
	assert.Equal(t, SideEffectNone, NewStage(PhaseAwaitingDecisions, SubphaseNeedsFingerprint).SideEffect())
	assert.Equal(t, SideEffectNone, NewStage(PhasePicking, SubphaseNone).SideEffect())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "picking", NewStage(PhasePicking, SubphaseNeedsSession).String())
	assert.Equal(t, "awaiting_decisions/needs_rate_check", NewStage(PhaseAwaitingDecisions, SubphaseNeedsRateCheck).String())
}
