package lifecycle

import (
	"time"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// DefaultHoldFallback is how long a pending shipment that was never seen on hold is
// kept out of evaluation while waiting for a hold signal
const DefaultHoldFallback = 10 * time.Minute

// Facts is everything evaluation needs to know about one order
type Facts struct {
	HasItems            bool
	ItemsHydrated       bool
	ItemsCategorized    bool
	FingerprintComputed bool
	PackagingAssigned   bool
	RateChecked         bool
	SessionAssigned     bool
	PickStarted         bool
	PickCompleted       bool
	Shipments           []shipping.Shipment
}

// IsEvaluable reports whether a shipment may take part in lifecycle evaluation.
//
// An on_hold shipment may still be mutated by remote automation and is excluded until
// the hold is released (on_hold -> pending). A pending shipment that never went through
// a hold is excluded until fallback has elapsed since it was first observed, so a missed
// hold signal cannot stall the order forever.
func IsEvaluable(s shipping.Shipment, now time.Time, fallback time.Duration) bool {
	switch s.Status {
	case shipping.ShipmentStatusOnHold:
		return false
	case shipping.ShipmentStatusPending:
		if s.HoldReleasedAt != nil {
			return true
		}
		return !now.Before(s.FirstObservedAt.Add(fallback))
	default:
		return true
	}
}

// Evaluator computes the stage an order's facts support
type Evaluator struct {
	holdFallback time.Duration
}

// NewEvaluator creates an evaluator; a non-positive fallback uses DefaultHoldFallback
func NewEvaluator(holdFallback time.Duration) *Evaluator {
	if holdFallback <= 0 {
		holdFallback = DefaultHoldFallback
	}
	return &Evaluator{holdFallback: holdFallback}
}

// HoldFallback returns the configured hold fallback
func (e *Evaluator) HoldFallback() time.Duration {
	return e.holdFallback
}

// Evaluate returns the stage supported by the facts. ok is false when the order has
// shipments but every live one is still gated by a hold; the caller must not write.
func (e *Evaluator) Evaluate(f Facts, now time.Time) (stage Stage, ok bool) {
	var live, evaluable []shipping.Shipment
	for _, s := range f.Shipments {
		if s.Status == shipping.ShipmentStatusCancelled {
			continue
		}
		live = append(live, s)
		if IsEvaluable(s, now, e.holdFallback) {
			evaluable = append(evaluable, s)
		}
	}
	if len(live) > 0 && len(evaluable) == 0 {
		return Stage{}, false
	}

	if anyStatus(evaluable, shipping.ShipmentStatusDelivered) {
		return NewStage(PhaseDelivered, SubphaseNone), true
	}
	if anyStatus(evaluable, shipping.ShipmentStatusInTransit) {
		return NewStage(PhaseInTransit, SubphaseNone), true
	}
	if anyStatus(evaluable, shipping.ShipmentStatusShipped) {
		return NewStage(PhaseOnDock, SubphaseNone), true
	}

	// warehouse progress only counts once every decision gate has been passed
	gate := decisionGate(f)
	decided := f.HasItems && gate == SubphaseNeedsSession
	switch {
	case decided && f.PickCompleted:
		return NewStage(PhasePackingReady, SubphaseNone), true
	case decided && f.PickStarted:
		return NewStage(PhasePicking, SubphaseNone), true
	case decided && f.SessionAssigned:
		return NewStage(PhaseReadyToPick, SubphaseNone), true
	case len(evaluable) == 0:
		return NewStage(PhaseReadyToFulfill, SubphaseNone), true
	case !f.HasItems:
		return NewStage(PhaseReadyToSession, SubphaseNone), true
	}

	return NewStage(PhaseAwaitingDecisions, gate), true
}

// decisionGate returns the first subphase whose precondition is not yet met.
// Gates are checked in order and never skipped.
func decisionGate(f Facts) Subphase {
	switch {
	case !f.ItemsHydrated:
		return SubphaseNeedsHydration
	case !f.ItemsCategorized:
		return SubphaseNeedsCategorization
	case !f.FingerprintComputed:
		return SubphaseNeedsFingerprint
	case !f.PackagingAssigned:
		return SubphaseNeedsPackaging
	case !f.RateChecked:
		return SubphaseNeedsRateCheck
	default:
		return SubphaseNeedsSession
	}
}

func anyStatus(shipments []shipping.Shipment, status shipping.ShipmentStatus) bool {
	for _, s := range shipments {
		if s.Status == status {
			return true
		}
	}
	return false
}
