// Package projection derives a deal's lifecycle state and stress mode from
// its ordered event log. Project is a pure fold: no I/O, no clock, the same
// inputs always produce the same output.
package projection

import (
	"sort"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

// foldState carries the accumulator of the fold.
type foldState struct {
	state         contracts.LifecycleState
	lastNonFrozen contracts.LifecycleState
	disputed      bool
	distressOpen  int
}

// Project folds events into (lifecycleState, stressMode). Events are applied
// sorted by (createdAt ascending, id ascending); unknown or inapplicable
// events are no-ops.
func Project(initial contracts.Projection, events []contracts.Event) contracts.Projection {
	ordered := make([]contracts.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	acc := foldState{
		state:         initial.State,
		lastNonFrozen: initial.State,
	}
	if acc.state == contracts.StateFrozen {
		// A frozen initial projection has no recorded prior state; fall back
		// to Draft so a FreezeLifted still lands somewhere defined.
		acc.lastNonFrozen = contracts.StateDraft
	}

	for _, ev := range ordered {
		acc = apply(acc, ev)
	}

	return contracts.Projection{State: acc.state, StressMode: stressMode(acc)}
}

func apply(acc foldState, ev contracts.Event) foldState {
	switch ev.Type {
	case contracts.EventDataDisputed:
		acc.disputed = true
	case contracts.EventDistressDeclared:
		acc.distressOpen++
	case contracts.EventDistressResolved:
		if acc.distressOpen > 0 {
			acc.distressOpen--
		}
	}

	next, moved := transition(acc, ev.Type)
	if !moved {
		return acc
	}
	acc.state = next
	if next != contracts.StateFrozen {
		acc.lastNonFrozen = next
	}
	return acc
}

// transition returns the successor state for an event, or moved=false when
// the event does not apply in the current state.
func transition(acc foldState, t contracts.EventType) (contracts.LifecycleState, bool) {
	s := acc.state
	switch t {
	case contracts.EventReviewOpened:
		if s == contracts.StateDraft {
			return contracts.StateUnderReview, true
		}
	case contracts.EventDealApproved:
		if s == contracts.StateUnderReview {
			return contracts.StateApproved, true
		}
	case contracts.EventClosingReadinessAttested:
		if s == contracts.StateApproved {
			return contracts.StateReadyToClose, true
		}
	case contracts.EventClosingFinalized:
		if s == contracts.StateReadyToClose {
			return contracts.StateClosed, true
		}
	case contracts.EventOperationsActivated:
		if s == contracts.StateClosed || s == contracts.StateResolved {
			return contracts.StateOperating, true
		}
	case contracts.EventMaterialChangeDetected:
		if s == contracts.StateOperating {
			return contracts.StateChanged, true
		}
	case contracts.EventChangeReconciled:
		if s == contracts.StateChanged {
			return contracts.StateOperating, true
		}
	case contracts.EventDistressDeclared:
		if s == contracts.StateOperating || s == contracts.StateChanged {
			return contracts.StateDistressed, true
		}
	case contracts.EventDistressResolved:
		if s == contracts.StateDistressed {
			return contracts.StateResolved, true
		}
	case contracts.EventFreezeImposed:
		if s != contracts.StateExited && s != contracts.StateTerminated && s != contracts.StateFrozen {
			return contracts.StateFrozen, true
		}
	case contracts.EventFreezeLifted:
		if s == contracts.StateFrozen {
			return acc.lastNonFrozen, true
		}
	case contracts.EventExitFinalized:
		if s != contracts.StateTerminated && s != contracts.StateExited {
			return contracts.StateExited, true
		}
	case contracts.EventDealTerminated:
		if s != contracts.StateTerminated {
			return contracts.StateTerminated, true
		}
	}
	return s, false
}

// stressMode applies the precedence Frozen > distress > disputed > default.
func stressMode(acc foldState) contracts.StressMode {
	switch {
	case acc.state == contracts.StateFrozen:
		return contracts.StressFrozen
	case acc.distressOpen > 0:
		return contracts.StressDistress
	case acc.disputed:
		return contracts.StressDisputed
	default:
		return contracts.StressNormal
	}
}
