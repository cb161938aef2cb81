// Package contracts defines the shared data contracts of the deal lifecycle
// kernel: deals, actors, events, authority rules, materials, artifacts and the
// Explain block. Every service package and the HTTP surface speak these types.
package contracts

import "time"

// LifecycleState is the derived lifecycle position of a deal.
type LifecycleState string

// Lifecycle states.
const (
	StateDraft        LifecycleState = "Draft"
	StateUnderReview  LifecycleState = "UnderReview"
	StateApproved     LifecycleState = "Approved"
	StateReadyToClose LifecycleState = "ReadyToClose"
	StateClosed       LifecycleState = "Closed"
	StateOperating    LifecycleState = "Operating"
	StateChanged      LifecycleState = "Changed"
	StateDistressed   LifecycleState = "Distressed"
	StateResolved     LifecycleState = "Resolved"
	StateFrozen       LifecycleState = "Frozen"
	StateExited       LifecycleState = "Exited"
	StateTerminated   LifecycleState = "Terminated"
)

// StressMode is the orthogonal stress condition of a deal.
type StressMode string

// Stress modes, in precedence order SM3 > SM2 > SM1 > SM0.
const (
	StressNormal    StressMode = "SM0"
	StressDisputed  StressMode = "SM1"
	StressDistress  StressMode = "SM2"
	StressFrozen    StressMode = "SM3"
)

// Deal is the aggregate root. State and StressMode always reflect the latest
// committed projection; only the event appender mutates them.
type Deal struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	State      LifecycleState `json:"state"`
	StressMode StressMode     `json:"stressMode"`
	IsDraft    bool           `json:"isDraft"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Projection is the pair derived by folding the event log.
type Projection struct {
	State      LifecycleState `json:"state"`
	StressMode StressMode     `json:"stressMode"`
}

// InitialProjection is the projection of an empty event log.
func InitialProjection() Projection {
	return Projection{State: StateDraft, StressMode: StressNormal}
}
