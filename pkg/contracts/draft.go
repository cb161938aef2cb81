package contracts

import (
	"encoding/json"
	"time"
)

// DraftState is the per-deal sandbox bucket. Zero or one per deal; created on
// first simulation, deleted on revert or commit.
type DraftState struct {
	ID        string    `json:"id"`
	DealID    string    `json:"dealId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SimulatedEvent is an uncommitted event layered on top of the committed log
// for what-if projection. It never joins the ledger until commit.
type SimulatedEvent struct {
	ID               string          `json:"id"`
	DraftStateID     string          `json:"draftStateId"`
	Type             EventType       `json:"type"`
	ActorID          string          `json:"actorId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	AuthorityContext json.RawMessage `json:"authorityContext,omitempty"`
	EvidenceRefs     []string        `json:"evidenceRefs,omitempty"`
	SequenceOrder    int             `json:"sequenceOrder"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// ProjectionGate is a cached gate preview over committed ++ simulated events,
// regenerated on every simulation.
type ProjectionGate struct {
	ID           string   `json:"id"`
	DraftStateID string   `json:"draftStateId"`
	Action       Action   `json:"action"`
	IsBlocked    bool     `json:"isBlocked"`
	Reasons      []Reason `json:"reasons"`
	NextSteps    []string `json:"nextSteps"`
}

// DraftDiff compares the committed projection with the draft projection.
type DraftDiff struct {
	Committed struct {
		State       LifecycleState `json:"state"`
		StressMode  StressMode     `json:"stressMode"`
		EventsCount int            `json:"eventsCount"`
	} `json:"committed"`
	Draft struct {
		State                LifecycleState `json:"state"`
		StressMode           StressMode     `json:"stressMode"`
		SimulatedEventsCount int            `json:"simulatedEventsCount"`
	} `json:"draft"`
	DeltaEvents []SimulatedEvent `json:"deltaEvents"`
}
