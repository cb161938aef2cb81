package contracts

import "time"

// RequirementState classifies one material requirement at a point in time.
type RequirementState string

const (
	RequirementOK           RequirementState = "OK"
	RequirementMissing      RequirementState = "MISSING"
	RequirementInsufficient RequirementState = "INSUFFICIENT"
)

// RequirementStatus is the point-in-time status of one requirement.
type RequirementStatus struct {
	Type          string           `json:"type"`
	RequiredTruth TruthClass       `json:"requiredTruth"`
	Status        RequirementState `json:"status"`
	CurrentTruth  TruthClass       `json:"currentTruth,omitempty"`
}

// ApprovalSummary is the point-in-time approval standing for one rule.
type ApprovalSummary struct {
	Action          Action         `json:"action"`
	Threshold       int            `json:"threshold"`
	CurrentCount    int            `json:"currentCount"`
	SatisfiedByRole map[string]int `json:"satisfiedByRole"`
	Satisfied       bool           `json:"satisfied"`
}

// SnapshotTimeline summarizes the event stream up to the snapshot time.
type SnapshotTimeline struct {
	Count         int        `json:"count"`
	LastEventAt   *time.Time `json:"lastEventAt,omitempty"`
	LastEventType EventType  `json:"lastEventType,omitempty"`
}

// SnapshotIntegrity states how the snapshot was derived.
type SnapshotIntegrity struct {
	ReplayFrom    string `json:"replayFrom"`
	Deterministic bool   `json:"deterministic"`
}

// Snapshot is the canonical point-in-time view of a deal: projection,
// approvals, material requirements and timeline, all derived by replaying
// events and material revisions up to At.
type Snapshot struct {
	DealID               string                         `json:"dealId"`
	At                   time.Time                      `json:"at"`
	Projection           Projection                     `json:"projection"`
	Rules                []AuthorityRule                `json:"rules"`
	Events               []Event                        `json:"events"`
	Materials            []MaterialRevision             `json:"materials"`
	Approvals            []ApprovalSummary              `json:"approvals"`
	MaterialRequirements map[Action][]RequirementStatus `json:"materialRequirements"`
	Timeline             SnapshotTimeline               `json:"timeline"`
	Integrity            SnapshotIntegrity              `json:"integrity"`
}
