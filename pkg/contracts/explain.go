package contracts

import "time"

// ReasonCode identifies why a gate blocks an action.
type ReasonCode string

const (
	ReasonAuthority         ReasonCode = "AUTHORITY"
	ReasonApprovalThreshold ReasonCode = "APPROVAL_THRESHOLD"
	ReasonMissingMaterial   ReasonCode = "MISSING_MATERIAL"
	ReasonInsufficientTruth ReasonCode = "INSUFFICIENT_TRUTH"
)

// Reason is one machine-readable blocking reason. Only the fields relevant
// to the code are populated.
type Reason struct {
	Code    ReasonCode `json:"code"`
	Message string     `json:"message"`

	// APPROVAL_THRESHOLD detail.
	Threshold       int            `json:"threshold,omitempty"`
	CurrentCount    int            `json:"currentCount,omitempty"`
	RolesAllowed    []string       `json:"rolesAllowed,omitempty"`
	SatisfiedByRole map[string]int `json:"satisfiedByRole,omitempty"`

	// MISSING_MATERIAL / INSUFFICIENT_TRUTH detail.
	MaterialType  string     `json:"materialType,omitempty"`
	RequiredTruth TruthClass `json:"requiredTruth,omitempty"`
	CurrentTruth  TruthClass `json:"currentTruth,omitempty"`
}

// NextStep tells the caller how a blocked action can be unblocked.
type NextStep struct {
	Description            string   `json:"description"`
	CanBeFixedByRoles      []string `json:"canBeFixedByRoles"`
	CanBeOverriddenByRoles []string `json:"canBeOverriddenByRoles"`
}

// Explain statuses.
const (
	ExplainBlocked = "BLOCKED"
	ExplainAllowed = "ALLOWED"
)

// Explain is the structured result of a gate evaluation. It is product
// surface, not an error: live appends return it with HTTP 409, explain
// replay with HTTP 200.
type Explain struct {
	Action    Action     `json:"action"`
	Status    string     `json:"status"`
	Reasons   []Reason   `json:"reasons,omitempty"`
	NextSteps []NextStep `json:"nextSteps,omitempty"`

	// Replay-only fields.
	At                *time.Time   `json:"at,omitempty"`
	ProjectionSummary *Projection  `json:"projectionSummary,omitempty"`
	InputsUsed        *ExplainInputs `json:"inputsUsed,omitempty"`
}

// Blocked reports whether the evaluation produced blocking reasons.
func (e *Explain) Blocked() bool { return e.Status == ExplainBlocked }

// ExplainInputs captures the point-in-time inputs an explain replay used.
type ExplainInputs struct {
	ApprovalsAtT int                 `json:"approvalsAtT"`
	MaterialsAtT ExplainMaterials    `json:"materialsAtT"`
	DealStateAtT Projection          `json:"dealStateAtT"`
}

// ExplainMaterials lists the materials visible at t next to the action's
// requirement table.
type ExplainMaterials struct {
	List         []MaterialRevision    `json:"list"`
	Requirements []MaterialRequirement `json:"requirements"`
}
