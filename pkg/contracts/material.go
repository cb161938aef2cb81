package contracts

import (
	"encoding/json"
	"time"
)

// TruthClass states how a material's assertion is backed.
type TruthClass string

const (
	TruthAI    TruthClass = "AI"
	TruthHuman TruthClass = "HUMAN"
	TruthDoc   TruthClass = "DOC"
)

// Rank encodes the total order AI < HUMAN < DOC.
func (t TruthClass) Rank() int {
	switch t {
	case TruthAI:
		return 1
	case TruthHuman:
		return 2
	case TruthDoc:
		return 3
	}
	return 0
}

// Satisfies reports whether this truth class meets the required one.
func (t TruthClass) Satisfies(required TruthClass) bool {
	return t.Rank() >= required.Rank()
}

// ValidTruthClass reports whether s names a known truth class.
func ValidTruthClass(s string) bool {
	return TruthClass(s).Rank() > 0
}

// MaterialObject is the current value of a typed, truth-classed piece of
// evidence. History lives in MaterialRevision rows.
type MaterialObject struct {
	ID         string          `json:"id"`
	DealID     string          `json:"dealId"`
	Type       string          `json:"type"`
	TruthClass TruthClass      `json:"truthClass"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// MaterialRevision is one append-only history row, written on every material
// create and update so snapshots at past times are exact.
type MaterialRevision struct {
	ID         string          `json:"id"`
	MaterialID string          `json:"materialId"`
	DealID     string          `json:"dealId"`
	Type       string          `json:"type"`
	TruthClass TruthClass      `json:"truthClass"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// EvidenceRefs extracts the evidenceRefs list from the material data
// envelope, if present.
func (r *MaterialRevision) EvidenceRefs() []string {
	return evidenceRefsFromData(r.Data)
}

// EvidenceRefs extracts the evidenceRefs list from the material data
// envelope, if present.
func (m *MaterialObject) EvidenceRefs() []string {
	return evidenceRefsFromData(m.Data)
}

func evidenceRefsFromData(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var envelope struct {
		EvidenceRefs []string `json:"evidenceRefs"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	return envelope.EvidenceRefs
}

// MaterialRequirement is one (type, requiredTruth) pair an action demands.
type MaterialRequirement struct {
	Type          string     `json:"type"`
	RequiredTruth TruthClass `json:"requiredTruth"`
}

// Material requirement tables per gated action. Fixed by policy.
var materialRequirements = map[Action][]MaterialRequirement{
	ActionApproveDeal: {
		{Type: "UnderwritingSummary", RequiredTruth: TruthHuman},
	},
	ActionAttestReadyToClose: {
		{Type: "FinalUnderwriting", RequiredTruth: TruthDoc},
		{Type: "SourcesAndUses", RequiredTruth: TruthDoc},
	},
	ActionFinalizeClosing: {
		{Type: "WireConfirmation", RequiredTruth: TruthDoc},
		{Type: "EntityFormationDocs", RequiredTruth: TruthDoc},
	},
	ActionActivateOperations: {
		{Type: "PropertyManagementAgreement", RequiredTruth: TruthDoc},
	},
}

// RequirementsFor returns the material requirements of an action (nil when
// the action is not material-gated).
func RequirementsFor(a Action) []MaterialRequirement {
	return materialRequirements[a]
}
