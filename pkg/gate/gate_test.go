package gate

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

func approvalEvent(actorID string, action contracts.Action, at time.Time) contracts.Event {
	return contracts.Event{
		ID:        fmt.Sprintf("ev-%s-%d", actorID, at.UnixNano()),
		Type:      contracts.EventApprovalGranted,
		ActorID:   actorID,
		Payload:   json.RawMessage(fmt.Sprintf(`{"action":%q}`, action)),
		CreatedAt: at,
	}
}

func overrideEvent(action contracts.Action, at time.Time) contracts.Event {
	return contracts.Event{
		Type:      contracts.EventOverrideAttested,
		Payload:   json.RawMessage(fmt.Sprintf(`{"action":%q,"reason":"audit-waived"}`, action)),
		CreatedAt: at,
	}
}

func approveRule(threshold int, roles ...string) *contracts.AuthorityRule {
	return &contracts.AuthorityRule{
		DealID:       "deal-1",
		Action:       contracts.ActionApproveDeal,
		Threshold:    threshold,
		RolesAllowed: roles,
	}
}

func TestResolveAction(t *testing.T) {
	t.Run("advance events map by type", func(t *testing.T) {
		a, err := ResolveAction(&contracts.Event{Type: contracts.EventClosingFinalized})
		require.NoError(t, err)
		assert.Equal(t, contracts.ActionFinalizeClosing, a)
	})
	t.Run("approvals carry the action in the payload", func(t *testing.T) {
		a, err := ResolveAction(&contracts.Event{
			Type:    contracts.EventApprovalGranted,
			Payload: json.RawMessage(`{"action":"FINALIZE_CLOSING"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, contracts.ActionFinalizeClosing, a)
	})
	t.Run("approval without action is rejected", func(t *testing.T) {
		_, err := ResolveAction(&contracts.Event{
			Type:    contracts.EventApprovalGranted,
			Payload: json.RawMessage(`{}`),
		})
		assert.Error(t, err)
	})
	t.Run("overrides resolve to OVERRIDE", func(t *testing.T) {
		a, err := ResolveAction(&contracts.Event{
			Type:    contracts.EventOverrideAttested,
			Payload: json.RawMessage(`{"action":"APPROVE_DEAL"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, contracts.ActionOverride, a)
	})
}

func TestEvaluate_Authority(t *testing.T) {
	in := Input{
		Action:           contracts.ActionApproveDeal,
		Rule:             approveRule(1, contracts.RoleGP),
		SubmitterRoles:   []string{contracts.RoleAuditor},
		EnforceAuthority: true,
		GateChecksApply:  true,
	}
	got := Evaluate(in)
	assert.Equal(t, contracts.ExplainBlocked, got.Status)
	require.Len(t, got.Reasons, 1)
	assert.Equal(t, contracts.ReasonAuthority, got.Reasons[0].Code)
	assert.True(t, AuthorityOnly(&got))
	require.Len(t, got.NextSteps, 1)
	assert.Equal(t, []string{contracts.RoleGP}, got.NextSteps[0].CanBeFixedByRoles)

	in.SubmitterRoles = []string{contracts.RoleGP}
	in.Events = []contracts.Event{approvalEvent("a1", contracts.ActionApproveDeal, time.Now())}
	in.ApproverRoles = map[string][]string{"a1": {contracts.RoleGP}}
	in.Materials = []MaterialFact{{Type: "UnderwritingSummary", TruthClass: contracts.TruthHuman}}
	got = Evaluate(in)
	assert.Equal(t, contracts.ExplainAllowed, got.Status)
}

func TestEvaluate_ApprovalThreshold(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	rule := &contracts.AuthorityRule{
		DealID: "deal-1", Action: contracts.ActionAttestReadyToClose,
		Threshold:    2,
		RolesAllowed: []string{contracts.RoleGP, contracts.RoleLegal},
	}
	in := Input{
		Action:           contracts.ActionAttestReadyToClose,
		Rule:             rule,
		SubmitterRoles:   []string{contracts.RoleGP},
		EnforceAuthority: true,
		GateChecksApply:  true,
		Materials: []MaterialFact{
			{Type: "FinalUnderwriting", TruthClass: contracts.TruthDoc},
			{Type: "SourcesAndUses", TruthClass: contracts.TruthDoc},
		},
	}

	t.Run("short one approval", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{approvalEvent("a1", contracts.ActionAttestReadyToClose, base)}
		in.ApproverRoles = map[string][]string{"a1": {contracts.RoleGP}}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		require.Len(t, got.Reasons, 1)
		r := got.Reasons[0]
		assert.Equal(t, contracts.ReasonApprovalThreshold, r.Code)
		assert.Equal(t, 2, r.Threshold)
		assert.Equal(t, 1, r.CurrentCount)
		assert.Equal(t, map[string]int{contracts.RoleGP: 1}, r.SatisfiedByRole)
	})

	t.Run("same actor cannot approve twice", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{
			approvalEvent("a1", contracts.ActionAttestReadyToClose, base),
			approvalEvent("a1", contracts.ActionAttestReadyToClose, base.Add(time.Minute)),
		}
		in.ApproverRoles = map[string][]string{"a1": {contracts.RoleGP}}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		assert.Equal(t, 1, got.Reasons[0].CurrentCount)
	})

	t.Run("approvals from non-allowed roles do not count", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{
			approvalEvent("a1", contracts.ActionAttestReadyToClose, base),
			approvalEvent("a2", contracts.ActionAttestReadyToClose, base.Add(time.Minute)),
		}
		in.ApproverRoles = map[string][]string{
			"a1": {contracts.RoleGP},
			"a2": {contracts.RoleAuditor},
		}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		assert.Equal(t, 1, got.Reasons[0].CurrentCount)
	})

	t.Run("approvals for another action do not count", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{
			approvalEvent("a1", contracts.ActionAttestReadyToClose, base),
			approvalEvent("a2", contracts.ActionApproveDeal, base.Add(time.Minute)),
		}
		in.ApproverRoles = map[string][]string{
			"a1": {contracts.RoleGP},
			"a2": {contracts.RoleLegal},
		}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
	})

	t.Run("threshold met", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{
			approvalEvent("a1", contracts.ActionAttestReadyToClose, base),
			approvalEvent("a2", contracts.ActionAttestReadyToClose, base.Add(time.Minute)),
		}
		in.ApproverRoles = map[string][]string{
			"a1": {contracts.RoleGP},
			"a2": {contracts.RoleLegal},
		}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainAllowed, got.Status)
		assert.Empty(t, got.Reasons)
	})
}

func TestEvaluate_MaterialRequirements(t *testing.T) {
	in := Input{
		Action:           contracts.ActionApproveDeal,
		Rule:             approveRule(0, contracts.RoleGP),
		SubmitterRoles:   []string{contracts.RoleGP},
		EnforceAuthority: true,
		GateChecksApply:  true,
	}

	t.Run("missing material", func(t *testing.T) {
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		require.Len(t, got.Reasons, 1)
		assert.Equal(t, contracts.ReasonMissingMaterial, got.Reasons[0].Code)
		assert.Equal(t, "UnderwritingSummary", got.Reasons[0].MaterialType)
		assert.Equal(t, contracts.TruthHuman, got.Reasons[0].RequiredTruth)
	})

	t.Run("AI does not satisfy HUMAN", func(t *testing.T) {
		in := in
		in.Materials = []MaterialFact{{Type: "UnderwritingSummary", TruthClass: contracts.TruthAI}}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		require.Len(t, got.Reasons, 1)
		r := got.Reasons[0]
		assert.Equal(t, contracts.ReasonInsufficientTruth, r.Code)
		assert.Equal(t, contracts.TruthAI, r.CurrentTruth)
		assert.Equal(t, contracts.TruthHuman, r.RequiredTruth)
	})

	t.Run("DOC exceeds HUMAN", func(t *testing.T) {
		in := in
		in.Materials = []MaterialFact{{Type: "UnderwritingSummary", TruthClass: contracts.TruthDoc}}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainAllowed, got.Status)
	})

	t.Run("best of several materials wins", func(t *testing.T) {
		in := in
		in.Materials = []MaterialFact{
			{Type: "UnderwritingSummary", TruthClass: contracts.TruthAI},
			{Type: "UnderwritingSummary", TruthClass: contracts.TruthHuman},
		}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainAllowed, got.Status)
	})
}

func TestEvaluate_Override(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	in := Input{
		Action:           contracts.ActionApproveDeal,
		Rule:             approveRule(1, contracts.RoleGP),
		OverrideRule:     &contracts.AuthorityRule{Action: contracts.ActionOverride, RolesAllowed: []string{contracts.RoleCourt}},
		SubmitterRoles:   []string{contracts.RoleGP},
		EnforceAuthority: true,
		GateChecksApply:  true,
	}

	t.Run("standing override clears threshold and material blocks", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{overrideEvent(contracts.ActionApproveDeal, base)}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainAllowed, got.Status)
	})

	t.Run("override without a reason is invalid", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{{
			Type:      contracts.EventOverrideAttested,
			Payload:   json.RawMessage(`{"action":"APPROVE_DEAL"}`),
			CreatedAt: base,
		}}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
	})

	t.Run("override for another action does not help", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{overrideEvent(contracts.ActionImposeFreeze, base)}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
	})

	t.Run("a later advance consumes the override", func(t *testing.T) {
		in := in
		in.Events = []contracts.Event{
			overrideEvent(contracts.ActionApproveDeal, base),
			{Type: contracts.EventDealApproved, CreatedAt: base.Add(time.Minute)},
		}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
	})

	t.Run("override never bypasses authority", func(t *testing.T) {
		in := in
		in.SubmitterRoles = []string{contracts.RoleAuditor}
		in.Events = []contracts.Event{overrideEvent(contracts.ActionApproveDeal, base)}
		got := Evaluate(in)
		assert.Equal(t, contracts.ExplainBlocked, got.Status)
		assert.Equal(t, contracts.ReasonAuthority, got.Reasons[0].Code)
	})

	t.Run("blocked explains carry the override roles", func(t *testing.T) {
		got := Evaluate(in)
		require.Equal(t, contracts.ExplainBlocked, got.Status)
		require.NotEmpty(t, got.NextSteps)
		assert.Equal(t, []string{contracts.RoleCourt}, got.NextSteps[0].CanBeOverriddenByRoles)
	})
}

// An approval submission is not the gate event of its target action, so only
// the authority check applies to it.
func TestEvaluate_ApprovalSubmissionSkipsGateChecks(t *testing.T) {
	in := Input{
		Action:           contracts.ActionApproveDeal,
		Rule:             approveRule(3, contracts.RoleGP),
		SubmitterRoles:   []string{contracts.RoleGP},
		EnforceAuthority: true,
		GateChecksApply:  false,
	}
	got := Evaluate(in)
	assert.Equal(t, contracts.ExplainAllowed, got.Status)
}

// Replay has no submitter: authority is not enforced, gate checks are.
func TestEvaluate_ReplaySkipsAuthority(t *testing.T) {
	in := Input{
		Action:          contracts.ActionApproveDeal,
		Rule:            approveRule(1, contracts.RoleGP),
		GateChecksApply: true,
	}
	got := Evaluate(in)
	assert.Equal(t, contracts.ExplainBlocked, got.Status)
	for _, r := range got.Reasons {
		assert.NotEqual(t, contracts.ReasonAuthority, r.Code)
	}
}
