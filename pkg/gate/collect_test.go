package gate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/store"
)

func TestCollector_ForSubmission(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	deal := &contracts.Deal{
		ID: uuid.NewString(), Name: "deal",
		State: contracts.StateUnderReview, StressMode: contracts.StressNormal,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.CreateDeal(ctx, deal))
	require.NoError(t, s.CreateAuthorityRule(ctx, &contracts.AuthorityRule{
		DealID: deal.ID, Action: contracts.ActionApproveDeal,
		Threshold: 1, RolesAllowed: []string{contracts.RoleGP},
	}))

	gp := &contracts.Actor{ID: uuid.NewString(), Name: "gp", Type: contracts.ActorHuman, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateActor(ctx, gp))
	require.NoError(t, s.GrantRole(ctx, deal.ID, gp.ID, contracts.RoleGP, base))

	approval := contracts.Event{
		ID: uuid.NewString(), DealID: deal.ID,
		Type: contracts.EventApprovalGranted, ActorID: gp.ID,
		Payload:        json.RawMessage(`{"action":"APPROVE_DEAL"}`),
		EvidenceRefs:   []string{},
		SequenceNumber: 1, EventHash: "h1",
		CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, s.InsertEvent(ctx, &approval))

	now := base.Add(2 * time.Minute)
	mat := &contracts.MaterialObject{
		ID: uuid.NewString(), DealID: deal.ID, Type: "UnderwritingSummary",
		TruthClass: contracts.TruthHuman, Data: json.RawMessage(`{}`),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateMaterial(ctx, mat))

	submit := &contracts.Event{
		DealID: deal.ID, Type: contracts.EventDealApproved,
		ActorID: gp.ID, CreatedAt: now,
	}
	in, err := NewCollector(s).ForSubmission(ctx, deal.ID, submit, contracts.ActionApproveDeal, nil)
	require.NoError(t, err)

	assert.True(t, in.EnforceAuthority)
	assert.True(t, in.GateChecksApply)
	assert.Equal(t, []string{contracts.RoleGP}, in.SubmitterRoles)
	assert.Len(t, in.Events, 1)
	assert.Equal(t, []string{contracts.RoleGP}, in.ApproverRoles[gp.ID])
	require.Len(t, in.Materials, 1)
	assert.Equal(t, contracts.TruthHuman, in.Materials[0].TruthClass)

	got := Evaluate(in)
	assert.Equal(t, contracts.ExplainAllowed, got.Status)
}

func TestCollector_ApprovalCountsAfterLateRoleGrant(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	dealID := uuid.NewString()
	require.NoError(t, s.CreateDeal(ctx, &contracts.Deal{
		ID: dealID, Name: "deal", State: contracts.StateUnderReview,
		StressMode: contracts.StressNormal, CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, s.CreateAuthorityRule(ctx, &contracts.AuthorityRule{
		DealID: dealID, Action: contracts.ActionApproveDeal,
		Threshold: 1, RolesAllowed: []string{contracts.RoleGP},
	}))
	require.NoError(t, s.CreateMaterial(ctx, &contracts.MaterialObject{
		ID: uuid.NewString(), DealID: dealID, Type: "UnderwritingSummary",
		TruthClass: contracts.TruthHuman, Data: json.RawMessage(`{}`),
		CreatedAt: base, UpdatedAt: base,
	}))

	// The approval lands before the approver's role grant.
	approver := &contracts.Actor{ID: uuid.NewString(), Name: "late-gp", Type: contracts.ActorHuman, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateActor(ctx, approver))
	require.NoError(t, s.InsertEvent(ctx, &contracts.Event{
		ID: uuid.NewString(), DealID: dealID,
		Type: contracts.EventApprovalGranted, ActorID: approver.ID,
		Payload:      json.RawMessage(`{"action":"APPROVE_DEAL"}`),
		EvidenceRefs: []string{},
		SequenceNumber: 1, EventHash: "h1",
		CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.GrantRole(ctx, dealID, approver.ID, contracts.RoleGP, base.Add(5*time.Minute)))

	c := NewCollector(s)

	// Before the grant the approver holds no allowed role.
	before, err := c.Preview(ctx, dealID, contracts.ActionApproveDeal, nil, base.Add(2*time.Minute))
	require.NoError(t, err)
	got := Evaluate(before)
	require.Equal(t, contracts.ExplainBlocked, got.Status)
	require.NotEmpty(t, got.Reasons)
	assert.Equal(t, contracts.ReasonApprovalThreshold, got.Reasons[0].Code)

	// At evaluation time the role is held, so the earlier approval counts.
	after, err := c.Preview(ctx, dealID, contracts.ActionApproveDeal, nil, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{contracts.RoleGP}, after.ApproverRoles[approver.ID])
	assert.Equal(t, contracts.ExplainAllowed, Evaluate(after).Status)
}

func TestCollector_AtTimeEnforcesAuthorityForActor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	dealID := uuid.NewString()
	require.NoError(t, s.CreateDeal(ctx, &contracts.Deal{
		ID: dealID, Name: "deal", State: contracts.StateUnderReview,
		StressMode: contracts.StressNormal, CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, s.CreateAuthorityRule(ctx, &contracts.AuthorityRule{
		DealID: dealID, Action: contracts.ActionApproveDeal,
		Threshold: 0, RolesAllowed: []string{contracts.RoleGP},
	}))

	outsider := &contracts.Actor{ID: uuid.NewString(), Name: "auditor", Type: contracts.ActorHuman, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateActor(ctx, outsider))
	require.NoError(t, s.GrantRole(ctx, dealID, outsider.ID, contracts.RoleAuditor, base))

	c := NewCollector(s)

	in, _, err := c.AtTime(ctx, dealID, contracts.ActionApproveDeal, outsider.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, in.EnforceAuthority)
	assert.Equal(t, []string{contracts.RoleAuditor}, in.SubmitterRoles)

	got := Evaluate(in)
	require.Equal(t, contracts.ExplainBlocked, got.Status)
	require.Len(t, got.Reasons, 1)
	assert.Equal(t, contracts.ReasonAuthority, got.Reasons[0].Code)
}

func TestCollector_AtTimeUsesRevisionHistory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	dealID := uuid.NewString()
	require.NoError(t, s.CreateDeal(ctx, &contracts.Deal{
		ID: dealID, Name: "deal", State: contracts.StateUnderReview,
		StressMode: contracts.StressNormal, CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, s.CreateAuthorityRule(ctx, &contracts.AuthorityRule{
		DealID: dealID, Action: contracts.ActionApproveDeal,
		Threshold: 0, RolesAllowed: []string{contracts.RoleGP},
	}))

	matID := uuid.NewString()
	// AI at t0, upgraded to HUMAN at t0+1h.
	require.NoError(t, s.InsertMaterialRevision(ctx, &contracts.MaterialRevision{
		ID: uuid.NewString(), MaterialID: matID, DealID: dealID,
		Type: "UnderwritingSummary", TruthClass: contracts.TruthAI,
		Data: json.RawMessage(`{}`), CreatedAt: base,
	}))
	require.NoError(t, s.InsertMaterialRevision(ctx, &contracts.MaterialRevision{
		ID: uuid.NewString(), MaterialID: matID, DealID: dealID,
		Type: "UnderwritingSummary", TruthClass: contracts.TruthHuman,
		Data: json.RawMessage(`{}`), CreatedAt: base.Add(time.Hour),
	}))

	c := NewCollector(s)

	early, revs, err := c.AtTime(ctx, dealID, contracts.ActionApproveDeal, "", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, contracts.TruthAI, revs[0].TruthClass)
	assert.Equal(t, contracts.ExplainBlocked, Evaluate(early).Status)

	late, revs, err := c.AtTime(ctx, dealID, contracts.ActionApproveDeal, "", base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, contracts.TruthHuman, revs[0].TruthClass)
	assert.Equal(t, contracts.ExplainAllowed, Evaluate(late).Status)
}
