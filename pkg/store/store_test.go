package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

// The conformance suite runs against every Store implementation that can be
// opened without external infrastructure.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func newTestDeal(name string) *contracts.Deal {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &contracts.Deal{
		ID:         uuid.NewString(),
		Name:       name,
		State:      contracts.StateDraft,
		StressMode: contracts.StressNormal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_DealRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("Riverside Acquisition")
			require.NoError(t, s.CreateDeal(ctx, deal))
			assert.ErrorIs(t, s.CreateDeal(ctx, deal), ErrDuplicate)

			got, err := s.GetDeal(ctx, deal.ID)
			require.NoError(t, err)
			assert.Equal(t, deal.Name, got.Name)
			assert.Equal(t, contracts.StateDraft, got.State)
			assert.WithinDuration(t, deal.CreatedAt, got.CreatedAt, time.Millisecond)

			_, err = s.GetDeal(ctx, uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.UpdateDealProjection(ctx, deal.ID,
				contracts.Projection{State: contracts.StateUnderReview, StressMode: contracts.StressNormal}, false))
			got, err = s.GetDeal(ctx, deal.ID)
			require.NoError(t, err)
			assert.Equal(t, contracts.StateUnderReview, got.State)

			all, err := s.ListDeals(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStore_RolesArePointInTime(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("deal")
			require.NoError(t, s.CreateDeal(ctx, deal))
			now := time.Now().UTC().Truncate(time.Microsecond)
			actor := &contracts.Actor{
				ID: uuid.NewString(), Name: "Dana", Type: contracts.ActorHuman,
				CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, s.CreateActor(ctx, actor))

			grantedAt := now.Add(time.Minute)
			require.NoError(t, s.GrantRole(ctx, deal.ID, actor.ID, contracts.RoleGP, grantedAt))
			// Same grant again is a no-op.
			require.NoError(t, s.GrantRole(ctx, deal.ID, actor.ID, contracts.RoleGP, grantedAt.Add(time.Hour)))

			before, err := s.RolesForActor(ctx, deal.ID, actor.ID, now)
			require.NoError(t, err)
			assert.Empty(t, before)

			after, err := s.RolesForActor(ctx, deal.ID, actor.ID, grantedAt.Add(time.Second))
			require.NoError(t, err)
			assert.Equal(t, []string{contracts.RoleGP}, after)

			actors, err := s.ListDealActors(ctx, deal.ID)
			require.NoError(t, err)
			require.Len(t, actors, 1)
			assert.Equal(t, "Dana", actors[0].Name)
			assert.Equal(t, []string{contracts.RoleGP}, actors[0].Roles)
		})
	}
}

func TestStore_AuthorityRules(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("deal")
			require.NoError(t, s.CreateDeal(ctx, deal))
			rule := &contracts.AuthorityRule{
				DealID:        deal.ID,
				Action:        contracts.ActionApproveDeal,
				Threshold:     2,
				RolesAllowed:  []string{contracts.RoleGP, contracts.RoleLegal},
				RolesRequired: []string{},
			}
			require.NoError(t, s.CreateAuthorityRule(ctx, rule))
			assert.ErrorIs(t, s.CreateAuthorityRule(ctx, rule), ErrDuplicate)

			got, err := s.GetAuthorityRule(ctx, deal.ID, contracts.ActionApproveDeal)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Threshold)
			assert.Equal(t, []string{contracts.RoleGP, contracts.RoleLegal}, got.RolesAllowed)

			_, err = s.GetAuthorityRule(ctx, deal.ID, contracts.ActionImposeFreeze)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_EventLedger(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("deal")
			require.NoError(t, s.CreateDeal(ctx, deal))

			base := time.Now().UTC().Truncate(time.Microsecond)
			var prevHash *string
			for i := int64(1); i <= 3; i++ {
				hash := uuid.NewString()
				ev := &contracts.Event{
					ID:                uuid.NewString(),
					DealID:            deal.ID,
					Type:              contracts.EventReviewOpened,
					Payload:           json.RawMessage(`{"note":"n"}`),
					EvidenceRefs:      []string{},
					SequenceNumber:    i,
					PreviousEventHash: prevHash,
					EventHash:         hash,
					CreatedAt:         base.Add(time.Duration(i) * time.Second),
				}
				require.NoError(t, s.InsertEvent(ctx, ev))
				prevHash = &hash
			}

			// The (deal, sequence) pair is unique.
			dup := &contracts.Event{
				ID: uuid.NewString(), DealID: deal.ID, Type: contracts.EventReviewOpened,
				Payload: json.RawMessage(`{}`), EvidenceRefs: []string{},
				SequenceNumber: 3, EventHash: "h", CreatedAt: base,
			}
			assert.ErrorIs(t, s.InsertEvent(ctx, dup), ErrDuplicate)

			last, err := s.LastEvent(ctx, deal.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(3), last.SequenceNumber)
			require.NotNil(t, last.PreviousEventHash)

			all, err := s.ListEvents(ctx, deal.ID)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Nil(t, all[0].PreviousEventHash)
			assert.JSONEq(t, `{"note":"n"}`, string(all[0].Payload))

			upTo, err := s.ListEventsUpTo(ctx, deal.ID, base.Add(2*time.Second))
			require.NoError(t, err)
			assert.Len(t, upTo, 2)

			_, err = s.LastEvent(ctx, uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_MaterialsAndRevisions(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("deal")
			require.NoError(t, s.CreateDeal(ctx, deal))

			now := time.Now().UTC().Truncate(time.Microsecond)
			mat := &contracts.MaterialObject{
				ID: uuid.NewString(), DealID: deal.ID, Type: "UnderwritingSummary",
				TruthClass: contracts.TruthAI, Data: json.RawMessage(`{"noi":120000}`),
				CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, s.CreateMaterial(ctx, mat))
			require.NoError(t, s.InsertMaterialRevision(ctx, &contracts.MaterialRevision{
				ID: uuid.NewString(), MaterialID: mat.ID, DealID: deal.ID,
				Type: mat.Type, TruthClass: mat.TruthClass, Data: mat.Data, CreatedAt: now,
			}))

			mat.TruthClass = contracts.TruthHuman
			mat.UpdatedAt = now.Add(time.Minute)
			require.NoError(t, s.UpdateMaterial(ctx, mat))
			require.NoError(t, s.InsertMaterialRevision(ctx, &contracts.MaterialRevision{
				ID: uuid.NewString(), MaterialID: mat.ID, DealID: deal.ID,
				Type: mat.Type, TruthClass: mat.TruthClass, Data: mat.Data,
				CreatedAt: now.Add(time.Minute),
			}))

			got, err := s.GetMaterial(ctx, mat.ID)
			require.NoError(t, err)
			assert.Equal(t, contracts.TruthHuman, got.TruthClass)

			revs, err := s.ListMaterialRevisions(ctx, mat.ID)
			require.NoError(t, err)
			require.Len(t, revs, 2)
			assert.Equal(t, contracts.TruthAI, revs[0].TruthClass)

			atStart, err := s.ListRevisionsUpTo(ctx, deal.ID, now.Add(time.Second))
			require.NoError(t, err)
			assert.Len(t, atStart, 1)

			list, err := s.ListMaterials(ctx, deal.ID)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_ArtifactHashOwnership(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dealA := newTestDeal("a")
			dealB := newTestDeal("b")
			require.NoError(t, s.CreateDeal(ctx, dealA))
			require.NoError(t, s.CreateDeal(ctx, dealB))

			now := time.Now().UTC().Truncate(time.Microsecond)
			art := &contracts.Artifact{
				ID: uuid.NewString(), DealID: dealA.ID, Filename: "psa.pdf",
				MimeType: "application/pdf", SizeBytes: 1024,
				Sha256Hex:  "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
				StorageKey: "artifacts/x", CreatedAt: now,
			}
			require.NoError(t, s.InsertArtifact(ctx, art))

			sameDeal := *art
			sameDeal.ID = uuid.NewString()
			assert.ErrorIs(t, s.InsertArtifact(ctx, &sameDeal), ErrDuplicate)

			otherDeal := *art
			otherDeal.ID = uuid.NewString()
			otherDeal.DealID = dealB.ID
			assert.ErrorIs(t, s.InsertArtifact(ctx, &otherDeal), ErrArtifactConflict)

			byHash, err := s.GetArtifactByHash(ctx, art.Sha256Hex)
			require.NoError(t, err)
			assert.Equal(t, art.ID, byHash.ID)

			require.NoError(t, s.InsertArtifactLink(ctx, &contracts.ArtifactLink{
				ID: uuid.NewString(), DealID: dealA.ID, ArtifactID: art.ID,
				Tag: "closing", CreatedAt: now,
			}))
			links, err := s.ListArtifactLinks(ctx, dealA.ID)
			require.NoError(t, err)
			require.Len(t, links, 1)
			assert.Equal(t, "closing", links[0].Tag)
			assert.Empty(t, links[0].EventID)

			require.NoError(t, s.DeleteArtifact(ctx, art.ID))
			_, err = s.GetArtifact(ctx, art.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_DraftSandbox(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			deal := newTestDeal("deal")
			require.NoError(t, s.CreateDeal(ctx, deal))

			now := time.Now().UTC().Truncate(time.Microsecond)
			draft := &contracts.DraftState{ID: uuid.NewString(), DealID: deal.ID, CreatedAt: now}
			require.NoError(t, s.CreateDraft(ctx, draft))
			assert.ErrorIs(t, s.CreateDraft(ctx, &contracts.DraftState{
				ID: uuid.NewString(), DealID: deal.ID, CreatedAt: now,
			}), ErrDuplicate)

			for i := 1; i <= 2; i++ {
				require.NoError(t, s.InsertSimulatedEvent(ctx, &contracts.SimulatedEvent{
					ID: uuid.NewString(), DraftStateID: draft.ID,
					Type: contracts.EventReviewOpened, Payload: json.RawMessage(`{}`),
					EvidenceRefs: []string{}, SequenceOrder: i, CreatedAt: now,
				}))
			}
			require.NoError(t, s.ReplaceProjectionGates(ctx, draft.ID, []contracts.ProjectionGate{{
				ID: uuid.NewString(), DraftStateID: draft.ID,
				Action: contracts.ActionApproveDeal, IsBlocked: true,
				Reasons: []contracts.Reason{{Code: contracts.ReasonApprovalThreshold, Message: "1 of 2 approvals"}},
				NextSteps: []string{"Collect 1 more approval"},
			}}))

			sims, err := s.ListSimulatedEvents(ctx, draft.ID)
			require.NoError(t, err)
			assert.Len(t, sims, 2)

			gates, err := s.ListProjectionGates(ctx, draft.ID)
			require.NoError(t, err)
			require.Len(t, gates, 1)
			assert.True(t, gates[0].IsBlocked)
			require.Len(t, gates[0].Reasons, 1)
			assert.Equal(t, contracts.ReasonApprovalThreshold, gates[0].Reasons[0].Code)

			require.NoError(t, s.DeleteDraft(ctx, draft.ID))
			_, err = s.GetDraft(ctx, deal.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			sims, err = s.ListSimulatedEvents(ctx, draft.ID)
			require.NoError(t, err)
			assert.Empty(t, sims)
		})
	}
}

// SQLite-specific: WithDealTx rolls the transaction back when fn fails.
func TestSQLStore_WithDealTxRollback(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	deal := newTestDeal("deal")
	require.NoError(t, s.CreateDeal(ctx, deal))

	sentinel := assert.AnError
	err = s.WithDealTx(ctx, deal.ID, func(q Querier) error {
		if err := q.InsertEvent(ctx, &contracts.Event{
			ID: uuid.NewString(), DealID: deal.ID, Type: contracts.EventReviewOpened,
			Payload: json.RawMessage(`{}`), EvidenceRefs: []string{},
			SequenceNumber: 1, EventHash: "h", CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	events, err := s.ListEvents(ctx, deal.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRebindQuestion(t *testing.T) {
	assert.Equal(t, "SELECT * FROM deals WHERE id = ?", rebindQuestion("SELECT * FROM deals WHERE id = $1"))
	assert.Equal(t, "VALUES (?, ?, ?)", rebindQuestion("VALUES ($1, $2, $3)"))
	assert.Equal(t, "VALUES (?, ?)", rebindQuestion("VALUES ($10, $11)"))
	assert.Equal(t, "cost = $ + 1", rebindQuestion("cost = $ + 1"))
}
