// Package snapshot builds canonical point-in-time views of a deal and replays
// gate evaluations at past times. Both read paths are pure over the stored
// history: events, material revisions and role grants at or before t.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/gate"
	"github.com/clearstone/dealkernel/pkg/projection"
	"github.com/clearstone/dealkernel/pkg/store"
)

// Service derives snapshots and explain replays.
type Service struct {
	store store.Store
}

func New(st store.Store) *Service {
	return &Service{store: st}
}

// Snapshot replays the deal's history up to at.
func (s *Service) Snapshot(ctx context.Context, dealID string, at time.Time) (*contracts.Snapshot, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	at = at.UTC()

	rules, err := s.store.ListAuthorityRules(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list rules: %w", err)
	}
	events, err := s.store.ListEventsUpTo(ctx, dealID, at)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list events: %w", err)
	}
	revisions, err := s.store.ListRevisionsUpTo(ctx, dealID, at)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list revisions: %w", err)
	}
	materials := latestPerMaterial(revisions)

	snap := &contracts.Snapshot{
		DealID:     dealID,
		At:         at,
		Projection: projection.Project(contracts.InitialProjection(), events),
		Rules:      rules,
		Events:     events,
		Materials:  materials,
		Integrity: contracts.SnapshotIntegrity{
			ReplayFrom:    "events+materials",
			Deterministic: true,
		},
	}

	snap.Approvals, err = s.approvalSummaries(ctx, dealID, at, rules, events)
	if err != nil {
		return nil, err
	}
	snap.MaterialRequirements = requirementStatuses(materials)

	snap.Timeline = contracts.SnapshotTimeline{Count: len(events)}
	if n := len(events); n > 0 {
		last := events[n-1]
		ts := last.CreatedAt
		snap.Timeline.LastEventAt = &ts
		snap.Timeline.LastEventType = last.Type
	}
	return snap, nil
}

// Explain replays the gate for action with all inputs as of at. A non-empty
// actorID re-runs the authority check against that actor's roles at at.
func (s *Service) Explain(ctx context.Context, dealID string, action contracts.Action, actorID string, at time.Time) (*contracts.Explain, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	at = at.UTC()

	collector := gate.NewCollector(s.store)
	in, revisions, err := collector.AtTime(ctx, dealID, action, actorID, at)
	if err != nil {
		return nil, err
	}

	explain := gate.Evaluate(in)
	proj := projection.Project(contracts.InitialProjection(), in.Events)
	explain.At = &at
	explain.ProjectionSummary = &proj
	if explain.Blocked() {
		approvals, _ := countApprovals(in.Rule, action, in.Events, in.ApproverRoles)
		if revisions == nil {
			revisions = []contracts.MaterialRevision{}
		}
		explain.InputsUsed = &contracts.ExplainInputs{
			ApprovalsAtT: approvals,
			MaterialsAtT: contracts.ExplainMaterials{
				List:         revisions,
				Requirements: requirementList(action),
			},
			DealStateAtT: proj,
		}
	}
	return &explain, nil
}

func requirementList(action contracts.Action) []contracts.MaterialRequirement {
	reqs := contracts.RequirementsFor(action)
	if reqs == nil {
		reqs = []contracts.MaterialRequirement{}
	}
	return reqs
}

// approvalSummaries computes per-rule approval standing: an approval counts
// when its actor holds an allowed role at the snapshot instant.
func (s *Service) approvalSummaries(ctx context.Context, dealID string, at time.Time, rules []contracts.AuthorityRule, events []contracts.Event) ([]contracts.ApprovalSummary, error) {
	roleCache := map[string][]string{}
	rolesOf := func(actorID string) ([]string, error) {
		if roles, ok := roleCache[actorID]; ok {
			return roles, nil
		}
		roles, err := s.store.RolesForActor(ctx, dealID, actorID, at)
		if err != nil {
			return nil, fmt.Errorf("snapshot: roles for actor: %w", err)
		}
		roleCache[actorID] = roles
		return roles, nil
	}

	out := make([]contracts.ApprovalSummary, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		seen := map[string]bool{}
		byRole := map[string]int{}
		count := 0
		for j := range events {
			e := &events[j]
			if e.Type != contracts.EventApprovalGranted || e.ActorID == "" || seen[e.ActorID] {
				continue
			}
			if contracts.Action(e.PayloadString("action")) != rule.Action {
				continue
			}
			roles, err := rolesOf(e.ActorID)
			if err != nil {
				return nil, err
			}
			role, ok := firstAllowed(&rule, roles)
			if !ok {
				continue
			}
			seen[e.ActorID] = true
			byRole[role]++
			count++
		}
		out = append(out, contracts.ApprovalSummary{
			Action:          rule.Action,
			Threshold:       rule.Threshold,
			CurrentCount:    count,
			SatisfiedByRole: byRole,
			Satisfied:       count >= rule.Threshold,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

func firstAllowed(rule *contracts.AuthorityRule, roles []string) (string, bool) {
	for _, have := range roles {
		for _, allowed := range rule.RolesAllowed {
			if have == allowed {
				return have, true
			}
		}
	}
	return "", false
}

func countApprovals(rule *contracts.AuthorityRule, action contracts.Action, events []contracts.Event, approverRoles map[string][]string) (int, map[string]int) {
	seen := map[string]bool{}
	byRole := map[string]int{}
	for i := range events {
		e := &events[i]
		if e.Type != contracts.EventApprovalGranted || e.ActorID == "" || seen[e.ActorID] {
			continue
		}
		if contracts.Action(e.PayloadString("action")) != action {
			continue
		}
		if rule != nil {
			role, ok := firstAllowed(rule, approverRoles[e.ActorID])
			if !ok {
				continue
			}
			byRole[role]++
		}
		seen[e.ActorID] = true
	}
	return len(seen), byRole
}

// requirementStatuses grades every gated action's requirement table against
// the materials visible at t.
func requirementStatuses(materials []contracts.MaterialRevision) map[contracts.Action][]contracts.RequirementStatus {
	best := map[string]contracts.TruthClass{}
	for _, m := range materials {
		if cur, ok := best[m.Type]; !ok || m.TruthClass.Rank() > cur.Rank() {
			best[m.Type] = m.TruthClass
		}
	}

	out := map[contracts.Action][]contracts.RequirementStatus{}
	for action := range contracts.MaterialGatedActions {
		reqs := contracts.RequirementsFor(action)
		statuses := make([]contracts.RequirementStatus, 0, len(reqs))
		for _, req := range reqs {
			status := contracts.RequirementStatus{
				Type:          req.Type,
				RequiredTruth: req.RequiredTruth,
			}
			current, ok := best[req.Type]
			switch {
			case !ok:
				status.Status = contracts.RequirementMissing
			case current.Satisfies(req.RequiredTruth):
				status.Status = contracts.RequirementOK
				status.CurrentTruth = current
			default:
				status.Status = contracts.RequirementInsufficient
				status.CurrentTruth = current
			}
			statuses = append(statuses, status)
		}
		out[action] = statuses
	}
	return out
}

// latestPerMaterial keeps the newest revision per material id.
func latestPerMaterial(revisions []contracts.MaterialRevision) []contracts.MaterialRevision {
	index := map[string]int{}
	out := []contracts.MaterialRevision{}
	for _, r := range revisions {
		if i, ok := index[r.MaterialID]; ok {
			out[i] = r
			continue
		}
		index[r.MaterialID] = len(out)
		out = append(out, r)
	}
	return out
}
