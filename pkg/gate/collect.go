package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/store"
)

// Collector assembles evaluator Inputs from the store.
type Collector struct {
	q store.Querier
}

func NewCollector(q store.Querier) *Collector {
	return &Collector{q: q}
}

func (c *Collector) rule(ctx context.Context, dealID string, action contracts.Action) (*contracts.AuthorityRule, error) {
	r, err := c.q.GetAuthorityRule(ctx, dealID, action)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gate: load rule %s: %w", action, err)
	}
	return r, nil
}

// ForSubmission builds the Input for appending e live. extraEvents lets the
// draft sandbox layer simulated events on top of the committed ledger.
func (c *Collector) ForSubmission(ctx context.Context, dealID string, e *contracts.Event, action contracts.Action, extraEvents []contracts.Event) (Input, error) {
	in := Input{Action: action, EnforceAuthority: true}

	var err error
	if in.Rule, err = c.rule(ctx, dealID, action); err != nil {
		return Input{}, err
	}
	if in.OverrideRule, err = c.rule(ctx, dealID, contracts.ActionOverride); err != nil {
		return Input{}, err
	}

	if e.ActorID != "" {
		in.SubmitterRoles, err = c.q.RolesForActor(ctx, dealID, e.ActorID, e.CreatedAt)
		if err != nil {
			return Input{}, fmt.Errorf("gate: submitter roles: %w", err)
		}
	}

	committed, err := c.q.ListEvents(ctx, dealID)
	if err != nil {
		return Input{}, fmt.Errorf("gate: list events: %w", err)
	}
	in.Events = append(committed, extraEvents...)

	gateType, ok := contracts.GateEventFor(action)
	in.GateChecksApply = ok && gateType == e.Type

	materials, err := c.q.ListMaterials(ctx, dealID)
	if err != nil {
		return Input{}, fmt.Errorf("gate: list materials: %w", err)
	}
	for _, m := range materials {
		in.Materials = append(in.Materials, MaterialFact{Type: m.Type, TruthClass: m.TruthClass})
	}

	if in.ApproverRoles, err = c.approverRoles(ctx, dealID, action, in.Events, e.CreatedAt); err != nil {
		return Input{}, err
	}
	return in, nil
}

// Preview builds an actor-less Input over committed ++ extra events with the
// deal's current materials, evaluated as of at. The draft sandbox uses it to
// cache gate previews.
func (c *Collector) Preview(ctx context.Context, dealID string, action contracts.Action, extraEvents []contracts.Event, at time.Time) (Input, error) {
	in := Input{Action: action, EnforceAuthority: false, GateChecksApply: true}

	var err error
	if in.Rule, err = c.rule(ctx, dealID, action); err != nil {
		return Input{}, err
	}
	if in.OverrideRule, err = c.rule(ctx, dealID, contracts.ActionOverride); err != nil {
		return Input{}, err
	}

	committed, err := c.q.ListEvents(ctx, dealID)
	if err != nil {
		return Input{}, fmt.Errorf("gate: list events: %w", err)
	}
	in.Events = append(committed, extraEvents...)

	materials, err := c.q.ListMaterials(ctx, dealID)
	if err != nil {
		return Input{}, fmt.Errorf("gate: list materials: %w", err)
	}
	for _, m := range materials {
		in.Materials = append(in.Materials, MaterialFact{Type: m.Type, TruthClass: m.TruthClass})
	}

	if in.ApproverRoles, err = c.approverRoles(ctx, dealID, action, in.Events, at); err != nil {
		return Input{}, err
	}
	return in, nil
}

// AtTime builds the replay Input for evaluating action against the ledger and
// materials as they stood at t. With a non-empty actorID the replay also
// enforces authority for that actor's roles at t. It returns the material
// revisions used, newest per material, for the explain's inputsUsed block.
func (c *Collector) AtTime(ctx context.Context, dealID string, action contracts.Action, actorID string, at time.Time) (Input, []contracts.MaterialRevision, error) {
	in := Input{Action: action, EnforceAuthority: actorID != "", GateChecksApply: true}

	var err error
	if in.Rule, err = c.rule(ctx, dealID, action); err != nil {
		return Input{}, nil, err
	}
	if in.OverrideRule, err = c.rule(ctx, dealID, contracts.ActionOverride); err != nil {
		return Input{}, nil, err
	}

	if actorID != "" {
		if in.SubmitterRoles, err = c.q.RolesForActor(ctx, dealID, actorID, at); err != nil {
			return Input{}, nil, fmt.Errorf("gate: submitter roles: %w", err)
		}
	}

	if in.Events, err = c.q.ListEventsUpTo(ctx, dealID, at); err != nil {
		return Input{}, nil, fmt.Errorf("gate: list events at t: %w", err)
	}

	revisions, err := c.q.ListRevisionsUpTo(ctx, dealID, at)
	if err != nil {
		return Input{}, nil, fmt.Errorf("gate: list revisions at t: %w", err)
	}
	latest := latestRevisions(revisions)
	for _, r := range latest {
		in.Materials = append(in.Materials, MaterialFact{Type: r.Type, TruthClass: r.TruthClass})
	}

	if in.ApproverRoles, err = c.approverRoles(ctx, dealID, action, in.Events, at); err != nil {
		return Input{}, nil, err
	}
	return in, latest, nil
}

// approverRoles resolves, for each actor with an ApprovalGranted for the
// action, the deal roles that actor holds at the evaluation instant. A role
// granted after the approval still makes the approval count.
func (c *Collector) approverRoles(ctx context.Context, dealID string, action contracts.Action, events []contracts.Event, at time.Time) (map[string][]string, error) {
	out := map[string][]string{}
	for i := range events {
		e := &events[i]
		if e.Type != contracts.EventApprovalGranted || e.ActorID == "" {
			continue
		}
		if contracts.Action(e.PayloadString("action")) != action {
			continue
		}
		if _, done := out[e.ActorID]; done {
			continue
		}
		roles, err := c.q.RolesForActor(ctx, dealID, e.ActorID, at)
		if err != nil {
			return nil, fmt.Errorf("gate: approver roles: %w", err)
		}
		out[e.ActorID] = roles
	}
	return out, nil
}

// latestRevisions keeps the newest revision per material id, in revision
// order.
func latestRevisions(revisions []contracts.MaterialRevision) []contracts.MaterialRevision {
	index := map[string]int{}
	var out []contracts.MaterialRevision
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
