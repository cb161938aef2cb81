// Package gate evaluates whether a governed action may proceed, and explains
// the outcome. Evaluation is a pure function over an Input; Collector builds
// Inputs from the store for live submissions and for point-in-time replay.
package gate

import (
	"fmt"
	"sort"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

// ResolveAction determines the action an event exercises. Advance events map
// by type; approval and override events carry the action in their payload.
func ResolveAction(e *contracts.Event) (contracts.Action, error) {
	if a, ok := contracts.FixedActionFor(e.Type); ok {
		return a, nil
	}
	switch e.Type {
	case contracts.EventApprovalGranted, contracts.EventApprovalDenied:
		raw := e.PayloadString("action")
		if raw == "" {
			return "", fmt.Errorf("gate: %s payload missing action", e.Type)
		}
		return contracts.Action(raw), nil
	case contracts.EventOverrideAttested:
		return contracts.ActionOverride, nil
	}
	return "", fmt.Errorf("gate: no action for event type %s", e.Type)
}

// MaterialFact is the slice of a material the evaluator needs.
type MaterialFact struct {
	Type       string
	TruthClass contracts.TruthClass
}

// Input is everything one evaluation reads. Events must be the full ledger
// visible at evaluation time, in ledger order.
type Input struct {
	Action           contracts.Action
	Rule             *contracts.AuthorityRule // nil when no rule governs the action
	OverrideRule     *contracts.AuthorityRule
	SubmitterRoles   []string
	EnforceAuthority bool // false for replay, which has no submitter
	GateChecksApply  bool // threshold/material checks run only on the action's own advance
	Events           []contracts.Event
	Materials        []MaterialFact
	ApproverRoles    map[string][]string // actor id -> deal roles at approval time
}

// Evaluate runs the gate checks in order: authority first (fail fast), then a
// standing override, then approval threshold and material requirements.
func Evaluate(in Input) contracts.Explain {
	explain := contracts.Explain{Action: in.Action, Status: contracts.ExplainAllowed}

	if in.EnforceAuthority && in.Rule != nil && !in.Rule.AllowsRole(in.SubmitterRoles) {
		explain.Status = contracts.ExplainBlocked
		explain.Reasons = []contracts.Reason{{
			Code: contracts.ReasonAuthority,
			Message: fmt.Sprintf("actor roles %v are not allowed to perform %s (allowed: %v)",
				in.SubmitterRoles, in.Action, in.Rule.RolesAllowed),
			RolesAllowed: in.Rule.RolesAllowed,
		}}
		explain.NextSteps = []contracts.NextStep{{
			Description:            fmt.Sprintf("Have an actor holding one of %v submit the event", in.Rule.RolesAllowed),
			CanBeFixedByRoles:      in.Rule.RolesAllowed,
			CanBeOverriddenByRoles: overrideRoles(in),
		}}
		return explain
	}

	if !in.GateChecksApply {
		return explain
	}

	if HasStandingOverride(in) {
		return explain
	}

	var reasons []contracts.Reason

	if in.Rule != nil && contracts.GateAdvancingActions[in.Action] && in.Rule.Threshold > 0 {
		count, byRole := countApprovals(in)
		if count < in.Rule.Threshold {
			reasons = append(reasons, contracts.Reason{
				Code: contracts.ReasonApprovalThreshold,
				Message: fmt.Sprintf("%d of %d required approvals for %s",
					count, in.Rule.Threshold, in.Action),
				Threshold:       in.Rule.Threshold,
				CurrentCount:    count,
				RolesAllowed:    in.Rule.RolesAllowed,
				SatisfiedByRole: byRole,
			})
		}
	}

	if contracts.MaterialGatedActions[in.Action] {
		for _, req := range contracts.RequirementsFor(in.Action) {
			best, found := bestMaterial(in.Materials, req.Type)
			switch {
			case !found:
				reasons = append(reasons, contracts.Reason{
					Code:          contracts.ReasonMissingMaterial,
					Message:       fmt.Sprintf("material %s is missing", req.Type),
					MaterialType:  req.Type,
					RequiredTruth: req.RequiredTruth,
				})
			case !best.Satisfies(req.RequiredTruth):
				reasons = append(reasons, contracts.Reason{
					Code: contracts.ReasonInsufficientTruth,
					Message: fmt.Sprintf("material %s is %s but %s requires %s",
						req.Type, best, in.Action, req.RequiredTruth),
					MaterialType:  req.Type,
					RequiredTruth: req.RequiredTruth,
					CurrentTruth:  best,
				})
			}
		}
	}

	if len(reasons) > 0 {
		explain.Status = contracts.ExplainBlocked
		explain.Reasons = reasons
		explain.NextSteps = nextSteps(in, reasons)
	}
	return explain
}

// nextSteps yields one remediation step per blocked category.
func nextSteps(in Input, reasons []contracts.Reason) []contracts.NextStep {
	approvals, materials := false, false
	for _, r := range reasons {
		switch r.Code {
		case contracts.ReasonApprovalThreshold:
			approvals = true
		case contracts.ReasonMissingMaterial, contracts.ReasonInsufficientTruth:
			materials = true
		}
	}
	var steps []contracts.NextStep
	if approvals {
		steps = append(steps, contracts.NextStep{
			Description:            "Collect approvals for the required action.",
			CanBeFixedByRoles:      fixRoles(in),
			CanBeOverriddenByRoles: overrideRoles(in),
		})
	}
	if materials {
		steps = append(steps, contracts.NextStep{
			Description:            "Provide required materials for the action.",
			CanBeFixedByRoles:      fixRoles(in),
			CanBeOverriddenByRoles: overrideRoles(in),
		})
	}
	return steps
}

// AuthorityOnly reports whether the explain is blocked solely on authority,
// which the API maps to 403 instead of 409.
func AuthorityOnly(e *contracts.Explain) bool {
	return e.Blocked() && len(e.Reasons) == 1 && e.Reasons[0].Code == contracts.ReasonAuthority
}

// countApprovals counts distinct actors with an ApprovalGranted event for the
// action whose deal roles intersect the rule's allowed roles.
func countApprovals(in Input) (int, map[string]int) {
	seen := map[string]bool{}
	byRole := map[string]int{}
	for i := range in.Events {
		e := &in.Events[i]
		if e.Type != contracts.EventApprovalGranted || e.ActorID == "" || seen[e.ActorID] {
			continue
		}
		if contracts.Action(e.PayloadString("action")) != in.Action {
			continue
		}
		role, ok := allowedRole(in.Rule, in.ApproverRoles[e.ActorID])
		if !ok {
			continue
		}
		seen[e.ActorID] = true
		byRole[role]++
	}
	return len(seen), byRole
}

func allowedRole(rule *contracts.AuthorityRule, roles []string) (string, bool) {
	for _, have := range roles {
		for _, allowed := range rule.RolesAllowed {
			if have == allowed {
				return have, true
			}
		}
	}
	return "", false
}

// HasStandingOverride reports whether a valid OverrideAttested for the action
// (matching target, non-empty reason) is more recent than the action's last
// advance event. A later advance consumes the override.
func HasStandingOverride(in Input) bool {
	gateType, ok := contracts.GateEventFor(in.Action)
	if !ok {
		return false
	}
	lastOverride, lastGate := -1, -1
	for i := range in.Events {
		e := &in.Events[i]
		switch {
		case e.Type == contracts.EventOverrideAttested &&
			contracts.Action(e.PayloadString("action")) == in.Action &&
			e.PayloadString("reason") != "":
			lastOverride = i
		case e.Type == gateType:
			lastGate = i
		}
	}
	return lastOverride >= 0 && lastOverride > lastGate
}

// bestMaterial returns the highest truth class among materials of the type.
func bestMaterial(materials []MaterialFact, matType string) (contracts.TruthClass, bool) {
	var best contracts.TruthClass
	found := false
	for _, m := range materials {
		if m.Type != matType {
			continue
		}
		if !found || m.TruthClass.Rank() > best.Rank() {
			best = m.TruthClass
			found = true
		}
	}
	return best, found
}

func overrideRoles(in Input) []string {
	if in.OverrideRule == nil {
		return []string{}
	}
	roles := append([]string(nil), in.OverrideRule.RolesAllowed...)
	sort.Strings(roles)
	return roles
}

func fixRoles(in Input) []string {
	if in.Rule == nil {
		return []string{}
	}
	return in.Rule.RolesAllowed
}
