package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/audit"
	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/gate"
	"github.com/clearstone/dealkernel/pkg/projection"
	"github.com/clearstone/dealkernel/pkg/store"
)

// Submission is an inbound event before sealing.
type Submission struct {
	Type             contracts.EventType `json:"type"`
	ActorID          string              `json:"actorId"`
	Payload          json.RawMessage     `json:"payload"`
	AuthorityContext json.RawMessage     `json:"authorityContext,omitempty"`
	EvidenceRefs     []string            `json:"evidenceRefs,omitempty"`
}

func (s *Submission) validate() error {
	if !contracts.SubmittableEventTypes[s.Type] {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, s.Type)
	}
	if s.ActorID != "" {
		if _, err := uuid.Parse(s.ActorID); err != nil {
			return fmt.Errorf("%w: actorId is not a UUID", ErrValidation)
		}
	}
	if len(s.Payload) > 0 && !json.Valid(s.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	switch s.Type {
	case contracts.EventApprovalGranted, contracts.EventApprovalDenied:
		if payloadString(s.Payload, "action") == "" {
			return fmt.Errorf("%w: %s requires payload.action", ErrValidation, s.Type)
		}
	case contracts.EventOverrideAttested:
		if payloadString(s.Payload, "action") == "" {
			return fmt.Errorf("%w: OverrideAttested requires payload.action", ErrValidation)
		}
		if payloadString(s.Payload, "reason") == "" {
			return fmt.Errorf("%w: OverrideAttested requires a non-empty payload.reason", ErrValidation)
		}
	}
	return nil
}

func payloadString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// AppendEvent runs the full intake pipeline. On success the sealed event is
// returned; when the gate blocks, the Explain is returned inside a GateError.
func (s *Service) AppendEvent(ctx context.Context, dealID string, sub Submission) (*contracts.Event, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if sub.ActorID != "" {
		if _, err := s.store.GetActor(ctx, sub.ActorID); errors.Is(err, store.ErrNotFound) {
			return nil, &GateError{Explain: contracts.Explain{
				Status: contracts.ExplainBlocked,
				Reasons: []contracts.Reason{{
					Code:    contracts.ReasonAuthority,
					Message: fmt.Sprintf("actor %s does not exist", sub.ActorID),
				}},
			}}
		} else if err != nil {
			return nil, fmt.Errorf("kernel: load actor: %w", err)
		}
	}

	payload := sub.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	event := &contracts.Event{
		ID:               uuid.NewString(),
		DealID:           dealID,
		Type:             sub.Type,
		ActorID:          sub.ActorID,
		Payload:          payload,
		AuthorityContext: sub.AuthorityContext,
		EvidenceRefs:     sub.EvidenceRefs,
		CreatedAt:        s.now(),
	}
	if event.EvidenceRefs == nil {
		event.EvidenceRefs = []string{}
	}

	action, err := gate.ResolveAction(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var blocked *contracts.Explain
	err = s.store.WithDealTx(ctx, dealID, func(q store.Querier) error {
		in, err := gate.NewCollector(q).ForSubmission(ctx, dealID, event, action, nil)
		if err != nil {
			return err
		}
		explain := gate.Evaluate(in)
		if explain.Blocked() {
			blocked = &explain
			return errGateBlocked
		}
		if in.GateChecksApply && gate.HasStandingOverride(in) {
			event.AuthorityContext = decorateOverride(event.AuthorityContext, action)
		}
		if err := audit.Seal(ctx, q, dealID, event); err != nil {
			return err
		}
		if err := q.InsertEvent(ctx, event); err != nil {
			return fmt.Errorf("kernel: insert event: %w", err)
		}
		events, err := q.ListEvents(ctx, dealID)
		if err != nil {
			return fmt.Errorf("kernel: reread events: %w", err)
		}
		proj := projection.Project(contracts.InitialProjection(), events)
		return q.UpdateDealProjection(ctx, dealID, proj, deal.IsDraft)
	})
	if errors.Is(err, errGateBlocked) {
		s.log.InfoContext(ctx, "event blocked",
			"dealId", dealID, "type", event.Type, "action", action,
			"reasons", len(blocked.Reasons))
		return nil, &GateError{Explain: *blocked}
	}
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "event appended",
		"dealId", dealID, "type", event.Type, "seq", event.SequenceNumber)
	return event, nil
}

var errGateBlocked = errors.New("kernel: gate blocked")

// decorateOverride stamps {overrideUsed, overrideAction} into the event's
// authority context.
func decorateOverride(raw json.RawMessage, action contracts.Action) json.RawMessage {
	m := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	m["overrideUsed"] = true
	m["overrideAction"] = string(action)
	out, _ := json.Marshal(m)
	return out
}
