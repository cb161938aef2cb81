// Package draft implements the per-deal what-if sandbox. Simulated events
// layer on top of the committed ledger without gate checks; commit replays
// them into real, hash-chained events.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/audit"
	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/gate"
	"github.com/clearstone/dealkernel/pkg/kernel"
	"github.com/clearstone/dealkernel/pkg/projection"
	"github.com/clearstone/dealkernel/pkg/store"
)

// CommitPolicy selects how commit writes simulated events to the ledger.
type CommitPolicy int

const (
	// CommitVerbatim replays simulated events without re-running gates. The
	// sandbox is for scenario exploration; the caller has confirmed intent.
	CommitVerbatim CommitPolicy = iota
	// CommitGated routes every simulated event through the live appender, so
	// a blocked event aborts the commit with its Explain.
	CommitGated
)

// Service owns the draft sandbox operations.
type Service struct {
	store  store.Store
	kernel *kernel.Service
	policy CommitPolicy
	log    *slog.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

func WithPolicy(p CommitPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(st store.Store, k *kernel.Service, opts ...Option) *Service {
	s := &Service{
		store:  st,
		kernel: k,
		policy: CommitVerbatim,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simulation is an inbound simulated event.
type Simulation struct {
	Type             contracts.EventType `json:"type"`
	ActorID          string              `json:"actorId,omitempty"`
	Payload          json.RawMessage     `json:"payload,omitempty"`
	AuthorityContext json.RawMessage     `json:"authorityContext,omitempty"`
	EvidenceRefs     []string            `json:"evidenceRefs,omitempty"`
}

func (sim *Simulation) validate() error {
	if !contracts.SubmittableEventTypes[sim.Type] {
		return fmt.Errorf("%w: unknown event type %q", kernel.ErrValidation, sim.Type)
	}
	if len(sim.Payload) > 0 && !json.Valid(sim.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", kernel.ErrValidation)
	}
	return nil
}

// Start returns the deal's draft, creating it on first use, plus the
// projection of the committed ledger.
func (s *Service) Start(ctx context.Context, dealID string) (*contracts.DraftState, contracts.Projection, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, contracts.Projection{}, err
	}
	committed := contracts.Projection{State: deal.State, StressMode: deal.StressMode}

	d, err := s.store.GetDraft(ctx, dealID)
	if err == nil {
		return d, committed, nil
	}
	if err != store.ErrNotFound {
		return nil, contracts.Projection{}, err
	}

	d = &contracts.DraftState{
		ID:        uuid.NewString(),
		DealID:    dealID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateDraft(ctx, d); err != nil {
		return nil, contracts.Projection{}, err
	}
	if err := s.store.UpdateDealProjection(ctx, dealID, committed, true); err != nil {
		return nil, contracts.Projection{}, err
	}
	s.log.InfoContext(ctx, "draft started", "dealId", dealID, "draftId", d.ID)
	return d, committed, nil
}

// Simulate appends a simulated event without gate checks, then recomputes the
// composite projection and the cached gate previews.
func (s *Service) Simulate(ctx context.Context, dealID string, sim Simulation) (*contracts.SimulatedEvent, contracts.Projection, []contracts.ProjectionGate, error) {
	if err := sim.validate(); err != nil {
		return nil, contracts.Projection{}, nil, err
	}
	d, _, err := s.Start(ctx, dealID)
	if err != nil {
		return nil, contracts.Projection{}, nil, err
	}

	payload := sim.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	// Order assignment and insert share the deal lock; orders stay dense
	// under concurrent simulates.
	var se *contracts.SimulatedEvent
	var simulated []contracts.SimulatedEvent
	err = s.store.WithDealTx(ctx, dealID, func(q store.Querier) error {
		existing, err := q.ListSimulatedEvents(ctx, d.ID)
		if err != nil {
			return err
		}
		se = &contracts.SimulatedEvent{
			ID:               uuid.NewString(),
			DraftStateID:     d.ID,
			Type:             sim.Type,
			ActorID:          sim.ActorID,
			Payload:          payload,
			AuthorityContext: sim.AuthorityContext,
			EvidenceRefs:     sim.EvidenceRefs,
			SequenceOrder:    len(existing),
			CreatedAt:        s.now().UTC(),
		}
		if err := q.InsertSimulatedEvent(ctx, se); err != nil {
			return err
		}
		simulated = append(existing, *se)
		return nil
	})
	if err != nil {
		return nil, contracts.Projection{}, nil, err
	}
	proj, gates, err := s.refreshGates(ctx, dealID, d.ID, simulated)
	if err != nil {
		return nil, contracts.Projection{}, nil, err
	}
	s.log.InfoContext(ctx, "event simulated",
		"dealId", dealID, "type", se.Type, "order", se.SequenceOrder)
	return se, proj, gates, nil
}

// Gates returns the cached previews and the composite projection.
func (s *Service) Gates(ctx context.Context, dealID string) ([]contracts.ProjectionGate, contracts.Projection, error) {
	d, err := s.store.GetDraft(ctx, dealID)
	if err != nil {
		return nil, contracts.Projection{}, err
	}
	gates, err := s.store.ListProjectionGates(ctx, d.ID)
	if err != nil {
		return nil, contracts.Projection{}, err
	}
	simulated, err := s.store.ListSimulatedEvents(ctx, d.ID)
	if err != nil {
		return nil, contracts.Projection{}, err
	}
	proj, err := s.compositeProjection(ctx, dealID, simulated)
	if err != nil {
		return nil, contracts.Projection{}, err
	}
	return gates, proj, nil
}

// Diff compares the committed projection against the draft projection.
func (s *Service) Diff(ctx context.Context, dealID string) (*contracts.DraftDiff, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDraft(ctx, dealID)
	if err != nil {
		return nil, err
	}
	committed, err := s.store.ListEvents(ctx, dealID)
	if err != nil {
		return nil, err
	}
	simulated, err := s.store.ListSimulatedEvents(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	proj := projection.Project(contracts.InitialProjection(), append(committed, asEvents(dealID, simulated)...))

	diff := &contracts.DraftDiff{DeltaEvents: simulated}
	diff.Committed.State = deal.State
	diff.Committed.StressMode = deal.StressMode
	diff.Committed.EventsCount = len(committed)
	diff.Draft.State = proj.State
	diff.Draft.StressMode = proj.StressMode
	diff.Draft.SimulatedEventsCount = len(simulated)
	return diff, nil
}

// Revert discards the draft and everything simulated under it.
func (s *Service) Revert(ctx context.Context, dealID string) error {
	d, err := s.store.GetDraft(ctx, dealID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDraft(ctx, d.ID); err != nil {
		return err
	}
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	committed := contracts.Projection{State: deal.State, StressMode: deal.StressMode}
	if err := s.store.UpdateDealProjection(ctx, dealID, committed, false); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "draft reverted", "dealId", dealID, "draftId", d.ID)
	return nil
}

// Commit turns the simulated events into real ledger events in order, deletes
// the draft and reprojects the deal.
func (s *Service) Commit(ctx context.Context, dealID string) (*contracts.Deal, int, error) {
	d, err := s.store.GetDraft(ctx, dealID)
	if err != nil {
		return nil, 0, err
	}
	simulated, err := s.store.ListSimulatedEvents(ctx, d.ID)
	if err != nil {
		return nil, 0, err
	}

	if s.policy == CommitGated {
		if err := s.commitGated(ctx, dealID, d, simulated); err != nil {
			return nil, 0, err
		}
	} else {
		if err := s.commitVerbatim(ctx, dealID, d, simulated); err != nil {
			return nil, 0, err
		}
	}

	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, 0, err
	}
	s.log.InfoContext(ctx, "draft committed",
		"dealId", dealID, "draftId", d.ID, "events", len(simulated))
	return deal, len(simulated), nil
}

// commitVerbatim seals every simulated event in one transaction without gate
// checks.
func (s *Service) commitVerbatim(ctx context.Context, dealID string, d *contracts.DraftState, simulated []contracts.SimulatedEvent) error {
	return s.store.WithDealTx(ctx, dealID, func(q store.Querier) error {
		for i := range simulated {
			se := &simulated[i]
			payload := se.Payload
			if len(payload) == 0 {
				payload = json.RawMessage(`{}`)
			}
			refs := se.EvidenceRefs
			if refs == nil {
				refs = []string{}
			}
			e := &contracts.Event{
				ID:               uuid.NewString(),
				DealID:           dealID,
				Type:             se.Type,
				ActorID:          se.ActorID,
				Payload:          payload,
				AuthorityContext: se.AuthorityContext,
				EvidenceRefs:     refs,
				CreatedAt:        s.now().UTC(),
			}
			if err := audit.Seal(ctx, q, dealID, e); err != nil {
				return err
			}
			if err := q.InsertEvent(ctx, e); err != nil {
				return fmt.Errorf("draft: insert committed event: %w", err)
			}
		}
		if err := q.DeleteDraft(ctx, d.ID); err != nil {
			return err
		}
		events, err := q.ListEvents(ctx, dealID)
		if err != nil {
			return err
		}
		proj := projection.Project(contracts.InitialProjection(), events)
		return q.UpdateDealProjection(ctx, dealID, proj, false)
	})
}

// commitGated replays through the live appender, so gate blocks surface as
// *kernel.GateError and leave already-appended events in place.
func (s *Service) commitGated(ctx context.Context, dealID string, d *contracts.DraftState, simulated []contracts.SimulatedEvent) error {
	for i := range simulated {
		se := &simulated[i]
		_, err := s.kernel.AppendEvent(ctx, dealID, kernel.Submission{
			Type:             se.Type,
			ActorID:          se.ActorID,
			Payload:          se.Payload,
			AuthorityContext: se.AuthorityContext,
			EvidenceRefs:     se.EvidenceRefs,
		})
		if err != nil {
			return fmt.Errorf("draft: commit event %d: %w", se.SequenceOrder, err)
		}
	}
	if err := s.store.DeleteDraft(ctx, d.ID); err != nil {
		return err
	}
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	committed := contracts.Projection{State: deal.State, StressMode: deal.StressMode}
	return s.store.UpdateDealProjection(ctx, dealID, committed, false)
}

// refreshGates recomputes the composite projection and regenerates the cached
// previews for the material-gated actions.
func (s *Service) refreshGates(ctx context.Context, dealID, draftID string, simulated []contracts.SimulatedEvent) (contracts.Projection, []contracts.ProjectionGate, error) {
	proj, err := s.compositeProjection(ctx, dealID, simulated)
	if err != nil {
		return contracts.Projection{}, nil, err
	}

	actions := make([]contracts.Action, 0, len(contracts.MaterialGatedActions))
	for action := range contracts.MaterialGatedActions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	collector := gate.NewCollector(s.store)
	extra := asEvents(dealID, simulated)
	now := s.now().UTC()
	gates := make([]contracts.ProjectionGate, 0, len(actions))
	for _, action := range actions {
		in, err := collector.Preview(ctx, dealID, action, extra, now)
		if err != nil {
			return contracts.Projection{}, nil, err
		}
		explain := gate.Evaluate(in)
		pg := contracts.ProjectionGate{
			ID:           uuid.NewString(),
			DraftStateID: draftID,
			Action:       action,
			IsBlocked:    explain.Blocked(),
			Reasons:      explain.Reasons,
			NextSteps:    stepDescriptions(explain.NextSteps),
		}
		if pg.Reasons == nil {
			pg.Reasons = []contracts.Reason{}
		}
		gates = append(gates, pg)
	}
	if err := s.store.ReplaceProjectionGates(ctx, draftID, gates); err != nil {
		return contracts.Projection{}, nil, err
	}
	return proj, gates, nil
}

func (s *Service) compositeProjection(ctx context.Context, dealID string, simulated []contracts.SimulatedEvent) (contracts.Projection, error) {
	committed, err := s.store.ListEvents(ctx, dealID)
	if err != nil {
		return contracts.Projection{}, err
	}
	all := append(committed, asEvents(dealID, simulated)...)
	return projection.Project(contracts.InitialProjection(), all), nil
}

// asEvents lifts simulated rows into ledger-shaped events for the projection
// fold and gate previews. They carry no hash; the fold never reads one.
func asEvents(dealID string, simulated []contracts.SimulatedEvent) []contracts.Event {
	out := make([]contracts.Event, 0, len(simulated))
	for i := range simulated {
		se := &simulated[i]
		out = append(out, contracts.Event{
			ID:               se.ID,
			DealID:           dealID,
			Type:             se.Type,
			ActorID:          se.ActorID,
			Payload:          se.Payload,
			AuthorityContext: se.AuthorityContext,
			EvidenceRefs:     se.EvidenceRefs,
			CreatedAt:        se.CreatedAt,
		})
	}
	return out
}

func stepDescriptions(steps []contracts.NextStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Description)
	}
	return out
}
