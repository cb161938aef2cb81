// Package kernel is the write-side service of the deal lifecycle kernel. It
// owns deal creation, actor and material registration, and the transactional
// event appender: validate, gate, chain-append, reproject, update the deal.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/audit"
	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/store"
)

// ErrValidation marks request-shape failures the API maps to 400.
var ErrValidation = errors.New("kernel: validation failed")

// GateError carries a live Explain block. The API maps it to 403 when blocked
// purely on authority, otherwise 409.
type GateError struct {
	Explain contracts.Explain
}

func (e *GateError) Error() string {
	return fmt.Sprintf("kernel: action %s blocked", e.Explain.Action)
}

// Service is the kernel entry point shared by the HTTP surface and the CLI.
type Service struct {
	store    store.Store
	defaults []contracts.AuthorityRule // per-action templates, DealID unset
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(st store.Store, defaults []contracts.AuthorityRule, opts ...Option) *Service {
	s := &Service{
		store:    st,
		defaults: defaults,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for read-only consumers.
func (s *Service) Store() store.Store { return s.store }

// CreateDeal creates the deal row, seeds one authority rule per action from
// the default profile, and writes the DealCreated genesis event.
func (s *Service) CreateDeal(ctx context.Context, name string) (*contracts.Deal, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: deal name is required", ErrValidation)
	}
	now := s.now()
	deal := &contracts.Deal{
		ID:         uuid.NewString(),
		Name:       name,
		State:      contracts.StateDraft,
		StressMode: contracts.StressNormal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateDeal(ctx, deal); err != nil {
		return nil, fmt.Errorf("kernel: create deal: %w", err)
	}
	for _, tpl := range s.defaults {
		rule := tpl
		rule.DealID = deal.ID
		if err := s.store.CreateAuthorityRule(ctx, &rule); err != nil {
			return nil, fmt.Errorf("kernel: seed rule %s: %w", rule.Action, err)
		}
	}

	err := s.store.WithDealTx(ctx, deal.ID, func(q store.Querier) error {
		genesis := &contracts.Event{
			ID:           uuid.NewString(),
			DealID:       deal.ID,
			Type:         contracts.EventDealCreated,
			Payload:      json.RawMessage(fmt.Sprintf(`{"name":%q}`, name)),
			EvidenceRefs: []string{},
			CreatedAt:    now,
		}
		if err := audit.Seal(ctx, q, deal.ID, genesis); err != nil {
			return err
		}
		return q.InsertEvent(ctx, genesis)
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: genesis event: %w", err)
	}
	s.log.InfoContext(ctx, "deal created", "dealId", deal.ID, "name", name)
	return deal, nil
}

// CreateActor registers an actor and grants its first deal role.
func (s *Service) CreateActor(ctx context.Context, dealID, name string, actorType contracts.ActorType, role string) (*contracts.ActorWithRoles, error) {
	if name == "" || role == "" {
		return nil, fmt.Errorf("%w: actor name and role are required", ErrValidation)
	}
	if actorType != contracts.ActorHuman && actorType != contracts.ActorSystem {
		return nil, fmt.Errorf("%w: unknown actor type %q", ErrValidation, actorType)
	}
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	now := s.now()
	actor := &contracts.Actor{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      actorType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("kernel: create actor: %w", err)
	}
	if err := s.store.GrantRole(ctx, dealID, actor.ID, role, now); err != nil {
		return nil, fmt.Errorf("kernel: grant role: %w", err)
	}
	return &contracts.ActorWithRoles{Actor: *actor, Roles: []string{role}}, nil
}

// GrantRole adds a role to an existing actor on a deal.
func (s *Service) GrantRole(ctx context.Context, dealID, actorID, role string) (*contracts.ActorWithRoles, error) {
	if role == "" {
		return nil, fmt.Errorf("%w: role is required", ErrValidation)
	}
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	actor, err := s.store.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.store.GrantRole(ctx, dealID, actorID, role, now); err != nil {
		return nil, fmt.Errorf("kernel: grant role: %w", err)
	}
	roles, err := s.store.RolesForActor(ctx, dealID, actorID, now)
	if err != nil {
		return nil, fmt.Errorf("kernel: read roles: %w", err)
	}
	return &contracts.ActorWithRoles{Actor: *actor, Roles: roles}, nil
}

// CreateMaterial creates a material and its first revision.
func (s *Service) CreateMaterial(ctx context.Context, dealID, matType string, truth contracts.TruthClass, data json.RawMessage) (*contracts.MaterialObject, error) {
	if matType == "" {
		return nil, fmt.Errorf("%w: material type is required", ErrValidation)
	}
	if truth.Rank() == 0 {
		return nil, fmt.Errorf("%w: unknown truth class %q", ErrValidation, truth)
	}
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	now := s.now()
	mat := &contracts.MaterialObject{
		ID:         uuid.NewString(),
		DealID:     dealID,
		Type:       matType,
		TruthClass: truth,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateMaterial(ctx, mat); err != nil {
		return nil, fmt.Errorf("kernel: create material: %w", err)
	}
	if err := s.writeRevision(ctx, mat, now); err != nil {
		return nil, err
	}
	return mat, nil
}

// UpdateMaterial patches a material's truth class and/or data, appending a
// revision so past snapshots stay exact.
func (s *Service) UpdateMaterial(ctx context.Context, dealID, materialID string, truth *contracts.TruthClass, data json.RawMessage) (*contracts.MaterialObject, error) {
	mat, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if mat.DealID != dealID {
		return nil, store.ErrNotFound
	}
	if truth == nil && len(data) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if truth != nil {
		if truth.Rank() == 0 {
			return nil, fmt.Errorf("%w: unknown truth class %q", ErrValidation, *truth)
		}
		mat.TruthClass = *truth
	}
	if len(data) > 0 {
		mat.Data = data
	}
	mat.UpdatedAt = s.now()
	if err := s.store.UpdateMaterial(ctx, mat); err != nil {
		return nil, fmt.Errorf("kernel: update material: %w", err)
	}
	if err := s.writeRevision(ctx, mat, mat.UpdatedAt); err != nil {
		return nil, err
	}
	return mat, nil
}

func (s *Service) writeRevision(ctx context.Context, mat *contracts.MaterialObject, at time.Time) error {
	rev := &contracts.MaterialRevision{
		ID:         uuid.NewString(),
		MaterialID: mat.ID,
		DealID:     mat.DealID,
		Type:       mat.Type,
		TruthClass: mat.TruthClass,
		Data:       mat.Data,
		CreatedAt:  at,
	}
	if err := s.store.InsertMaterialRevision(ctx, rev); err != nil {
		return fmt.Errorf("kernel: write revision: %w", err)
	}
	return nil
}

// VerifyChain verifies the deal's full hash chain.
func (s *Service) VerifyChain(ctx context.Context, dealID string) (contracts.ChainReport, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return contracts.ChainReport{}, err
	}
	return audit.VerifyDeal(ctx, s.store, dealID)
}
