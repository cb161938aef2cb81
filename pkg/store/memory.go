package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

// MemoryStore is a map-backed Store for tests and demos. Writes under
// WithDealTx serialize per deal but are applied immediately; callers are
// expected to perform all checks before the first write, which is how the
// event appender is structured.
type MemoryStore struct {
	mu sync.RWMutex

	deals      map[string]contracts.Deal
	actors     map[string]contracts.Actor
	actorRoles []contracts.ActorRole
	rules      map[string]map[contracts.Action]contracts.AuthorityRule
	events     map[string][]contracts.Event
	materials  map[string]contracts.MaterialObject
	revisions  []contracts.MaterialRevision
	artifacts  map[string]contracts.Artifact
	links      []contracts.ArtifactLink
	drafts     map[string]contracts.DraftState // keyed by dealID
	simulated  map[string][]contracts.SimulatedEvent
	gates      map[string][]contracts.ProjectionGate

	dealLocksMu sync.Mutex
	dealLocks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:     map[string]contracts.Deal{},
		actors:    map[string]contracts.Actor{},
		rules:     map[string]map[contracts.Action]contracts.AuthorityRule{},
		events:    map[string][]contracts.Event{},
		materials: map[string]contracts.MaterialObject{},
		artifacts: map[string]contracts.Artifact{},
		drafts:    map[string]contracts.DraftState{},
		simulated: map[string][]contracts.SimulatedEvent{},
		gates:     map[string][]contracts.ProjectionGate{},
		dealLocks: map[string]*sync.Mutex{},
	}
}

func (s *MemoryStore) Close() error { return nil }

// WithDealTx serializes writers on one deal with a per-deal mutex.
func (s *MemoryStore) WithDealTx(ctx context.Context, dealID string, fn func(q Querier) error) error {
	s.dealLocksMu.Lock()
	lock, ok := s.dealLocks[dealID]
	if !ok {
		lock = &sync.Mutex{}
		s.dealLocks[dealID] = lock
	}
	s.dealLocksMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

// Deals.

func (s *MemoryStore) CreateDeal(ctx context.Context, d *contracts.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deals[d.ID]; exists {
		return ErrDuplicate
	}
	s.deals[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDeal(ctx context.Context, id string) (*contracts.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) ListDeals(ctx context.Context) ([]contracts.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateDealProjection(ctx context.Context, id string, p contracts.Projection, isDraft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return ErrNotFound
	}
	d.State = p.State
	d.StressMode = p.StressMode
	d.IsDraft = isDraft
	d.UpdatedAt = time.Now().UTC()
	s.deals[id] = d
	return nil
}

// Actors and roles.

func (s *MemoryStore) CreateActor(ctx context.Context, a *contracts.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actors[a.ID]; exists {
		return ErrDuplicate
	}
	s.actors[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetActor(ctx context.Context, id string) (*contracts.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GrantRole(ctx context.Context, dealID, actorID, roleName string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[actorID]; !ok {
		return ErrNotFound
	}
	for _, ar := range s.actorRoles {
		if ar.DealID == dealID && ar.ActorID == actorID && ar.RoleName == roleName {
			return nil // idempotent grant
		}
	}
	s.actorRoles = append(s.actorRoles, contracts.ActorRole{
		ActorID:   actorID,
		RoleID:    uuid.NewString(),
		RoleName:  roleName,
		DealID:    dealID,
		CreatedAt: at,
	})
	return nil
}

func (s *MemoryStore) RolesForActor(ctx context.Context, dealID, actorID string, at time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []string
	for _, ar := range s.actorRoles {
		if ar.DealID == dealID && ar.ActorID == actorID && !ar.CreatedAt.After(at) {
			roles = append(roles, ar.RoleName)
		}
	}
	return roles, nil
}

func (s *MemoryStore) ListActorRoles(ctx context.Context, dealID string) ([]contracts.ActorRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.ActorRole
	for _, ar := range s.actorRoles {
		if ar.DealID == dealID {
			out = append(out, ar)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDealActors(ctx context.Context, dealID string) ([]contracts.ActorWithRoles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byActor := map[string][]string{}
	for _, ar := range s.actorRoles {
		if ar.DealID == dealID {
			byActor[ar.ActorID] = append(byActor[ar.ActorID], ar.RoleName)
		}
	}
	out := make([]contracts.ActorWithRoles, 0, len(byActor))
	for actorID, roles := range byActor {
		a, ok := s.actors[actorID]
		if !ok {
			continue
		}
		sort.Strings(roles)
		out = append(out, contracts.ActorWithRoles{Actor: a, Roles: roles})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Authority rules.

func (s *MemoryStore) CreateAuthorityRule(ctx context.Context, r *contracts.AuthorityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAction, ok := s.rules[r.DealID]
	if !ok {
		byAction = map[contracts.Action]contracts.AuthorityRule{}
		s.rules[r.DealID] = byAction
	}
	if _, exists := byAction[r.Action]; exists {
		return ErrDuplicate
	}
	byAction[r.Action] = *r
	return nil
}

func (s *MemoryStore) GetAuthorityRule(ctx context.Context, dealID string, action contracts.Action) (*contracts.AuthorityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[dealID][action]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListAuthorityRules(ctx context.Context, dealID string) ([]contracts.AuthorityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.AuthorityRule, 0, len(s.rules[dealID]))
	for _, r := range s.rules[dealID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out, nil
}

// Events.

func (s *MemoryStore) InsertEvent(ctx context.Context, e *contracts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events[e.DealID] {
		if existing.SequenceNumber == e.SequenceNumber {
			return ErrDuplicate
		}
	}
	s.events[e.DealID] = append(s.events[e.DealID], *e)
	return nil
}

func (s *MemoryStore) LastEvent(ctx context.Context, dealID string) (*contracts.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[dealID]
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	last := events[0]
	for _, e := range events[1:] {
		if e.SequenceNumber > last.SequenceNumber {
			last = e
		}
	}
	return &last, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, dealID string) ([]contracts.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Event, len(s.events[dealID]))
	copy(out, s.events[dealID])
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *MemoryStore) ListEventsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Event, error) {
	all, err := s.ListEvents(ctx, dealID)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.Event, 0, len(all))
	for _, e := range all {
		if !e.CreatedAt.After(at) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Materials.

func (s *MemoryStore) CreateMaterial(ctx context.Context, m *contracts.MaterialObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.materials[m.ID]; exists {
		return ErrDuplicate
	}
	s.materials[m.ID] = *m
	return nil
}

func (s *MemoryStore) UpdateMaterial(ctx context.Context, m *contracts.MaterialObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.materials[m.ID]; !ok {
		return ErrNotFound
	}
	s.materials[m.ID] = *m
	return nil
}

func (s *MemoryStore) GetMaterial(ctx context.Context, id string) (*contracts.MaterialObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.materials[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) ListMaterials(ctx context.Context, dealID string) ([]contracts.MaterialObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.MaterialObject
	for _, m := range s.materials {
		if m.DealID == dealID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) InsertMaterialRevision(ctx context.Context, r *contracts.MaterialRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions = append(s.revisions, *r)
	return nil
}

func (s *MemoryStore) ListMaterialRevisions(ctx context.Context, materialID string) ([]contracts.MaterialRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.MaterialRevision
	for _, r := range s.revisions {
		if r.MaterialID == materialID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListRevisionsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.MaterialRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.MaterialRevision
	for _, r := range s.revisions {
		if r.DealID == dealID && !r.CreatedAt.After(at) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Artifacts.

func (s *MemoryStore) InsertArtifact(ctx context.Context, a *contracts.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.artifacts {
		if strings.EqualFold(existing.Sha256Hex, a.Sha256Hex) {
			if existing.DealID == a.DealID {
				return ErrDuplicate
			}
			return ErrArtifactConflict
		}
	}
	s.artifacts[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetArtifact(ctx context.Context, id string) (*contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) GetArtifactByHash(ctx context.Context, sha256Hex string) (*contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.artifacts {
		if strings.EqualFold(a.Sha256Hex, sha256Hex) {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, dealID string) ([]contracts.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Artifact
	for _, a := range s.artifacts {
		if a.DealID == dealID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListArtifactsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Artifact, error) {
	all, err := s.ListArtifacts(ctx, dealID)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.Artifact, 0, len(all))
	for _, a := range all {
		if !a.CreatedAt.After(at) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteArtifact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.artifacts, id)
	return nil
}

func (s *MemoryStore) InsertArtifactLink(ctx context.Context, l *contracts.ArtifactLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, *l)
	return nil
}

func (s *MemoryStore) ListArtifactLinks(ctx context.Context, dealID string) ([]contracts.ArtifactLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.ArtifactLink
	for _, l := range s.links {
		if l.DealID == dealID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Draft sandbox.

func (s *MemoryStore) GetDraft(ctx context.Context, dealID string) (*contracts.DraftState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[dealID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) CreateDraft(ctx context.Context, d *contracts.DraftState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drafts[d.DealID]; exists {
		return ErrDuplicate
	}
	s.drafts[d.DealID] = *d
	return nil
}

func (s *MemoryStore) DeleteDraft(ctx context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dealID, d := range s.drafts {
		if d.ID == draftID {
			delete(s.drafts, dealID)
			delete(s.simulated, draftID)
			delete(s.gates, draftID)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) InsertSimulatedEvent(ctx context.Context, e *contracts.SimulatedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulated[e.DraftStateID] = append(s.simulated[e.DraftStateID], *e)
	return nil
}

func (s *MemoryStore) ListSimulatedEvents(ctx context.Context, draftID string) ([]contracts.SimulatedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.SimulatedEvent, len(s.simulated[draftID]))
	copy(out, s.simulated[draftID])
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (s *MemoryStore) ReplaceProjectionGates(ctx context.Context, draftID string, gates []contracts.ProjectionGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]contracts.ProjectionGate, len(gates))
	copy(copied, gates)
	s.gates[draftID] = copied
	return nil
}

func (s *MemoryStore) ListProjectionGates(ctx context.Context, draftID string) ([]contracts.ProjectionGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.ProjectionGate, len(s.gates[draftID]))
	copy(out, s.gates[draftID])
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
