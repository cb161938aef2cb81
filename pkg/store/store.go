// Package store implements transactional persistence for the deal lifecycle
// kernel: deals, actors, roles, authority rules, the hash-chained event
// ledger, materials with revisions, artifacts with links, and the draft
// sandbox rows.
//
// Three interchangeable implementations exist: in-memory (tests, demos),
// SQLite (single-file deployments) and PostgreSQL (production).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on unique-constraint style violations.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrArtifactConflict is returned when an artifact hash already belongs
	// to a different deal.
	ErrArtifactConflict = errors.New("store: artifact hash owned by another deal")
)

// Querier is the full read/write surface. Store embeds it for autocommit
// access; WithDealTx passes a transaction-scoped Querier.
type Querier interface {
	// Deals.
	CreateDeal(ctx context.Context, d *contracts.Deal) error
	GetDeal(ctx context.Context, id string) (*contracts.Deal, error)
	ListDeals(ctx context.Context) ([]contracts.Deal, error)
	UpdateDealProjection(ctx context.Context, id string, p contracts.Projection, isDraft bool) error

	// Actors and roles.
	CreateActor(ctx context.Context, a *contracts.Actor) error
	GetActor(ctx context.Context, id string) (*contracts.Actor, error)
	GrantRole(ctx context.Context, dealID, actorID, roleName string, at time.Time) error
	RolesForActor(ctx context.Context, dealID, actorID string, at time.Time) ([]string, error)
	ListActorRoles(ctx context.Context, dealID string) ([]contracts.ActorRole, error)
	ListDealActors(ctx context.Context, dealID string) ([]contracts.ActorWithRoles, error)

	// Authority rules.
	CreateAuthorityRule(ctx context.Context, r *contracts.AuthorityRule) error
	GetAuthorityRule(ctx context.Context, dealID string, action contracts.Action) (*contracts.AuthorityRule, error)
	ListAuthorityRules(ctx context.Context, dealID string) ([]contracts.AuthorityRule, error)

	// Events (append-only).
	InsertEvent(ctx context.Context, e *contracts.Event) error
	LastEvent(ctx context.Context, dealID string) (*contracts.Event, error)
	ListEvents(ctx context.Context, dealID string) ([]contracts.Event, error)
	ListEventsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Event, error)

	// Materials.
	CreateMaterial(ctx context.Context, m *contracts.MaterialObject) error
	UpdateMaterial(ctx context.Context, m *contracts.MaterialObject) error
	GetMaterial(ctx context.Context, id string) (*contracts.MaterialObject, error)
	ListMaterials(ctx context.Context, dealID string) ([]contracts.MaterialObject, error)
	InsertMaterialRevision(ctx context.Context, r *contracts.MaterialRevision) error
	ListMaterialRevisions(ctx context.Context, materialID string) ([]contracts.MaterialRevision, error)
	ListRevisionsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.MaterialRevision, error)

	// Artifacts.
	InsertArtifact(ctx context.Context, a *contracts.Artifact) error
	GetArtifact(ctx context.Context, id string) (*contracts.Artifact, error)
	GetArtifactByHash(ctx context.Context, sha256Hex string) (*contracts.Artifact, error)
	ListArtifacts(ctx context.Context, dealID string) ([]contracts.Artifact, error)
	ListArtifactsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
	InsertArtifactLink(ctx context.Context, l *contracts.ArtifactLink) error
	ListArtifactLinks(ctx context.Context, dealID string) ([]contracts.ArtifactLink, error)

	// Draft sandbox.
	GetDraft(ctx context.Context, dealID string) (*contracts.DraftState, error)
	CreateDraft(ctx context.Context, d *contracts.DraftState) error
	DeleteDraft(ctx context.Context, draftID string) error
	InsertSimulatedEvent(ctx context.Context, e *contracts.SimulatedEvent) error
	ListSimulatedEvents(ctx context.Context, draftID string) ([]contracts.SimulatedEvent, error)
	ReplaceProjectionGates(ctx context.Context, draftID string, gates []contracts.ProjectionGate) error
	ListProjectionGates(ctx context.Context, draftID string) ([]contracts.ProjectionGate, error)
}

// Store is a Querier plus deal-scoped transactions.
type Store interface {
	Querier

	// WithDealTx runs fn inside a transaction holding a write lock on the
	// deal row, so concurrent appenders to the same deal serialize and
	// sequence numbers stay dense. fn's Querier must not escape the call.
	WithDealTx(ctx context.Context, dealID string, fn func(q Querier) error) error

	Close() error
}
