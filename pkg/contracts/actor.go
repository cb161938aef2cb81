package contracts

import "time"

// ActorType distinguishes people from automation.
type ActorType string

const (
	ActorHuman  ActorType = "HUMAN"
	ActorSystem ActorType = "SYSTEM"
)

// Actor is a global identity. Role bindings are deal-scoped (ActorRole).
type Actor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      ActorType `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role is a named capability bucket referenced by authority rules.
type Role struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	OrgID string `json:"orgId,omitempty"`
}

// Well-known role names.
const (
	RoleGP        = "GP"
	RoleLegal     = "LEGAL"
	RoleLender    = "LENDER"
	RoleEscrow    = "ESCROW"
	RoleOperator  = "OPERATOR"
	RoleCourt     = "COURT"
	RoleRegulator = "REGULATOR"
	RoleTrustee   = "TRUSTEE"
	RoleAuditor   = "AUDITOR"
)

// KnownRoles lists every role name the default authority profile may
// reference.
var KnownRoles = []string{
	RoleGP, RoleLegal, RoleLender, RoleEscrow, RoleOperator,
	RoleCourt, RoleRegulator, RoleTrustee, RoleAuditor,
}

// ActorRole scopes an actor's role to a deal. Rows are append-only; a grant
// is effective from CreatedAt, which matters for point-in-time replay.
type ActorRole struct {
	ActorID   string    `json:"actorId"`
	RoleID    string    `json:"roleId"`
	RoleName  string    `json:"role"`
	DealID    string    `json:"dealId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActorWithRoles is the read shape for actor endpoints: the actor plus its
// role names on one deal.
type ActorWithRoles struct {
	Actor
	Roles []string `json:"roles"`
}
