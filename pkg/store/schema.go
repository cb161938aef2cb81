package store

// DDL for the two SQL backends. The schemas are kept in lockstep; the only
// divergences are type names and the string-encoded timestamps on SQLite.

const postgresSchema = `
CREATE TABLE IF NOT EXISTS deals (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	state       TEXT NOT NULL,
	stress_mode TEXT NOT NULL,
	is_draft    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actors (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS actor_roles (
	actor_id   UUID NOT NULL REFERENCES actors(id),
	role_id    UUID NOT NULL,
	role_name  TEXT NOT NULL,
	deal_id    UUID NOT NULL REFERENCES deals(id),
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (deal_id, actor_id, role_name)
);

CREATE TABLE IF NOT EXISTS authority_rules (
	deal_id        UUID NOT NULL REFERENCES deals(id),
	action         TEXT NOT NULL,
	threshold      INTEGER NOT NULL,
	roles_allowed  TEXT NOT NULL,
	roles_required TEXT NOT NULL,
	PRIMARY KEY (deal_id, action)
);

CREATE TABLE IF NOT EXISTS events (
	id                  UUID PRIMARY KEY,
	deal_id             UUID NOT NULL REFERENCES deals(id),
	type                TEXT NOT NULL,
	actor_id            UUID,
	payload             JSONB NOT NULL,
	authority_context   JSONB,
	evidence_refs       TEXT NOT NULL,
	sequence_number     BIGINT NOT NULL,
	previous_event_hash TEXT,
	event_hash          TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (deal_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS materials (
	id          UUID PRIMARY KEY,
	deal_id     UUID NOT NULL REFERENCES deals(id),
	type        TEXT NOT NULL,
	truth_class TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS material_revisions (
	id          UUID PRIMARY KEY,
	material_id UUID NOT NULL REFERENCES materials(id),
	deal_id     UUID NOT NULL REFERENCES deals(id),
	type        TEXT NOT NULL,
	truth_class TEXT NOT NULL,
	data        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id          UUID PRIMARY KEY,
	deal_id     UUID NOT NULL REFERENCES deals(id),
	filename    TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	sha256_hex  TEXT NOT NULL UNIQUE,
	storage_key TEXT NOT NULL,
	uploader_id UUID,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_links (
	id          UUID PRIMARY KEY,
	deal_id     UUID NOT NULL REFERENCES deals(id),
	artifact_id UUID NOT NULL REFERENCES artifacts(id),
	event_id    UUID,
	material_id UUID,
	tag         TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_states (
	id         UUID PRIMARY KEY,
	deal_id    UUID NOT NULL UNIQUE REFERENCES deals(id),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS simulated_events (
	id                UUID PRIMARY KEY,
	draft_state_id    UUID NOT NULL REFERENCES draft_states(id) ON DELETE CASCADE,
	type              TEXT NOT NULL,
	actor_id          UUID,
	payload           JSONB NOT NULL,
	authority_context JSONB,
	evidence_refs     TEXT NOT NULL,
	sequence_order    INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS projection_gates (
	id             UUID PRIMARY KEY,
	draft_state_id UUID NOT NULL REFERENCES draft_states(id) ON DELETE CASCADE,
	action         TEXT NOT NULL,
	is_blocked     BOOLEAN NOT NULL,
	reasons        JSONB NOT NULL,
	next_steps     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_deal_seq ON events (deal_id, sequence_number);
CREATE INDEX IF NOT EXISTS idx_events_deal_created ON events (deal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_revisions_deal_created ON material_revisions (deal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_actor_roles_deal ON actor_roles (deal_id, actor_id);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deals (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	state       TEXT NOT NULL,
	stress_mode TEXT NOT NULL,
	is_draft    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS actors (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS actor_roles (
	actor_id   TEXT NOT NULL,
	role_id    TEXT NOT NULL,
	role_name  TEXT NOT NULL,
	deal_id    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (deal_id, actor_id, role_name)
);

CREATE TABLE IF NOT EXISTS authority_rules (
	deal_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	threshold      INTEGER NOT NULL,
	roles_allowed  TEXT NOT NULL,
	roles_required TEXT NOT NULL,
	PRIMARY KEY (deal_id, action)
);

CREATE TABLE IF NOT EXISTS events (
	id                  TEXT PRIMARY KEY,
	deal_id             TEXT NOT NULL,
	type                TEXT NOT NULL,
	actor_id            TEXT,
	payload             TEXT NOT NULL,
	authority_context   TEXT,
	evidence_refs       TEXT NOT NULL,
	sequence_number     INTEGER NOT NULL,
	previous_event_hash TEXT,
	event_hash          TEXT NOT NULL,
	created_at          TEXT NOT NULL,
	UNIQUE (deal_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS materials (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	truth_class TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS material_revisions (
	id          TEXT PRIMARY KEY,
	material_id TEXT NOT NULL,
	deal_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	truth_class TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL,
	filename    TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	sha256_hex  TEXT NOT NULL UNIQUE,
	storage_key TEXT NOT NULL,
	uploader_id TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifact_links (
	id          TEXT PRIMARY KEY,
	deal_id     TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	event_id    TEXT,
	material_id TEXT,
	tag         TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_states (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS simulated_events (
	id                TEXT PRIMARY KEY,
	draft_state_id    TEXT NOT NULL,
	type              TEXT NOT NULL,
	actor_id          TEXT,
	payload           TEXT NOT NULL,
	authority_context TEXT,
	evidence_refs     TEXT NOT NULL,
	sequence_order    INTEGER NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projection_gates (
	id             TEXT PRIMARY KEY,
	draft_state_id TEXT NOT NULL,
	action         TEXT NOT NULL,
	is_blocked     INTEGER NOT NULL,
	reasons        TEXT NOT NULL,
	next_steps     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_deal_seq ON events (deal_id, sequence_number);
CREATE INDEX IF NOT EXISTS idx_events_deal_created ON events (deal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_revisions_deal_created ON material_revisions (deal_id, created_at);
CREATE INDEX IF NOT EXISTS idx_actor_roles_deal ON actor_roles (deal_id, actor_id);
`
