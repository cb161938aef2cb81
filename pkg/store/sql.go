package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

// sqliteTimeLayout is a fixed-width UTC layout so lexicographic comparison in
// SQLite matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// dialect captures the differences between the SQL backends.
type dialect struct {
	name     string
	lockDeal string // row lock statement; empty when the backend serializes writers itself
	rebind   func(string) string
	bindTime func(time.Time) any
	isUnique func(error) bool
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a Store over database/sql, shared by the Postgres and SQLite
// backends.
type SQLStore struct {
	sqlQuerier
	db *sql.DB
}

func newSQLStore(db *sql.DB, d *dialect, schema string) (*SQLStore, error) {
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("store: migrate (%s): %w", d.name, err)
	}
	return &SQLStore{sqlQuerier: sqlQuerier{run: db, d: d}, db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// WithDealTx opens a transaction, locks the deal row where the backend
// supports it, and runs fn against the transaction-scoped querier.
func (s *SQLStore) WithDealTx(ctx context.Context, dealID string, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	q := sqlQuerier{run: tx, d: s.d}
	if s.d.lockDeal != "" {
		var id string
		if err := tx.QueryRowContext(ctx, s.d.rebind(s.d.lockDeal), dealID).Scan(&id); err != nil {
			_ = tx.Rollback()
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("store: lock deal: %w", err)
		}
	}
	if err := fn(q); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// sqlQuerier implements Querier over a dbtx.
type sqlQuerier struct {
	run dbtx
	d   *dialect
}

// scanTime accepts both native timestamps (Postgres) and encoded strings
// (SQLite).
type scanTime struct{ t *time.Time }

func (s scanTime) Scan(v any) error {
	switch v := v.(type) {
	case time.Time:
		*s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
		return nil
	}
	return fmt.Errorf("store: cannot scan %T into time.Time", v)
}

func (s scanTime) parse(raw string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("store: unparseable timestamp %q", raw)
}

// scanBool accepts native booleans (Postgres) and integers (SQLite).
type scanBool struct{ b *bool }

func (s scanBool) Scan(v any) error {
	switch v := v.(type) {
	case bool:
		*s.b = v
	case int64:
		*s.b = v != 0
	case nil:
		*s.b = false
	default:
		return fmt.Errorf("store: cannot scan %T into bool", v)
	}
	return nil
}

func encodeStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(raw string) []string {
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Deals.

func (q sqlQuerier) CreateDeal(ctx context.Context, d *contracts.Deal) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO deals (id, name, state, stress_mode, is_draft, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		d.ID, d.Name, string(d.State), string(d.StressMode), d.IsDraft,
		q.d.bindTime(d.CreatedAt), q.d.bindTime(d.UpdatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create deal: %w", err)
	}
	return nil
}

const dealColumns = `id, name, state, stress_mode, is_draft, created_at, updated_at`

func (q sqlQuerier) scanDeal(row interface{ Scan(...any) error }) (*contracts.Deal, error) {
	var d contracts.Deal
	err := row.Scan(&d.ID, &d.Name, (*string)(&d.State), (*string)(&d.StressMode),
		scanBool{&d.IsDraft}, scanTime{&d.CreatedAt}, scanTime{&d.UpdatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan deal: %w", err)
	}
	return &d, nil
}

func (q sqlQuerier) GetDeal(ctx context.Context, id string) (*contracts.Deal, error) {
	row := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`), id)
	return q.scanDeal(row)
}

func (q sqlQuerier) ListDeals(ctx context.Context) ([]contracts.Deal, error) {
	rows, err := q.run.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list deals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.Deal
	for rows.Next() {
		d, err := q.scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (q sqlQuerier) UpdateDealProjection(ctx context.Context, id string, p contracts.Projection, isDraft bool) error {
	res, err := q.run.ExecContext(ctx, q.d.rebind(
		`UPDATE deals SET state = $1, stress_mode = $2, is_draft = $3, updated_at = $4 WHERE id = $5`),
		string(p.State), string(p.StressMode), isDraft, q.d.bindTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("store: update deal projection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Actors and roles.

func (q sqlQuerier) CreateActor(ctx context.Context, a *contracts.Actor) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO actors (id, name, type, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`),
		a.ID, a.Name, string(a.Type), q.d.bindTime(a.CreatedAt), q.d.bindTime(a.UpdatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create actor: %w", err)
	}
	return nil
}

func (q sqlQuerier) GetActor(ctx context.Context, id string) (*contracts.Actor, error) {
	var a contracts.Actor
	err := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT id, name, type, created_at, updated_at FROM actors WHERE id = $1`), id).
		Scan(&a.ID, &a.Name, (*string)(&a.Type), scanTime{&a.CreatedAt}, scanTime{&a.UpdatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get actor: %w", err)
	}
	return &a, nil
}

func (q sqlQuerier) GrantRole(ctx context.Context, dealID, actorID, roleName string, at time.Time) error {
	roleID := uuid.NewString()
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO actor_roles (actor_id, role_id, role_name, deal_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		actorID, roleID, roleName, dealID, q.d.bindTime(at))
	if err != nil {
		if q.d.isUnique(err) {
			return nil // grant already present
		}
		return fmt.Errorf("store: grant role: %w", err)
	}
	return nil
}

func (q sqlQuerier) RolesForActor(ctx context.Context, dealID, actorID string, at time.Time) ([]string, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT role_name FROM actor_roles
		 WHERE deal_id = $1 AND actor_id = $2 AND created_at <= $3
		 ORDER BY role_name`),
		dealID, actorID, q.d.bindTime(at))
	if err != nil {
		return nil, fmt.Errorf("store: roles for actor: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan role: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ListActorRoles(ctx context.Context, dealID string) ([]contracts.ActorRole, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT actor_id, role_id, role_name, deal_id, created_at
		 FROM actor_roles WHERE deal_id = $1 ORDER BY created_at ASC`), dealID)
	if err != nil {
		return nil, fmt.Errorf("store: list actor roles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.ActorRole
	for rows.Next() {
		var ar contracts.ActorRole
		if err := rows.Scan(&ar.ActorID, &ar.RoleID, &ar.RoleName, &ar.DealID, scanTime{&ar.CreatedAt}); err != nil {
			return nil, fmt.Errorf("store: scan actor role: %w", err)
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ListDealActors(ctx context.Context, dealID string) ([]contracts.ActorWithRoles, error) {
	bindings, err := q.ListActorRoles(ctx, dealID)
	if err != nil {
		return nil, err
	}
	byActor := map[string][]string{}
	order := []string{}
	for _, ar := range bindings {
		if _, seen := byActor[ar.ActorID]; !seen {
			order = append(order, ar.ActorID)
		}
		byActor[ar.ActorID] = append(byActor[ar.ActorID], ar.RoleName)
	}
	out := make([]contracts.ActorWithRoles, 0, len(order))
	for _, actorID := range order {
		a, err := q.GetActor(ctx, actorID)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, contracts.ActorWithRoles{Actor: *a, Roles: byActor[actorID]})
	}
	return out, nil
}

// Authority rules.

func (q sqlQuerier) CreateAuthorityRule(ctx context.Context, r *contracts.AuthorityRule) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO authority_rules (deal_id, action, threshold, roles_allowed, roles_required)
		 VALUES ($1, $2, $3, $4, $5)`),
		r.DealID, string(r.Action), r.Threshold, encodeStrings(r.RolesAllowed), encodeStrings(r.RolesRequired))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create authority rule: %w", err)
	}
	return nil
}

func (q sqlQuerier) GetAuthorityRule(ctx context.Context, dealID string, action contracts.Action) (*contracts.AuthorityRule, error) {
	var r contracts.AuthorityRule
	var allowed, required string
	err := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT deal_id, action, threshold, roles_allowed, roles_required
		 FROM authority_rules WHERE deal_id = $1 AND action = $2`),
		dealID, string(action)).
		Scan(&r.DealID, (*string)(&r.Action), &r.Threshold, &allowed, &required)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get authority rule: %w", err)
	}
	r.RolesAllowed = decodeStrings(allowed)
	r.RolesRequired = decodeStrings(required)
	return &r, nil
}

func (q sqlQuerier) ListAuthorityRules(ctx context.Context, dealID string) ([]contracts.AuthorityRule, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT deal_id, action, threshold, roles_allowed, roles_required
		 FROM authority_rules WHERE deal_id = $1 ORDER BY action ASC`), dealID)
	if err != nil {
		return nil, fmt.Errorf("store: list authority rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.AuthorityRule
	for rows.Next() {
		var r contracts.AuthorityRule
		var allowed, required string
		if err := rows.Scan(&r.DealID, (*string)(&r.Action), &r.Threshold, &allowed, &required); err != nil {
			return nil, fmt.Errorf("store: scan authority rule: %w", err)
		}
		r.RolesAllowed = decodeStrings(allowed)
		r.RolesRequired = decodeStrings(required)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events.

const eventColumns = `id, deal_id, type, actor_id, payload, authority_context,
	evidence_refs, sequence_number, previous_event_hash, event_hash, created_at`

func (q sqlQuerier) InsertEvent(ctx context.Context, e *contracts.Event) error {
	var prev any
	if e.PreviousEventHash != nil {
		prev = *e.PreviousEventHash
	}
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`),
		e.ID, e.DealID, string(e.Type), nullStr(e.ActorID), string(e.Payload),
		jsonOrNull(e.AuthorityContext), encodeStrings(e.EvidenceRefs),
		e.SequenceNumber, prev, e.EventHash, q.d.bindTime(e.CreatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

func scanEvent(row interface{ Scan(...any) error }) (*contracts.Event, error) {
	var e contracts.Event
	var actorID, authCtx, prev sql.NullString
	var payload, refs string
	err := row.Scan(&e.ID, &e.DealID, (*string)(&e.Type), &actorID, &payload, &authCtx,
		&refs, &e.SequenceNumber, &prev, &e.EventHash, scanTime{&e.CreatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan event: %w", err)
	}
	e.ActorID = actorID.String
	e.Payload = json.RawMessage(payload)
	if authCtx.Valid {
		e.AuthorityContext = json.RawMessage(authCtx.String)
	}
	e.EvidenceRefs = decodeStrings(refs)
	if prev.Valid {
		p := prev.String
		e.PreviousEventHash = &p
	}
	return &e, nil
}

func (q sqlQuerier) LastEvent(ctx context.Context, dealID string) (*contracts.Event, error) {
	row := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT `+eventColumns+` FROM events WHERE deal_id = $1
		 ORDER BY sequence_number DESC LIMIT 1`), dealID)
	return scanEvent(row)
}

func (q sqlQuerier) listEvents(ctx context.Context, query string, args ...any) ([]contracts.Event, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ListEvents(ctx context.Context, dealID string) ([]contracts.Event, error) {
	return q.listEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE deal_id = $1 ORDER BY sequence_number ASC`,
		dealID)
}

func (q sqlQuerier) ListEventsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Event, error) {
	return q.listEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE deal_id = $1 AND created_at <= $2
		 ORDER BY sequence_number ASC`,
		dealID, q.d.bindTime(at))
}

// Materials.

func (q sqlQuerier) CreateMaterial(ctx context.Context, m *contracts.MaterialObject) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO materials (id, deal_id, type, truth_class, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		m.ID, m.DealID, m.Type, string(m.TruthClass), string(m.Data),
		q.d.bindTime(m.CreatedAt), q.d.bindTime(m.UpdatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create material: %w", err)
	}
	return nil
}

func (q sqlQuerier) UpdateMaterial(ctx context.Context, m *contracts.MaterialObject) error {
	res, err := q.run.ExecContext(ctx, q.d.rebind(
		`UPDATE materials SET truth_class = $1, data = $2, updated_at = $3 WHERE id = $4`),
		string(m.TruthClass), string(m.Data), q.d.bindTime(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("store: update material: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMaterial(row interface{ Scan(...any) error }) (*contracts.MaterialObject, error) {
	var m contracts.MaterialObject
	var data string
	err := row.Scan(&m.ID, &m.DealID, &m.Type, (*string)(&m.TruthClass), &data,
		scanTime{&m.CreatedAt}, scanTime{&m.UpdatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan material: %w", err)
	}
	m.Data = json.RawMessage(data)
	return &m, nil
}

func (q sqlQuerier) GetMaterial(ctx context.Context, id string) (*contracts.MaterialObject, error) {
	row := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT id, deal_id, type, truth_class, data, created_at, updated_at
		 FROM materials WHERE id = $1`), id)
	return scanMaterial(row)
}

func (q sqlQuerier) ListMaterials(ctx context.Context, dealID string) ([]contracts.MaterialObject, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT id, deal_id, type, truth_class, data, created_at, updated_at
		 FROM materials WHERE deal_id = $1 ORDER BY created_at ASC`), dealID)
	if err != nil {
		return nil, fmt.Errorf("store: list materials: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.MaterialObject
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q sqlQuerier) InsertMaterialRevision(ctx context.Context, r *contracts.MaterialRevision) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO material_revisions (id, material_id, deal_id, type, truth_class, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		r.ID, r.MaterialID, r.DealID, r.Type, string(r.TruthClass), string(r.Data),
		q.d.bindTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert material revision: %w", err)
	}
	return nil
}

func (q sqlQuerier) listRevisions(ctx context.Context, query string, args ...any) ([]contracts.MaterialRevision, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list material revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.MaterialRevision
	for rows.Next() {
		var r contracts.MaterialRevision
		var data string
		if err := rows.Scan(&r.ID, &r.MaterialID, &r.DealID, &r.Type, (*string)(&r.TruthClass),
			&data, scanTime{&r.CreatedAt}); err != nil {
			return nil, fmt.Errorf("store: scan material revision: %w", err)
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ListMaterialRevisions(ctx context.Context, materialID string) ([]contracts.MaterialRevision, error) {
	return q.listRevisions(ctx,
		`SELECT id, material_id, deal_id, type, truth_class, data, created_at
		 FROM material_revisions WHERE material_id = $1 ORDER BY created_at ASC`,
		materialID)
}

func (q sqlQuerier) ListRevisionsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.MaterialRevision, error) {
	return q.listRevisions(ctx,
		`SELECT id, material_id, deal_id, type, truth_class, data, created_at
		 FROM material_revisions WHERE deal_id = $1 AND created_at <= $2
		 ORDER BY created_at ASC`,
		dealID, q.d.bindTime(at))
}

// Artifacts.

func (q sqlQuerier) InsertArtifact(ctx context.Context, a *contracts.Artifact) error {
	// Cross-deal ownership wins over the unique index so the caller can
	// distinguish idempotent re-upload from conflict.
	if existing, err := q.GetArtifactByHash(ctx, a.Sha256Hex); err == nil {
		if existing.DealID == a.DealID {
			return ErrDuplicate
		}
		return ErrArtifactConflict
	} else if err != ErrNotFound {
		return err
	}
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO artifacts (id, deal_id, filename, mime_type, size_bytes, sha256_hex, storage_key, uploader_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		a.ID, a.DealID, a.Filename, a.MimeType, a.SizeBytes, a.Sha256Hex,
		a.StorageKey, nullStr(a.UploaderID), q.d.bindTime(a.CreatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert artifact: %w", err)
	}
	return nil
}

const artifactColumns = `id, deal_id, filename, mime_type, size_bytes, sha256_hex, storage_key, uploader_id, created_at`

func scanArtifact(row interface{ Scan(...any) error }) (*contracts.Artifact, error) {
	var a contracts.Artifact
	var uploader sql.NullString
	err := row.Scan(&a.ID, &a.DealID, &a.Filename, &a.MimeType, &a.SizeBytes,
		&a.Sha256Hex, &a.StorageKey, &uploader, scanTime{&a.CreatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan artifact: %w", err)
	}
	a.UploaderID = uploader.String
	return &a, nil
}

func (q sqlQuerier) GetArtifact(ctx context.Context, id string) (*contracts.Artifact, error) {
	row := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`), id)
	return scanArtifact(row)
}

func (q sqlQuerier) GetArtifactByHash(ctx context.Context, sha256Hex string) (*contracts.Artifact, error) {
	row := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT `+artifactColumns+` FROM artifacts WHERE sha256_hex = $1`), sha256Hex)
	return scanArtifact(row)
}

func (q sqlQuerier) listArtifacts(ctx context.Context, query string, args ...any) ([]contracts.Artifact, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ListArtifacts(ctx context.Context, dealID string) ([]contracts.Artifact, error) {
	return q.listArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE deal_id = $1 ORDER BY created_at ASC`,
		dealID)
}

func (q sqlQuerier) ListArtifactsUpTo(ctx context.Context, dealID string, at time.Time) ([]contracts.Artifact, error) {
	return q.listArtifacts(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE deal_id = $1 AND created_at <= $2
		 ORDER BY created_at ASC`,
		dealID, q.d.bindTime(at))
}

func (q sqlQuerier) DeleteArtifact(ctx context.Context, id string) error {
	res, err := q.run.ExecContext(ctx, q.d.rebind(`DELETE FROM artifacts WHERE id = $1`), id)
	if err != nil {
		return fmt.Errorf("store: delete artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q sqlQuerier) InsertArtifactLink(ctx context.Context, l *contracts.ArtifactLink) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO artifact_links (id, deal_id, artifact_id, event_id, material_id, tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		l.ID, l.DealID, l.ArtifactID, nullStr(l.EventID), nullStr(l.MaterialID),
		nullStr(l.Tag), q.d.bindTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert artifact link: %w", err)
	}
	return nil
}

func (q sqlQuerier) ListArtifactLinks(ctx context.Context, dealID string) ([]contracts.ArtifactLink, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT id, deal_id, artifact_id, event_id, material_id, tag, created_at
		 FROM artifact_links WHERE deal_id = $1 ORDER BY created_at ASC`), dealID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifact links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.ArtifactLink
	for rows.Next() {
		var l contracts.ArtifactLink
		var eventID, materialID, tag sql.NullString
		if err := rows.Scan(&l.ID, &l.DealID, &l.ArtifactID, &eventID, &materialID,
			&tag, scanTime{&l.CreatedAt}); err != nil {
			return nil, fmt.Errorf("store: scan artifact link: %w", err)
		}
		l.EventID = eventID.String
		l.MaterialID = materialID.String
		l.Tag = tag.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// Draft sandbox.

func (q sqlQuerier) GetDraft(ctx context.Context, dealID string) (*contracts.DraftState, error) {
	var d contracts.DraftState
	err := q.run.QueryRowContext(ctx, q.d.rebind(
		`SELECT id, deal_id, created_at FROM draft_states WHERE deal_id = $1`), dealID).
		Scan(&d.ID, &d.DealID, scanTime{&d.CreatedAt})
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get draft: %w", err)
	}
	return &d, nil
}

func (q sqlQuerier) CreateDraft(ctx context.Context, d *contracts.DraftState) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO draft_states (id, deal_id, created_at) VALUES ($1, $2, $3)`),
		d.ID, d.DealID, q.d.bindTime(d.CreatedAt))
	if err != nil {
		if q.d.isUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create draft: %w", err)
	}
	return nil
}

func (q sqlQuerier) DeleteDraft(ctx context.Context, draftID string) error {
	if _, err := q.run.ExecContext(ctx, q.d.rebind(
		`DELETE FROM simulated_events WHERE draft_state_id = $1`), draftID); err != nil {
		return fmt.Errorf("store: delete simulated events: %w", err)
	}
	if _, err := q.run.ExecContext(ctx, q.d.rebind(
		`DELETE FROM projection_gates WHERE draft_state_id = $1`), draftID); err != nil {
		return fmt.Errorf("store: delete projection gates: %w", err)
	}
	res, err := q.run.ExecContext(ctx, q.d.rebind(
		`DELETE FROM draft_states WHERE id = $1`), draftID)
	if err != nil {
		return fmt.Errorf("store: delete draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q sqlQuerier) InsertSimulatedEvent(ctx context.Context, e *contracts.SimulatedEvent) error {
	_, err := q.run.ExecContext(ctx, q.d.rebind(
		`INSERT INTO simulated_events (id, draft_state_id, type, actor_id, payload, authority_context, evidence_refs, sequence_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		e.ID, e.DraftStateID, string(e.Type), nullStr(e.ActorID), string(e.Payload),
		jsonOrNull(e.AuthorityContext), encodeStrings(e.EvidenceRefs), e.SequenceOrder,
		q.d.bindTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert simulated event: %w", err)
	}
	return nil
}

func (q sqlQuerier) ListSimulatedEvents(ctx context.Context, draftID string) ([]contracts.SimulatedEvent, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT id, draft_state_id, type, actor_id, payload, authority_context, evidence_refs, sequence_order, created_at
		 FROM simulated_events WHERE draft_state_id = $1 ORDER BY sequence_order ASC`), draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list simulated events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.SimulatedEvent
	for rows.Next() {
		var e contracts.SimulatedEvent
		var actorID, authCtx sql.NullString
		var payload, refs string
		if err := rows.Scan(&e.ID, &e.DraftStateID, (*string)(&e.Type), &actorID, &payload,
			&authCtx, &refs, &e.SequenceOrder, scanTime{&e.CreatedAt}); err != nil {
			return nil, fmt.Errorf("store: scan simulated event: %w", err)
		}
		e.ActorID = actorID.String
		e.Payload = json.RawMessage(payload)
		if authCtx.Valid {
			e.AuthorityContext = json.RawMessage(authCtx.String)
		}
		e.EvidenceRefs = decodeStrings(refs)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q sqlQuerier) ReplaceProjectionGates(ctx context.Context, draftID string, gates []contracts.ProjectionGate) error {
	if _, err := q.run.ExecContext(ctx, q.d.rebind(
		`DELETE FROM projection_gates WHERE draft_state_id = $1`), draftID); err != nil {
		return fmt.Errorf("store: clear projection gates: %w", err)
	}
	for _, g := range gates {
		reasons, _ := json.Marshal(g.Reasons)
		steps, _ := json.Marshal(g.NextSteps)
		if _, err := q.run.ExecContext(ctx, q.d.rebind(
			`INSERT INTO projection_gates (id, draft_state_id, action, is_blocked, reasons, next_steps)
			 VALUES ($1, $2, $3, $4, $5, $6)`),
			g.ID, draftID, string(g.Action), g.IsBlocked, string(reasons), string(steps)); err != nil {
			return fmt.Errorf("store: insert projection gate: %w", err)
		}
	}
	return nil
}

func (q sqlQuerier) ListProjectionGates(ctx context.Context, draftID string) ([]contracts.ProjectionGate, error) {
	rows, err := q.run.QueryContext(ctx, q.d.rebind(
		`SELECT id, draft_state_id, action, is_blocked, reasons, next_steps
		 FROM projection_gates WHERE draft_state_id = $1 ORDER BY action ASC`), draftID)
	if err != nil {
		return nil, fmt.Errorf("store: list projection gates: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.ProjectionGate
	for rows.Next() {
		var g contracts.ProjectionGate
		var reasons, steps string
		if err := rows.Scan(&g.ID, &g.DraftStateID, (*string)(&g.Action),
			scanBool{&g.IsBlocked}, &reasons, &steps); err != nil {
			return nil, fmt.Errorf("store: scan projection gate: %w", err)
		}
		_ = json.Unmarshal([]byte(reasons), &g.Reasons)
		_ = json.Unmarshal([]byte(steps), &g.NextSteps)
		out = append(out, g)
	}
	return out, rows.Err()
}
