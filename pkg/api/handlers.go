package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clearstone/dealkernel/pkg/contracts"
	"github.com/clearstone/dealkernel/pkg/draft"
	"github.com/clearstone/dealkernel/pkg/kernel"
	"github.com/clearstone/dealkernel/pkg/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// atParam parses the ?at= timestamp; absent means now.
func (s *Server) atParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return s.now(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("at must be an RFC 3339 timestamp")
	}
	return at, nil
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, createDealSchema, &req) {
		return
	}
	deal, err := s.kernel.CreateDeal(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, deal)
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.store.ListDeals(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, deals)
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := s.store.GetDeal(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Role string `json:"role"`
	}
	if !decodeBody(w, r, createActorSchema, &req) {
		return
	}
	actor, err := s.kernel.CreateActor(r.Context(), r.PathValue("dealId"),
		req.Name, contracts.ActorType(req.Type), req.Role)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

func (s *Server) handleListActors(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("dealId")
	if _, err := s.store.GetDeal(r.Context(), dealID); err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	actors, err := s.store.ListDealActors(r.Context(), dealID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, actors)
}

func (s *Server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("dealId")
	actor, err := s.store.GetActor(r.Context(), r.PathValue("actorId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	roles, err := s.store.RolesForActor(r.Context(), dealID, actor.ID, s.now())
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, contracts.ActorWithRoles{Actor: *actor, Roles: roles})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if !decodeBody(w, r, grantRoleSchema, &req) {
		return
	}
	actor, err := s.kernel.GrantRole(r.Context(), r.PathValue("dealId"), r.PathValue("actorId"), req.Role)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req kernel.Submission
	if !decodeBody(w, r, submitEventSchema, &req) {
		return
	}
	event, err := s.kernel.AppendEvent(r.Context(), r.PathValue("dealId"), req)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("dealId")
	if _, err := s.store.GetDeal(r.Context(), dealID); err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	events, err := s.store.ListEvents(r.Context(), dealID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := s.kernel.VerifyChain(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	at, err := s.atParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), dealParams(r))
		return
	}
	snap, err := s.snapshots.Snapshot(r.Context(), r.PathValue("dealId"), at)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string          `json:"action"`
		ActorID string          `json:"actorId"`
		Payload json.RawMessage `json:"payload"`
	}
	if !decodeBody(w, r, explainSchema, &req) {
		return
	}
	at, err := s.atParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), dealParams(r))
		return
	}
	explain, err := s.snapshots.Explain(r.Context(), r.PathValue("dealId"), contracts.Action(req.Action), req.ActorID, at)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, explain)
}

func (s *Server) handleProofPack(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("dealId")
	at, err := s.atParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), dealParams(r))
		return
	}
	var actions []contracts.Action
	if raw := r.URL.Query().Get("actions"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				actions = append(actions, contracts.Action(a))
			}
		}
	}
	// Existence is checked before committing to the zip content type.
	if _, err := s.store.GetDeal(r.Context(), dealID); err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "proofpack-"+dealID+".zip"))
	if _, err := s.packs.Export(r.Context(), w, dealID, at, actions); err != nil {
		s.log.ErrorContext(r.Context(), "proofpack export failed", "dealId", dealID, "error", err)
	}
}

func (s *Server) handleCreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       string          `json:"type"`
		TruthClass string          `json:"truthClass"`
		Data       json.RawMessage `json:"data"`
	}
	if !decodeBody(w, r, createMaterialSchema, &req) {
		return
	}
	mat, err := s.kernel.CreateMaterial(r.Context(), r.PathValue("dealId"),
		req.Type, contracts.TruthClass(req.TruthClass), req.Data)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, mat)
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("dealId")
	if _, err := s.store.GetDeal(r.Context(), dealID); err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	materials, err := s.store.ListMaterials(r.Context(), dealID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, materials)
}

func (s *Server) handleGetMaterial(w http.ResponseWriter, r *http.Request) {
	mat, err := s.dealMaterial(r)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, mat)
}

func (s *Server) handlePatchMaterial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TruthClass *contracts.TruthClass `json:"truthClass"`
		Data       json.RawMessage       `json:"data"`
	}
	if !decodeBody(w, r, patchMaterialSchema, &req) {
		return
	}
	mat, err := s.kernel.UpdateMaterial(r.Context(), r.PathValue("dealId"),
		r.PathValue("materialId"), req.TruthClass, req.Data)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, mat)
}

func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	mat, err := s.dealMaterial(r)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	revisions, err := s.store.ListMaterialRevisions(r.Context(), mat.ID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (s *Server) handleUploadArtifact(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "expected multipart form upload", dealParams(r))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing file part", dealParams(r))
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	artifact, err := s.artifacts.Upload(r.Context(), r.PathValue("dealId"),
		header.Filename, mimeType, r.FormValue("uploaderId"), file)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.artifacts.List(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, arts)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := r.PathValue("artifactId")
	row, err := s.store.GetArtifact(r.Context(), artifactID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	artifact, rc, err := s.artifacts.Open(r.Context(), row.DealID, artifactID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifact.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", artifact.SizeBytes))
	if _, err := io.Copy(w, rc); err != nil {
		s.log.WarnContext(r.Context(), "artifact download interrupted",
			"artifactId", artifactID, "error", err)
	}
}

func (s *Server) handleLinkArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID    string `json:"eventId"`
		MaterialID string `json:"materialId"`
		Tag        string `json:"tag"`
	}
	if !decodeBody(w, r, linkArtifactSchema, &req) {
		return
	}
	artifactID := r.PathValue("artifactId")
	row, err := s.store.GetArtifact(r.Context(), artifactID)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	link, err := s.artifacts.Link(r.Context(), row.DealID, artifactID,
		req.EventID, req.MaterialID, req.Tag)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleDraftStart(w http.ResponseWriter, r *http.Request) {
	d, proj, err := s.drafts.Start(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft": d, "projection": proj})
}

func (s *Server) handleDraftSimulate(w http.ResponseWriter, r *http.Request) {
	var req draft.Simulation
	if !decodeBody(w, r, simulateEventSchema, &req) {
		return
	}
	event, proj, gates, err := s.drafts.Simulate(r.Context(), r.PathValue("dealId"), req)
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"simulatedEvent": event,
		"projection":     proj,
		"gates":          gates,
	})
}

func (s *Server) handleDraftGates(w http.ResponseWriter, r *http.Request) {
	gates, proj, err := s.drafts.Gates(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gates": gates, "projection": proj})
}

func (s *Server) handleDraftDiff(w http.ResponseWriter, r *http.Request) {
	diff, err := s.drafts.Diff(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleDraftRevert(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Revert(r.Context(), r.PathValue("dealId")); err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reverted"})
}

func (s *Server) handleDraftCommit(w http.ResponseWriter, r *http.Request) {
	deal, committed, err := s.drafts.Commit(r.Context(), r.PathValue("dealId"))
	if err != nil {
		s.writeServiceError(w, r, err, dealParams(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal": deal, "committedEvents": committed})
}

// dealMaterial loads the material and hides rows that belong to another deal.
func (s *Server) dealMaterial(r *http.Request) (*contracts.MaterialObject, error) {
	mat, err := s.store.GetMaterial(r.Context(), r.PathValue("materialId"))
	if err != nil {
		return nil, err
	}
	if mat.DealID != r.PathValue("dealId") {
		return nil, store.ErrNotFound
	}
	return mat, nil
}
