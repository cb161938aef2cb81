package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clearstone/dealkernel/pkg/gate"
	"github.com/clearstone/dealkernel/pkg/kernel"
	"github.com/clearstone/dealkernel/pkg/store"
)

// ErrorRequest echoes the request that failed.
type ErrorRequest struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
	Query  map[string]string `json:"query"`
}

// ErrorEnvelope is the uniform 4xx/5xx body. Explain blocks bypass it and are
// returned verbatim.
type ErrorEnvelope struct {
	Message string       `json:"message"`
	Request ErrorRequest `json:"request"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, params map[string]string) {
	if params == nil {
		params = map[string]string{}
	}
	query := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}
	writeJSON(w, status, ErrorEnvelope{
		Message: message,
		Request: ErrorRequest{
			Method: r.Method,
			URL:    r.URL.Path,
			Params: params,
			Query:  query,
		},
	})
}

// writeServiceError maps service-layer errors onto the HTTP surface. A gate
// block is product surface: its Explain goes out verbatim, 403 when blocked
// purely on authority, 409 otherwise.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, params map[string]string) {
	var gateErr *kernel.GateError
	switch {
	case errors.As(err, &gateErr):
		status := http.StatusConflict
		if gate.AuthorityOnly(&gateErr.Explain) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, gateErr.Explain)
	case errors.Is(err, kernel.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error(), params)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found", params)
	case errors.Is(err, store.ErrArtifactConflict):
		writeError(w, r, http.StatusConflict, "artifact hash already belongs to another deal", params)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "duplicate resource", params)
	default:
		s.log.ErrorContext(r.Context(), "internal error",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error", params)
	}
}

func dealParams(r *http.Request) map[string]string {
	params := map[string]string{}
	for _, name := range []string{"dealId", "actorId", "materialId", "artifactId"} {
		if v := r.PathValue(name); v != "" {
			params[name] = v
		}
	}
	return params
}
