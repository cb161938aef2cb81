// Package api is the HTTP surface of the deal lifecycle kernel. Routes use
// the method-aware ServeMux patterns; all bodies are JSON except artifact
// upload (multipart) and the proof pack (zip).
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/clearstone/dealkernel/pkg/artifacts"
	"github.com/clearstone/dealkernel/pkg/draft"
	"github.com/clearstone/dealkernel/pkg/kernel"
	"github.com/clearstone/dealkernel/pkg/observability"
	"github.com/clearstone/dealkernel/pkg/proofpack"
	"github.com/clearstone/dealkernel/pkg/snapshot"
	"github.com/clearstone/dealkernel/pkg/store"
)

// Server binds the service layer to HTTP.
type Server struct {
	kernel    *kernel.Service
	snapshots *snapshot.Service
	drafts    *draft.Service
	artifacts *artifacts.Service
	packs     *proofpack.Exporter
	store     store.Store
	limiter   Limiter
	obs       *observability.Provider
	log       *slog.Logger
	now       func() time.Time
}

// Option configures the Server.
type Option func(*Server)

func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithObservability records a span and RED metrics per request.
func WithObservability(p *observability.Provider) Option {
	return func(s *Server) { s.obs = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(k *kernel.Service, snaps *snapshot.Service, drafts *draft.Service, arts *artifacts.Service, packs *proofpack.Exporter, opts ...Option) *Server {
	s := &Server{
		kernel:    k,
		snapshots: snaps,
		drafts:    drafts,
		artifacts: arts,
		packs:     packs,
		store:     k.Store(),
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /deals", s.handleCreateDeal)
	mux.HandleFunc("GET /deals", s.handleListDeals)
	mux.HandleFunc("GET /deals/{dealId}", s.handleGetDeal)

	mux.HandleFunc("POST /deals/{dealId}/actors", s.handleCreateActor)
	mux.HandleFunc("GET /deals/{dealId}/actors", s.handleListActors)
	mux.HandleFunc("GET /deals/{dealId}/actors/{actorId}", s.handleGetActor)
	mux.HandleFunc("POST /deals/{dealId}/actors/{actorId}/roles", s.handleGrantRole)

	mux.HandleFunc("POST /deals/{dealId}/events", s.handleAppendEvent)
	mux.HandleFunc("GET /deals/{dealId}/events", s.handleListEvents)
	mux.HandleFunc("GET /deals/{dealId}/events/verify", s.handleVerifyChain)

	mux.HandleFunc("GET /deals/{dealId}/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /deals/{dealId}/explain", s.handleExplain)
	mux.HandleFunc("GET /deals/{dealId}/proofpack", s.handleProofPack)

	mux.HandleFunc("POST /deals/{dealId}/materials", s.handleCreateMaterial)
	mux.HandleFunc("GET /deals/{dealId}/materials", s.handleListMaterials)
	mux.HandleFunc("GET /deals/{dealId}/materials/{materialId}", s.handleGetMaterial)
	mux.HandleFunc("PATCH /deals/{dealId}/materials/{materialId}", s.handlePatchMaterial)
	mux.HandleFunc("GET /deals/{dealId}/materials/{materialId}/revisions", s.handleListRevisions)

	mux.HandleFunc("POST /deals/{dealId}/artifacts", s.handleUploadArtifact)
	mux.HandleFunc("GET /deals/{dealId}/artifacts", s.handleListArtifacts)
	mux.HandleFunc("GET /artifacts/{artifactId}/download", s.handleDownloadArtifact)
	mux.HandleFunc("POST /artifacts/{artifactId}/link", s.handleLinkArtifact)

	mux.HandleFunc("POST /deals/{dealId}/draft/start", s.handleDraftStart)
	mux.HandleFunc("POST /deals/{dealId}/draft/simulate-event", s.handleDraftSimulate)
	mux.HandleFunc("GET /deals/{dealId}/draft/gates", s.handleDraftGates)
	mux.HandleFunc("GET /deals/{dealId}/draft/diff", s.handleDraftDiff)
	mux.HandleFunc("POST /deals/{dealId}/draft/revert", s.handleDraftRevert)
	mux.HandleFunc("POST /deals/{dealId}/draft/commit", s.handleDraftCommit)

	var h http.Handler = mux
	h = s.withRateLimit(h)
	h = s.withLogging(h)
	h = withRequestID(h)
	return h
}
