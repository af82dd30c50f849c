package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/store"
)

// service is the part of relgraph.Engine the HTTP API exposes.
type service interface {
	ProcessFiling(ctx context.Context, path, companyID string, opts ...relgraph.ProcessOption) (*relgraph.FilingResult, error)
	ProcessText(ctx context.Context, companyID, text string) (*relgraph.FilingResult, error)
	Judge(ctx context.Context, m relgraph.Mention) (*relgraph.Judgement, error)
	Reconcile(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)
	Registry() *registry.Registry
	Metrics() decision.Snapshot
}

type edgeReader interface {
	ScanEdges(ctx context.Context, q store.EdgeQuery) ([]store.Edge, error)
	CountEdgesByKind(ctx context.Context) (map[relation.Label]int, error)
}

type handler struct {
	svc   service
	edges edgeReader
}

func newHandler(e relgraph.Engine) *handler {
	return &handler{svc: e, edges: e.Store()}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/filings", h.handleFiling)
	mux.HandleFunc("POST /v1/text", h.handleText)
	mux.HandleFunc("POST /v1/judge", h.handleJudge)
	mux.HandleFunc("POST /v1/reconcile", h.handleReconcile)
	mux.HandleFunc("GET /v1/edges", h.handleListEdges)
	mux.HandleFunc("GET /v1/edges/counts", h.handleCountEdges)
	mux.HandleFunc("GET /v1/metrics", h.handleMetrics)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, relgraph.ErrUnknownCompany):
		return http.StatusNotFound
	case errors.Is(err, relgraph.ErrMentionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, relgraph.ErrParsingFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// POST /v1/filings
func (h *handler) handleFiling(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Path      string `json:"path"`
		CompanyID string `json:"company_id"`
		Force     bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "path and company_id are required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []relgraph.ProcessOption
	if req.Force {
		opts = append(opts, relgraph.WithForce())
	}
	res, err := h.svc.ProcessFiling(ctx, absPath, req.CompanyID, opts...)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		slog.Error("serve: filing failed", "path", absPath, "company", req.CompanyID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/text
func (h *handler) handleText(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		CompanyID string `json:"company_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CompanyID == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "company_id and text are required")
		return
	}

	res, err := h.svc.ProcessText(ctx, req.CompanyID, req.Text)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		slog.Error("serve: text failed", "company", req.CompanyID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/judge
func (h *handler) handleJudge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		CompanyID string        `json:"company_id"`
		Sentence  string        `json:"sentence"`
		Mention   string        `json:"mention"`
		Type      relation.Type `json:"type"`
		TargetID  string        `json:"target_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.CompanyID == "" || req.Sentence == "" || req.Mention == "" || !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "company_id, sentence, mention and type are required")
		return
	}

	j, err := h.svc.Judge(ctx, relgraph.Mention{
		CompanyID: req.CompanyID,
		Sentence:  req.Sentence,
		Text:      req.Mention,
		Type:      req.Type,
		TargetID:  req.TargetID,
	})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"judgement": j,
		"persisted": j.Persisted(),
	})
}

// POST /v1/reconcile
func (h *handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		reconcile.Options
		Types []relation.Type `json:"types,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	opts := req.Options
	opts.Types = req.Types

	rep, err := h.svc.Reconcile(ctx, opts)
	if err != nil {
		writeError(w, errorStatus(err), "reconcile failed")
		slog.Error("serve: reconcile failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /v1/edges?company=&kind=&after=&limit=
func (h *handler) handleListEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.EdgeQuery{SourceID: q.Get("company"), Limit: 100}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		query.Limit = n
	}
	if s := q.Get("after"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		query.After = n
	}
	kinds, err := parseKinds(q["kind"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.Kinds = kinds

	edges, err := h.edges.ScanEdges(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list edges")
		slog.Error("serve: list edges failed", "error", err)
		return
	}
	next := int64(0)
	if len(edges) == query.Limit {
		next = edges[len(edges)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"edges": edges,
		"next":  next,
	})
}

// GET /v1/edges/counts
func (h *handler) handleCountEdges(w http.ResponseWriter, r *http.Request) {
	counts, err := h.edges.CountEdgesByKind(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count edges")
		slog.Error("serve: count edges failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// GET /v1/metrics
func (h *handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	s := h.svc.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions":         s.Decisions(),
		"tiers":             s.Tiers,
		"fail_closed":       s.FailClosed,
		"escalated_no_sim":  s.EscalatedWithoutSignal,
		"tier3_calls":       s.Tier3Calls,
		"tier4_calls":       s.Tier4Calls,
		"tier4_failures":    s.Tier4Failures,
		"estimated_cost":    s.Cost(),
		"cost_per_decision": s.CostPerDecision(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"entities": h.svc.Registry().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
