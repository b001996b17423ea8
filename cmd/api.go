package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/reddit-intel/internal/analytics"
	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/job"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/store"
)

// apiServer serves the intelligence API over the persisted dataset and the
// in-memory job table.
type apiServer struct {
	store        store.Store
	manager      *job.Manager
	analyticsCfg config.AnalyticsConfig
}

func newRouter(s *apiServer) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/jobs/{jobID}", s.handleJob)
		r.Get("/subreddits", s.handleSubreddits)
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{entityID}", s.handleEntity)
		r.Get("/relationships", s.handleRelationships)
		r.Get("/graph", s.handleGraph)
		r.Get("/competitive", s.handleCompetitive)
	})
	return r
}

type analyzeRequest struct {
	Domain      string   `json:"domain"`
	Competitors []string `json:"competitors"`
}

func (s *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	j, err := s.manager.Submit(r.Context(), strings.TrimSpace(req.Domain), req.Competitors)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": j.ID,
		"status": string(j.Status),
	})
}

// jobResponse is the polling payload. Result is present only for a job that
// reached complete.
type jobResponse struct {
	JobID    string                `json:"job_id"`
	Status   model.JobStatus       `json:"status"`
	Progress model.JobProgress     `json:"progress,omitempty"`
	Error    string                `json:"error,omitempty"`
	Result   *model.AnalysisResult `json:"result,omitempty"`
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.manager.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		JobID:    j.ID,
		Status:   j.Status,
		Progress: j.Progress,
		Error:    j.Error,
		Result:   j.Result,
	})
}

func (s *apiServer) handleSubreddits(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubreddits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(subs))
}

// entitySummary is an Entity plus its derived mention count.
type entitySummary struct {
	model.Entity
	MentionCount int `json:"mention_count"`
}

func (s *apiServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mentions, err := s.store.ListMentions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	counts := make(map[string]int, len(entities))
	for _, m := range mentions {
		counts[m.EntityID]++
	}
	out := make([]entitySummary, len(entities))
	for i, e := range entities {
		out[i] = entitySummary{Entity: e, MentionCount: counts[e.ID]}
	}
	writeJSON(w, http.StatusOK, out)
}

// relationshipSummary describes one edge from the perspective of the entity
// being viewed.
type relationshipSummary struct {
	Type            string  `json:"type"`
	Direction       string  `json:"direction"` // "out": entity is subject; "in": entity is object
	OtherEntityID   string  `json:"other_entity_id"`
	OtherEntityName string  `json:"other_entity_name"`
	Confidence      float64 `json:"confidence"`
	SourceID        string  `json:"source_id"`
}

type entityDetail struct {
	model.Entity
	MentionCount  int                   `json:"mention_count"`
	Mentions      []model.Mention       `json:"mentions"`
	Relationships []relationshipSummary `json:"relationships"`
}

func (s *apiServer) handleEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	e, err := s.store.GetEntity(r.Context(), entityID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	mentions, err := s.store.ListMentionsByEntity(r.Context(), entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rels, err := s.store.ListRelationships(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make(map[string]string, len(entities))
	for _, other := range entities {
		names[other.ID] = other.CanonicalName
	}

	var summaries []relationshipSummary
	for _, rel := range rels {
		switch entityID {
		case rel.SubjectEntityID:
			summaries = append(summaries, relationshipSummary{
				Type:            rel.Type,
				Direction:       "out",
				OtherEntityID:   rel.ObjectEntityID,
				OtherEntityName: names[rel.ObjectEntityID],
				Confidence:      rel.Confidence,
				SourceID:        rel.SourceID,
			})
		case rel.ObjectEntityID:
			summaries = append(summaries, relationshipSummary{
				Type:            rel.Type,
				Direction:       "in",
				OtherEntityID:   rel.SubjectEntityID,
				OtherEntityName: names[rel.SubjectEntityID],
				Confidence:      rel.Confidence,
				SourceID:        rel.SourceID,
			})
		}
	}

	writeJSON(w, http.StatusOK, entityDetail{
		Entity:        *e,
		MentionCount:  len(mentions),
		Mentions:      orEmpty(mentions),
		Relationships: orEmpty(summaries),
	})
}

func (s *apiServer) handleRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.store.ListRelationships(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rels))
}

type graphNode struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Type model.EntityType `json:"type"`
}

type graphEdge struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	SourceID   string  `json:"source_id"`
}

type graphResponse struct {
	Nodes []graphNode `json:"nodes"`
	Edges []graphEdge `json:"edges"`
}

func (s *apiServer) handleGraph(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rels, err := s.store.ListRelationships(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	graph := graphResponse{Nodes: []graphNode{}, Edges: []graphEdge{}}
	for _, e := range entities {
		graph.Nodes = append(graph.Nodes, graphNode{ID: e.ID, Name: e.CanonicalName, Type: e.EntityType})
	}
	for _, rel := range rels {
		graph.Edges = append(graph.Edges, graphEdge{
			Source:     rel.SubjectEntityID,
			Target:     rel.ObjectEntityID,
			Type:       rel.Type,
			Confidence: rel.Confidence,
			SourceID:   rel.SourceID,
		})
	}
	writeJSON(w, http.StatusOK, graph)
}

func (s *apiServer) handleCompetitive(w http.ResponseWriter, r *http.Request) {
	overview, err := overviewFromStore(r.Context(), s.store, s.analyticsCfg)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no completed analysis")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// overviewFromStore recomputes competitive analytics over the persisted
// dataset. Returns store.ErrNotFound when no analysis context exists yet.
func overviewFromStore(ctx context.Context, st store.Store, cfg config.AnalyticsConfig) (*model.CompetitiveOverview, error) {
	ac, err := st.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := st.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := st.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	mentions, err := st.ListMentions(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*model.Entity, len(entities))
	for i := range entities {
		refs[i] = &entities[i]
	}
	return analytics.New(cfg, nil).Overview(*ac, sources, refs, mentions), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// orEmpty keeps list endpoints returning [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
