package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reddit-intel/internal/config"
	"github.com/sells-group/reddit-intel/internal/job"
	"github.com/sells-group/reddit-intel/internal/model"
	"github.com/sells-group/reddit-intel/internal/store"
)

func testAPIStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testAPI(t *testing.T, st store.Store, runner job.Runner) http.Handler {
	t.Helper()
	if runner == nil {
		runner = func(ctx context.Context, j model.Job, report func(model.JobProgress)) (*model.AnalysisResult, error) {
			return &model.AnalysisResult{CompanyName: "Acme"}, nil
		}
	}
	return newRouter(&apiServer{
		store:        st,
		manager:      job.NewManager(runner),
		analyticsCfg: config.AnalyticsConfig{ZScoreThreshold: 2.0, MinDailyCount: 3, MinHistoryDays: 3},
	})
}

// seedDataset loads a small completed analysis into the store.
func seedDataset(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.SetContext(ctx, model.AnalysisContext{
		CompanyName:    "Acme",
		CompanyAliases: []string{"Acme"},
		Competitors:    []string{"Globex"},
	}))
	require.NoError(t, st.UpsertSubreddit(ctx, model.Subreddit{Name: "sales", Score: 0.9, MentionCount: 5}))
	require.NoError(t, st.UpsertSubreddit(ctx, model.Subreddit{Name: "crm", Score: 0.3, MentionCount: 1}))
	require.NoError(t, st.AddSource(ctx, model.Source{
		ID: "s1", Kind: model.SourceKindPost, Subreddit: "sales",
		Text: "Acme vs Globex", CreatedUTC: 1700000000,
	}))
	require.NoError(t, st.CreateEntity(ctx, model.Entity{
		ID: "e1", CanonicalName: "Acme", EntityType: model.EntityTypeCompany, Aliases: []string{"Acme"},
	}))
	require.NoError(t, st.CreateEntity(ctx, model.Entity{
		ID: "e2", CanonicalName: "Globex", EntityType: model.EntityTypeCompany, Aliases: []string{"Globex"},
	}))
	require.NoError(t, st.AddMention(ctx, model.Mention{
		ID: "m1", EntityID: "e1", SourceID: "s1", SurfaceForm: "Acme", Confidence: 0.9,
	}))
	require.NoError(t, st.AddRelationship(ctx, model.Relationship{
		ID: "r1", Type: "competitor", SubjectEntityID: "e1", ObjectEntityID: "e2",
		Confidence: 0.8, Evidence: "Acme vs Globex", SourceID: "s1",
	}))
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestHealth(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)
	rec, payload := doJSON(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
}

func TestAnalyzeQueuesJob(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)

	rec, payload := doJSON(t, h, http.MethodPost, "/api/analyze",
		`{"domain":"acme.com","competitors":["globex.com"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", payload["status"])
	assert.NotEmpty(t, payload["job_id"])
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/analyze", `{"competitors":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/analyze", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobPolling(t *testing.T) {
	st := testAPIStore(t)
	manager := job.NewManager(func(ctx context.Context, j model.Job, report func(model.JobProgress)) (*model.AnalysisResult, error) {
		report(model.ProgressResolvingCompany)
		return &model.AnalysisResult{CompanyName: "Acme", SubredditCount: 2}, nil
	})
	h := newRouter(&apiServer{store: st, manager: manager})

	j, err := manager.Submit(context.Background(), "acme.com", nil)
	require.NoError(t, err)
	manager.Wait()

	rec, payload := doJSON(t, h, http.MethodGet, "/api/jobs/"+j.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, j.ID, payload["job_id"])
	assert.Equal(t, "complete", payload["status"])
	result, ok := payload["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Acme", result["company_name"])
	assert.Equal(t, float64(2), result["subreddit_count"])
}

func TestJobFailureHasNoResult(t *testing.T) {
	st := testAPIStore(t)
	manager := job.NewManager(func(ctx context.Context, j model.Job, report func(model.JobProgress)) (*model.AnalysisResult, error) {
		report(model.ProgressDiscoveringSubreddits)
		return nil, eris.New("no subreddits found")
	})
	h := newRouter(&apiServer{store: st, manager: manager})

	j, err := manager.Submit(context.Background(), "acme.com", nil)
	require.NoError(t, err)
	manager.Wait()

	rec, payload := doJSON(t, h, http.MethodGet, "/api/jobs/"+j.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", payload["status"])
	assert.Contains(t, payload["error"], "no subreddits found")
	assert.NotContains(t, payload, "result")
}

func TestJobNotFound(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubredditsEndpoint(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/subreddits", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var subs []model.Subreddit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	require.Len(t, subs, 2)
	assert.Equal(t, "sales", subs[0].Name)
}

func TestEntitiesEndpointDerivesMentionCounts(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entities []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entities))
	require.Len(t, entities, 2)
	assert.Equal(t, "Acme", entities[0]["canonical_name"])
	assert.Equal(t, float64(1), entities[0]["mention_count"])
	assert.Equal(t, float64(0), entities[1]["mention_count"])
}

func TestEntityDetail(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	rec, payload := doJSON(t, h, http.MethodGet, "/api/entities/e2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Globex", payload["canonical_name"])
	assert.Equal(t, float64(0), payload["mention_count"])

	rels, ok := payload["relationships"].([]any)
	require.True(t, ok)
	require.Len(t, rels, 1)
	rel := rels[0].(map[string]any)
	assert.Equal(t, "competitor", rel["type"])
	assert.Equal(t, "in", rel["direction"]) // e2 is the object
	assert.Equal(t, "e1", rel["other_entity_id"])
	assert.Equal(t, "Acme", rel["other_entity_name"])

	rec, _ = doJSON(t, h, http.MethodGet, "/api/entities/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelationshipsEndpoint(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/relationships", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var rels []model.Relationship
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rels))
	require.Len(t, rels, 1)
	assert.Equal(t, "competitor", rels[0].Type)
}

func TestGraphEndpoint(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	rec, payload := doJSON(t, h, http.MethodGet, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)

	nodes := payload["nodes"].([]any)
	require.Len(t, nodes, 2)
	node := nodes[0].(map[string]any)
	assert.Equal(t, "e1", node["id"])
	assert.Equal(t, "Acme", node["name"])
	assert.Equal(t, "company", node["type"])

	edges := payload["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "e1", edge["source"])
	assert.Equal(t, "e2", edge["target"])
	assert.Equal(t, "competitor", edge["type"])
	assert.Equal(t, "s1", edge["source_id"])
}

func TestGraphEmptyDataset(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)

	rec, payload := doJSON(t, h, http.MethodGet, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, payload["nodes"])
	assert.Empty(t, payload["edges"])
	assert.NotNil(t, payload["nodes"]) // [] rather than null
}

func TestCompetitiveEndpoint(t *testing.T) {
	st := testAPIStore(t)
	seedDataset(t, st)
	h := testAPI(t, st, nil)

	rec, payload := doJSON(t, h, http.MethodGet, "/api/competitive", "")
	require.Equal(t, http.StatusOK, rec.Code)

	targets := payload["targets"].([]any)
	assert.Equal(t, []any{"Acme", "Globex"}, targets)
}

func TestCompetitiveWithoutAnalysis(t *testing.T) {
	h := testAPI(t, testAPIStore(t), nil)
	rec, payload := doJSON(t, h, http.MethodGet, "/api/competitive", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no completed analysis", payload["error"])
}
