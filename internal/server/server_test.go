package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"reviewflow/internal/app"
	"reviewflow/internal/config"
	"reviewflow/internal/db"
	"reviewflow/internal/engine"
	"reviewflow/internal/engine/auth"
	"reviewflow/internal/metrics"
	"reviewflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Reviewers = []config.ReviewerConfig{
		{ID: "u1", Role: "compliance_officer", Department: "compliance"},
		{ID: "u2", Role: "legal_expert", Department: "legal"},
		{ID: "u3", Role: "risk_manager", Department: "risk"},
	}
	eng := engine.New(conn, cfg)
	eng.Metrics = metrics.New()
	eng.Retry.MaxElapsed = 200 * time.Millisecond
	require.NoError(t, app.Seed(ctx, eng, cfg))

	handler, err := New(Config{
		Engine:   eng,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Policy:   auth.Policy{AdminRoles: cfg.Auth.AdminRoles},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{URL: srv.URL, client: srv.Client()}
}

func actor(id string, roles ...string) map[string]string {
	h := map[string]string{"X-Actor-Id": id}
	if len(roles) > 0 {
		h["X-Actor-Roles"] = strings.Join(roles, ",")
	}
	return h
}

func doJSON(t *testing.T, s *testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func submitItem(t *testing.T, s *testServer, moduleID string) ItemResponse {
	t.Helper()
	res, data := doJSON(t, s, http.MethodPost, "/v1/items", map[string]any{
		"module_type": "risk_assessment",
		"module_id":   moduleID,
		"title":       "Assess " + moduleID,
		"priority":    "high",
	}, actor("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var it ItemResponse
	require.NoError(t, json.Unmarshal(data, &it))
	return it
}

func TestSubmitRejectsDuplicateWithExistingID(t *testing.T) {
	s := newTestServer(t)
	first := submitItem(t, s, "sys-42")
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, "alice", first.CreatedBy)

	res, data := doJSON(t, s, http.MethodPost, "/v1/items", map[string]any{
		"module_type": "risk_assessment",
		"module_id":   "sys-42",
		"title":       "Again",
	}, actor("bob"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "duplicate_pending_item", apiErr.Code)
	assert.Equal(t, first.ID, apiErr.Details["existing_item_id"])

	res, data = doJSON(t, s, http.MethodGet, "/v1/items/exists?module_type=risk_assessment&module_id=sys-42", nil, actor("bob"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var exists ExistsResponse
	require.NoError(t, json.Unmarshal(data, &exists))
	assert.True(t, exists.Exists)
	assert.Equal(t, first.ID, exists.ItemID)

	res, data = doJSON(t, s, http.MethodGet, "/v1/items/exists?module_type=risk_assessment&module_id=other", nil, actor("bob"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &exists))
	assert.False(t, exists.Exists)
}

func TestSubmitValidatesRequest(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s, http.MethodPost, "/v1/items", map[string]any{
		"module_type": "spaceship",
		"module_id":   "x",
		"title":       "t",
	}, actor("alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, s, http.MethodPost, "/v1/items", map[string]any{
		"module_type": "document",
		"module_id":   "doc-1",
		"title":       "t",
		"due_date":    "next tuesday",
	}, actor("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_input", decodeError(t, data).Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s, http.MethodGet, "/v1/items", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, s, http.MethodGet, "/v1/items", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := SignToken(testSecret, "carol", nil)
	require.NoError(t, err)
	res, data = doJSON(t, s, http.MethodPost, "/v1/items", map[string]any{
		"module_type": "training",
		"module_id":   "t-1",
		"title":       "Onboarding",
	}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var it ItemResponse
	require.NoError(t, json.Unmarshal(data, &it))
	assert.Equal(t, "carol", it.CreatedBy)

	res, _ = doJSON(t, s, http.MethodGet, "/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSettingsRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"enabled":              true,
		"strategy_type":        "round_robin",
		"eligible_roles":       []string{"compliance_officer"},
		"eligible_departments": []string{"compliance"},
	}
	res, data := doJSON(t, s, http.MethodPut, "/v1/settings/auto-assignment", body, actor("alice", "reviewer"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Code)

	token, err := SignToken(testSecret, "root", []string{"admin"})
	require.NoError(t, err)
	admin := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, s, http.MethodPut, "/v1/settings/auto-assignment", body, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var settings SettingsResponse
	require.NoError(t, json.Unmarshal(data, &settings))
	assert.True(t, settings.Enabled)
	assert.Equal(t, "round_robin", settings.StrategyType)
	assert.Equal(t, "root", settings.UpdatedBy)

	bogus := map[string]any{"enabled": true, "strategy_type": "bogus", "eligible_roles": []string{"x"}, "eligible_departments": []string{"y"}}
	res, data = doJSON(t, s, http.MethodPut, "/v1/settings/auto-assignment", bogus, admin)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "invalid_strategy", apiErr.Code)
	assert.Equal(t, "strategy_type", apiErr.Details["invalid_field"])

	res, data = doJSON(t, s, http.MethodPut, "/v1/settings/auto-assignment", map[string]any{
		"enabled": true, "strategy_type": "round_robin", "eligible_departments": []string{"legal"},
	}, admin)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "invalid_role_or_department", decodeError(t, data).Code)

	stale := settings.Version - 1
	res, data = doJSON(t, s, http.MethodPut, "/v1/settings/auto-assignment", map[string]any{
		"enabled": false, "strategy_type": "workload_balanced", "expected_version": stale,
	}, admin)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "settings_version_conflict", decodeError(t, data).Code)

	res, data = doJSON(t, s, http.MethodGet, "/v1/settings/auto-assignment", nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var current SettingsResponse
	require.NoError(t, json.Unmarshal(data, &current))
	assert.Equal(t, settings.Version, current.Version)
	assert.Equal(t, "round_robin", current.StrategyType)
}

func TestAutoAssignDisabledThenForced(t *testing.T) {
	s := newTestServer(t)
	it := submitItem(t, s, "sys-7")

	res, data := doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/auto-assign", map[string]any{}, actor("alice"))
	require.Equal(t, http.StatusPreconditionFailed, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "auto_assignment_disabled", apiErr.Code)
	assert.Equal(t, "disabled", apiErr.Details["reason"])

	res, data = doJSON(t, s, http.MethodGet, "/v1/items/"+it.ID, nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	var unchanged ItemResponse
	require.NoError(t, json.Unmarshal(data, &unchanged))
	assert.Empty(t, unchanged.Assignees)

	res, data = doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/auto-assign", map[string]any{"force_assign": true}, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var assigned ItemResponse
	require.NoError(t, json.Unmarshal(data, &assigned))
	assert.Equal(t, "assigned", assigned.Status)
	assert.Equal(t, []string{"u1"}, assigned.Assignees)

	res, data = doJSON(t, s, http.MethodGet, "/v1/items/"+it.ID+"/assignments", nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var history []AssignmentResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "workload_balanced", history[0].StrategyUsed)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestServer(t)
	it := submitItem(t, s, "sys-9")

	res, data := doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/assign", map[string]any{"reviewer_ids": []string{}}, actor("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "no_reviewers_selected", decodeError(t, data).Code)

	res, data = doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/assign", map[string]any{"reviewer_ids": []string{"ghost"}}, actor("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "unknown_reviewer", apiErr.Code)
	assert.Equal(t, "ghost", apiErr.Details["reviewer_id"])

	res, data = doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/assign", map[string]any{"reviewer_ids": []string{"u3"}, "note": "risk owner"}, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var assigned ItemResponse
	require.NoError(t, json.Unmarshal(data, &assigned))
	assert.Equal(t, "assigned", assigned.Status)

	res, data = doJSON(t, s, http.MethodPatch, "/v1/items/"+it.ID+"/status", map[string]any{"status": "pending"}, actor("u3"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	apiErr = decodeError(t, data)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Equal(t, "assigned", apiErr.Details["current_status"])

	res, data = doJSON(t, s, http.MethodPatch, "/v1/items/"+it.ID+"/status", map[string]any{
		"status": "in_progress", "expected_revision": assigned.Revision - 1,
	}, actor("u3"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "stale_state", decodeError(t, data).Code)

	res, data = doJSON(t, s, http.MethodPatch, "/v1/items/"+it.ID+"/status", map[string]any{
		"status": "in_progress", "expected_revision": assigned.Revision,
	}, actor("u3"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, s, http.MethodPatch, "/v1/items/"+it.ID+"/status", map[string]any{
		"status": "completed", "feedback": "looks good",
	}, actor("u3"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var done ItemResponse
	require.NoError(t, json.Unmarshal(data, &done))
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "looks good", done.Feedback)
	assert.NotNil(t, done.CompletedAt)

	res, data = doJSON(t, s, http.MethodGet, "/v1/items/missing", nil, actor("u3"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	// A completed item frees the module for a new request.
	again := submitItem(t, s, "sys-9")
	assert.NotEqual(t, it.ID, again.ID)
}

func TestExpertReviewFlow(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s, http.MethodPost, "/v1/expert-reviews", map[string]any{
		"module_id": "contract-1",
		"title":     "Vendor contract",
		"text":      "The vendor may process personal data outside the EU.",
		"context":   "procurement",
	}, actor("alice"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var it ItemResponse
	require.NoError(t, json.Unmarshal(data, &it))
	assert.Equal(t, "expert_legal_review", it.ModuleType)
	require.NotNil(t, it.ValidationResult)
	assert.Equal(t, "requires_legal_review", it.ValidationResult.Outcome)
	assert.True(t, it.ValidationResult.Degraded)

	res, data = doJSON(t, s, http.MethodPost, "/v1/expert-reviews/"+it.ID+"/complete", map[string]any{"feedback": "ok"}, actor("u2"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", decodeError(t, data).Code)

	res, data = doJSON(t, s, http.MethodPost, "/v1/items/"+it.ID+"/assign", map[string]any{"reviewer_ids": []string{"u2"}}, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, s, http.MethodPost, "/v1/expert-reviews/"+it.ID+"/complete", map[string]any{"feedback": "Needs an SCC annex."}, actor("u2"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var done ItemResponse
	require.NoError(t, json.Unmarshal(data, &done))
	assert.Equal(t, "completed", done.Status)
	assert.Equal(t, "Needs an SCC annex.", done.ExpertFeedback)
	assert.NotNil(t, done.CompletedAt)
}

func TestListItemsEventsAndMetrics(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		submitItem(t, s, id)
	}

	res, data := doJSON(t, s, http.MethodGet, "/v1/items?limit=2", nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedItems
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, s, http.MethodGet, "/v1/items?limit=2&cursor="+page.NextCursor, nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next paginatedItems
	require.NoError(t, json.Unmarshal(data, &next))
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	res, data = doJSON(t, s, http.MethodGet, "/v1/items?status=bogus", nil, actor("alice"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, s, http.MethodGet, "/v1/events?type=item.created", nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evs paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evs))
	require.Len(t, evs.Items, 3)
	assert.Equal(t, "pending", evs.Items[0].NewStatus)
	assert.Equal(t, "alice", evs.Items[0].ActorID)

	res, data = doJSON(t, s, http.MethodGet, "/v1/events?cursor=x", nil, actor("alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, s, http.MethodGet, "/v1/reviewers", nil, actor("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var reviewers []ReviewerResponse
	require.NoError(t, json.Unmarshal(data, &reviewers))
	assert.Len(t, reviewers, 3)

	res, data = doJSON(t, s, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, 3, health.Items["pending"])

	res, data = doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `reviewflow_items_submitted_total{module_type="risk_assessment"} 3`)

	res, data = doJSON(t, s, http.MethodGet, "/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "submit-item")
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	s := newTestServer(t)
	bodies := make([][]byte, 8)
	var g errgroup.Group
	for i := range bodies {
		g.Go(func() error {
			res, err := s.client.Get(s.URL + "/v1/openapi.json")
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", res.StatusCode)
			}
			bodies[i], err = io.ReadAll(res.Body)
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, b := range bodies[1:] {
		assert.Equal(t, string(bodies[0]), string(b))
	}
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
}
