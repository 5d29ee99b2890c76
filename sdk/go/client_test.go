package reviewflowsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/app"
	"reviewflow/internal/config"
	"reviewflow/internal/engine/auth"
	"reviewflow/internal/server"
	reviewflowsdk "reviewflow/sdk/go"
)

func newClient(t *testing.T) *reviewflowsdk.Client {
	t.Helper()
	cfg := config.Default()
	cfg.Reviewers = []config.ReviewerConfig{
		{ID: "u1", Role: "compliance_officer", Department: "compliance"},
		{ID: "u2", Role: "legal_expert", Department: "legal"},
	}
	cfg.Retry.MaxElapsedMillis = 200
	conn, eng, err := app.Open(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	handler, err := server.New(server.Config{
		Engine: eng,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", AllowLegacyActorHeader: true},
		Policy: auth.Policy{AdminRoles: cfg.Auth.AdminRoles},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := reviewflowsdk.New(srv.URL)
	c.ActorID = "sdk-user"
	c.Timeout = 5 * time.Second
	return c
}

func TestClientApprovalRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	it, err := c.Submit(ctx, reviewflowsdk.SubmitRequest{ModuleType: "document", ModuleID: "policy-7", Title: "Privacy policy"})
	require.NoError(t, err)
	assert.Equal(t, "pending", it.Status)
	assert.Equal(t, "medium", it.Priority)

	_, err = c.Submit(ctx, reviewflowsdk.SubmitRequest{ModuleType: "document", ModuleID: "policy-7", Title: "Again"})
	require.Error(t, err)
	existing, ok := reviewflowsdk.ExistingItemID(err)
	require.True(t, ok)
	assert.Equal(t, it.ID, existing)

	exists, id, err := c.Exists(ctx, "document", "policy-7")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, it.ID, id)

	_, err = c.Assign(ctx, it.ID, nil, "")
	assert.Equal(t, "no_reviewers_selected", reviewflowsdk.ErrorCode(err))

	it, err = c.AutoAssign(ctx, it.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "assigned", it.Status)
	assert.Equal(t, []string{"u1"}, it.Assignees)

	_, err = c.UpdateStatus(ctx, it.ID, "pending", nil, 0)
	assert.Equal(t, "invalid_transition", reviewflowsdk.ErrorCode(err))

	it, err = c.UpdateStatus(ctx, it.ID, "in_progress", nil, it.Revision)
	require.NoError(t, err)
	feedback := "missing retention section"
	it, err = c.UpdateStatus(ctx, it.ID, "rejected", &feedback, 0)
	require.NoError(t, err)
	assert.Equal(t, "rejected", it.Status)
	assert.Equal(t, feedback, it.Feedback)

	exists, _, err = c.Exists(ctx, "document", "policy-7")
	require.NoError(t, err)
	assert.False(t, exists)

	page, err := c.EventsPage(ctx, it.ID, 10, "")
	require.NoError(t, err)
	var types []string
	for _, ev := range page.Items {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"item.created", "item.assigned", "item.started", "item.rejected"}, types)
}

func TestClientSettingsAndReviewers(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	s, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, s.Enabled)

	_, err = c.UpdateSettings(ctx, reviewflowsdk.Settings{Enabled: true, StrategyType: "round_robin", EligibleRoles: []string{"legal_expert"}, EligibleDepartments: []string{"legal"}}, 0)
	assert.Equal(t, "forbidden", reviewflowsdk.ErrorCode(err))

	token, err := server.SignToken("sdk-secret", "boss", []string{"compliance_manager"})
	require.NoError(t, err)
	c.BearerToken = token
	updated, err := c.UpdateSettings(ctx, reviewflowsdk.Settings{Enabled: true, StrategyType: "round_robin", EligibleRoles: []string{"legal_expert"}, EligibleDepartments: []string{"legal"}}, s.Version)
	require.NoError(t, err)
	assert.Equal(t, s.Version+1, updated.Version)
	assert.Equal(t, "boss", updated.UpdatedBy)

	_, err = c.UpdateSettings(ctx, reviewflowsdk.Settings{StrategyType: "workload_balanced"}, s.Version)
	assert.Equal(t, "settings_version_conflict", reviewflowsdk.ErrorCode(err))

	reviewers, err := c.Reviewers(ctx)
	require.NoError(t, err)
	require.Len(t, reviewers, 2)
	assert.Equal(t, "u1", reviewers[0].ID)

	it, err := c.RequestExpertReview(ctx, "clause-3", "Liability clause", "Supplier liability is capped at zero.", "")
	require.NoError(t, err)
	require.NotNil(t, it.ValidationResult)
	assert.Equal(t, "requires_legal_review", it.ValidationResult.Outcome)

	it, err = c.AutoAssign(ctx, it.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, it.Assignees)
	assert.Equal(t, "in_progress", it.Status)

	it, err = c.CompleteExpertReview(ctx, it.ID, "Uncap for gross negligence.")
	require.NoError(t, err)
	assert.Equal(t, "completed", it.Status)
}
