package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noria-ai/noria/internal/agent"
	"github.com/noria-ai/noria/internal/auth"
	"github.com/noria-ai/noria/internal/executor"
	"github.com/noria-ai/noria/internal/model"
	"github.com/noria-ai/noria/internal/service/failqueue"
	"github.com/noria-ai/noria/internal/service/selfscore"
	"github.com/noria-ai/noria/internal/storage"
	"github.com/noria-ai/noria/internal/testutil"
)

const (
	testAdminKey  = "test-admin-api-key"
	testMemberKey = "test-member-api-key"
	echoAgent     = "echo-coach"
	failingAgent  = "failing-coach"
)

var (
	testDB     *storage.DB
	testServer *httptest.Server
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create JWT manager: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	registry := agent.NewRegistry()
	registry.MustRegister(agent.Func{
		AgentName: echoAgent,
		RunFunc: func(ctx context.Context, req agent.Request) (string, error) {
			return "echo: " + req.Prompt, nil
		},
	})
	registry.MustRegister(agent.Func{
		AgentName: failingAgent,
		RunFunc: func(ctx context.Context, req agent.Request) (string, error) {
			return "", errors.New("model unavailable")
		},
	})

	failSvc := failqueue.New(testDB, logger)
	exec := executor.New(executor.Config{
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		BackoffFirst: time.Millisecond,
		BackoffNext:  time.Millisecond,
	}, testDB, failSvc, logger)
	scoreSvc := selfscore.New(testDB, selfscore.DefaultFlagThreshold, logger)

	srv := New(ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Registry:            registry,
		Executor:            exec,
		FailureSvc:          failSvc,
		SelfScoreSvc:        scoreSvc,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	if err := srv.Handlers().SeedAdmin(ctx, testAdminKey); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	memberHash, err := auth.HashAPIKey(testMemberKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash member key: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	if _, err := testDB.CreateOperator(ctx, "backend-svc", model.RoleMember, memberHash); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create member operator: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	testServer = httptest.NewServer(srv.Handler())

	code := m.Run()

	testServer.Close()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// doJSON issues a request against the test server and decodes the response
// body into out (when non-nil).
func doJSON(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, testServer.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := testServer.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func authToken(t *testing.T, operator, apiKey string) string {
	t.Helper()

	var envelope struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/auth/token", "",
		model.AuthTokenRequest{Operator: operator, APIKey: apiKey}, &envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func TestHealthEndpoint(t *testing.T) {
	var envelope struct {
		Data struct {
			Status   string `json:"status"`
			Postgres string `json:"postgres"`
		} `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, "/health", "", nil, &envelope)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", envelope.Data.Status)
	assert.Equal(t, "connected", envelope.Data.Postgres)
}

func TestAuthTokenFlow(t *testing.T) {
	t.Run("unknown operator", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/auth/token", "",
			model.AuthTokenRequest{Operator: "nobody", APIKey: "whatever"}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/auth/token", "",
			model.AuthTokenRequest{Operator: "admin", APIKey: "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid credentials", func(t *testing.T) {
		token := authToken(t, "admin", testAdminKey)
		assert.NotEmpty(t, token)
	})
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/v1/agents", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoutesRejectMembers(t *testing.T) {
	memberToken := authToken(t, "backend-svc", testMemberKey)

	resp := doJSON(t, http.MethodGet, "/admin/agent-toggles", memberToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, "/admin/agent-toggles", memberToken,
		model.ToggleUpsertRequest{AgentName: echoAgent, Enabled: false}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOrchestrateHappyPath(t *testing.T) {
	token := authToken(t, "backend-svc", testMemberKey)

	var envelope struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/orchestrate", token,
		model.OrchestrateRequest{AgentName: echoAgent, UserID: 42, Prompt: "hello"}, &envelope)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, echoAgent, envelope.Data.AgentName)
	assert.Equal(t, "echo: hello", envelope.Data.Text)
	assert.False(t, envelope.Data.Fallback)
	assert.Zero(t, envelope.Data.RetryCount)

	// Exactly one success row was recorded for this invocation.
	logs, err := testDB.ListPerformanceLogs(context.Background(), model.PerformanceLogFilter{
		AgentName: echoAgent,
		Status:    model.StatusSuccess,
	})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, int64(42), logs[0].UserID)
	assert.Equal(t, len("echo: hello"), logs[0].OutputTokens)
}

func TestOrchestrateValidation(t *testing.T) {
	token := authToken(t, "backend-svc", testMemberKey)

	cases := []struct {
		name string
		req  model.OrchestrateRequest
	}{
		{"missing agent", model.OrchestrateRequest{UserID: 1, Prompt: "hi"}},
		{"missing user", model.OrchestrateRequest{AgentName: echoAgent, Prompt: "hi"}},
		{"missing prompt", model.OrchestrateRequest{AgentName: echoAgent, UserID: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, "/v1/orchestrate", token, tc.req, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	t.Run("unknown agent", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/v1/orchestrate", token,
			model.OrchestrateRequest{AgentName: "no-such-agent", UserID: 1, Prompt: "hi"}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestOrchestrateFailureReturnsFallback(t *testing.T) {
	token := authToken(t, "backend-svc", testMemberKey)

	var envelope struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/orchestrate", token,
		model.OrchestrateRequest{AgentName: failingAgent, UserID: 43, Prompt: "hello"}, &envelope)

	// Agent failure is not an HTTP error; the caller gets fallback text.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Data.Fallback)
	assert.Equal(t, fallbackText, envelope.Data.Text)
	assert.Equal(t, 1, envelope.Data.RetryCount)

	// The failure landed in the queue for out-of-band triage.
	queue, err := testDB.ListFailureQueue(context.Background())
	require.NoError(t, err)
	found := false
	for _, e := range queue {
		if e.AgentName == failingAgent && e.UserID == 43 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestToggleGatingEndToEnd(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)
	memberToken := authToken(t, "backend-svc", testMemberKey)

	// Disable the agent.
	resp := doJSON(t, http.MethodPost, "/admin/agent-toggles", adminToken,
		model.ToggleUpsertRequest{AgentName: echoAgent, Enabled: false}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp = doJSON(t, http.MethodPost, "/v1/orchestrate", memberToken,
		model.OrchestrateRequest{AgentName: echoAgent, UserID: 42, Prompt: "hi"}, &envelope)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Data.Fallback)
	assert.Equal(t, fallbackText, envelope.Data.Text)

	// The agent listing reflects the disabled toggle.
	var listing struct {
		Data []model.AgentInfo `json:"data"`
	}
	resp = doJSON(t, http.MethodGet, "/v1/agents", memberToken, nil, &listing)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, info := range listing.Data {
		if info.AgentName == echoAgent {
			assert.False(t, info.Enabled)
		}
	}

	// Re-enable and verify execution resumes.
	resp = doJSON(t, http.MethodPost, "/admin/agent-toggles", adminToken,
		model.ToggleUpsertRequest{AgentName: echoAgent, Enabled: true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, "/v1/orchestrate", memberToken,
		model.OrchestrateRequest{AgentName: echoAgent, UserID: 42, Prompt: "hi"}, &envelope)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, envelope.Data.Fallback)
}

func TestSelfScoreEndpoint(t *testing.T) {
	token := authToken(t, "backend-svc", testMemberKey)
	artifact := uuid.New()

	body := model.SelfScoreRequest{
		AgentName:  echoAgent,
		ArtifactID: artifact,
		UserID:     42,
		SelfScore:  0.9,
	}

	resp := doJSON(t, http.MethodPost, "/v1/self-scores", token, body, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("duplicate rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/v1/self-scores", token, body, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("out of range rejected", func(t *testing.T) {
		bad := body
		bad.ArtifactID = uuid.New()
		bad.SelfScore = 1.5
		resp := doJSON(t, http.MethodPost, "/v1/self-scores", token, bad, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("low score is flagged", func(t *testing.T) {
		low := model.SelfScoreRequest{
			AgentName:  echoAgent,
			ArtifactID: uuid.New(),
			UserID:     42,
			SelfScore:  0.1,
		}
		resp := doJSON(t, http.MethodPost, "/v1/self-scores", token, low, nil)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		flagged, err := testDB.ListPerformanceLogs(context.Background(), model.PerformanceLogFilter{
			AgentName: echoAgent,
			Status:    model.StatusAutoFlagged,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, flagged)
	})
}

func TestAdminOverrideFlow(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)
	memberToken := authToken(t, "backend-svc", testMemberKey)

	var orch struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/orchestrate", memberToken,
		model.OrchestrateRequest{AgentName: echoAgent, UserID: 44, Prompt: "override me"}, &orch)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uid := int64(44)
	logs, err := testDB.ListPerformanceLogs(context.Background(), model.PerformanceLogFilter{
		AgentName: echoAgent,
		UserID:    &uid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	original := logs[0]

	var overridden struct {
		Data model.PerformanceLog `json:"data"`
	}
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("/admin/orchestration-logs/%d/override", original.ID), adminToken,
		model.OverrideRequest{Reason: "manual correction after review"}, &overridden)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, model.StatusOverride, overridden.Data.Status)
	assert.True(t, overridden.Data.OverrideTriggered)
	require.NotNil(t, overridden.Data.OverrideReason)
	assert.Equal(t, "manual correction after review", *overridden.Data.OverrideReason)
	assert.NotEqual(t, original.ID, overridden.Data.ID)

	t.Run("missing reason rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost,
			fmt.Sprintf("/admin/orchestration-logs/%d/override", original.ID), adminToken,
			model.OverrideRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown log id", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, "/admin/orchestration-logs/999999999/override",
			adminToken, model.OverrideRequest{Reason: "x"}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminRerun(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)

	var envelope struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/admin/orchestrate/rerun", adminToken,
		model.RerunRequest{AgentName: echoAgent, UserID: 45, Prompt: "again"}, &envelope)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: again", envelope.Data.Text)

	// A successful rerun is recorded with rerun status, not success.
	uid := int64(45)
	logs, err := testDB.ListPerformanceLogs(context.Background(), model.PerformanceLogFilter{
		AgentName: echoAgent,
		UserID:    &uid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, model.StatusRerun, logs[0].Status)
}

func TestAdminProcessFailures(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)

	// Park a failure with a budget of one retry; one pass removes it.
	_, err := testDB.EnqueueFailure(context.Background(), 46, "process-test", "boom", 1)
	require.NoError(t, err)

	var first struct {
		Data model.ProcessQueueResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/admin/agent-failures/process", adminToken, nil, &first)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, first.Data.DeadLettered, 1)

	var letters struct {
		Data []model.DeadLetter `json:"data"`
	}
	resp = doJSON(t, http.MethodGet, "/admin/agent-dead-letters", adminToken, nil, &letters)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	found := false
	for _, l := range letters.Data {
		if l.AgentName == "process-test" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAdminLifecycleLogs(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)
	memberToken := authToken(t, "backend-svc", testMemberKey)

	var orch struct {
		Data model.OrchestrateResponse `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, "/v1/orchestrate", memberToken,
		model.OrchestrateRequest{AgentName: echoAgent, UserID: 47, Prompt: "trace me"}, &orch)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events struct {
		Data []model.LifecycleEvent `json:"data"`
	}
	resp = doJSON(t, http.MethodGet, "/admin/lifecycle-logs?agent_name="+echoAgent,
		adminToken, nil, &events)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, events.Data)

	types := make(map[string]bool)
	for _, ev := range events.Data {
		types[ev.EventType] = true
	}
	assert.True(t, types[model.EventExecutionStarted])
	assert.True(t, types[model.EventExecutionFinished])
}

func TestAdminOrchestrationLogFilters(t *testing.T) {
	adminToken := authToken(t, "admin", testAdminKey)

	var logs struct {
		Data []model.PerformanceLog `json:"data"`
	}
	resp := doJSON(t, http.MethodGet,
		"/admin/orchestration-logs?agent_name="+echoAgent+"&status=success&limit=5",
		adminToken, nil, &logs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	for _, l := range logs.Data {
		assert.Equal(t, echoAgent, l.AgentName)
		assert.Equal(t, model.StatusSuccess, l.Status)
	}

	t.Run("bad status rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, "/admin/orchestration-logs?status=bogus",
			adminToken, nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad since rejected", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, "/admin/orchestration-logs?since=notatime",
			adminToken, nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
