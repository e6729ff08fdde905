package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	start       domain.AuthorizationStart
	startErr    error
	callbackErr error
	awaitResult string
	awaitErr    error
}

func (s *stubBroker) StartAuthorization(ctx context.Context, providerID, userID string) (domain.AuthorizationStart, error) {
	return s.start, s.startErr
}

func (s *stubBroker) HandleCallback(ctx context.Context, code, state string) error {
	return s.callbackErr
}

func (s *stubBroker) AwaitAuthorization(ctx context.Context, state string, timeout time.Duration) (string, error) {
	return s.awaitResult, s.awaitErr
}

type stubExecutor struct {
	tools []domain.ToolDescriptor
	err   error
}

func (s *stubExecutor) ExecuteTool(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	return domain.ToolResult{}, s.err
}

func (s *stubExecutor) ListTools(ctx context.Context, providerID, userID string) ([]domain.ToolDescriptor, error) {
	return s.tools, s.err
}

func newCallbackApp(broker domain.AuthorizationBroker, executor domain.ToolExecutor) *fiber.App {
	controller := NewProviderController(ProviderControllerDependencies{
		Broker:   broker,
		Executor: executor,
	})

	app := fiber.New()
	app.Get("/providers/oauth/callback", controller.OAuthCallback)
	app.Get("/providers/oauth/await-authorization", controller.AwaitAuthorization)
	app.Get("/providers/:providerID/list-tools", controller.ListTools)
	return app
}

func TestOAuthCallback_Success(t *testing.T) {
	app := newCallbackApp(&stubBroker{}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/callback?code=abc&state=xyz", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOAuthCallback_InvalidStateStillAnswers2xx(t *testing.T) {
	app := newCallbackApp(&stubBroker{callbackErr: domain.ErrInvalidState}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/callback?code=abc&state=stale", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	// The browser redirect must succeed regardless; validity is not leaked
	// through the status code.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
}

func TestOAuthCallback_MissingParamsStillAnswers2xx(t *testing.T) {
	app := newCallbackApp(&stubBroker{}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/callback", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOAuthCallback_ProviderError(t *testing.T) {
	app := newCallbackApp(&stubBroker{}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/callback?error=access_denied&error_description=nope", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAwaitAuthorization_Connected(t *testing.T) {
	app := newCallbackApp(&stubBroker{awaitResult: "code-1"}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/await-authorization?state=s1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["connected"])
}

func TestAwaitAuthorization_TimeoutIsNotAnError(t *testing.T) {
	app := newCallbackApp(&stubBroker{awaitErr: domain.ErrAuthTimeout}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/await-authorization?state=s1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, true, body["timed_out"])
}

func TestAwaitAuthorization_RejectedCodeTellsCallerToRestart(t *testing.T) {
	app := newCallbackApp(&stubBroker{awaitErr: domain.ErrTokenExchange}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/oauth/await-authorization?state=s1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	// The provider turning down the code is an expected outcome, not a
	// broker failure.
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "token_exchange_failed", body["error"])
}

func TestListTools_NeedsAuthorizationReturnsAuthURL(t *testing.T) {
	broker := &stubBroker{
		start: domain.AuthorizationStart{
			AuthorizationURL: "https://idp.test/authorize?state=s1",
			State:            "s1",
		},
	}
	app := newCallbackApp(broker, &stubExecutor{err: domain.ErrNeedsAuthorization})

	req := httptest.NewRequest(http.MethodGet, "/providers/p1/list-tools", nil)
	req.Header.Set("X-User-ID", "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "authorization_required", body["error"])
	assert.Equal(t, "https://idp.test/authorize?state=s1", body["auth_url"])
	assert.Equal(t, "s1", body["state"])
}

func TestListTools_RequiresUserIdentity(t *testing.T) {
	app := newCallbackApp(&stubBroker{}, &stubExecutor{})

	req := httptest.NewRequest(http.MethodGet, "/providers/p1/list-tools", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTools_Success(t *testing.T) {
	executor := &stubExecutor{tools: []domain.ToolDescriptor{{Name: "search"}}}
	app := newCallbackApp(&stubBroker{}, executor)

	req := httptest.NewRequest(http.MethodGet, "/providers/p1/list-tools?user_id=user-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tools []domain.ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "search", body.Tools[0].Name)
}
