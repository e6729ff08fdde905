package managers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/auxilia-ai/auxilia/internal/correlation"
	"github.com/auxilia-ai/auxilia/internal/repositories"
	"github.com/auxilia-ai/auxilia/internal/vault"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToolSession struct {
	tools []domain.ToolDescriptor

	calledTool string
	calledArgs map[string]any
	closed     bool
}

func (s *fakeToolSession) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	return s.tools, nil
}

func (s *fakeToolSession) CallTool(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	s.calledTool = name
	s.calledArgs = args
	return domain.ToolResult{Content: "done"}, nil
}

func (s *fakeToolSession) Close() error {
	s.closed = true
	return nil
}

type fakeConnector struct {
	session     *fakeToolSession
	lastBearer  string
	connectErr  error
	connections int
}

func (c *fakeConnector) Connect(ctx context.Context, serverURL, bearerToken string) (domain.ToolSession, error) {
	c.connections++
	c.lastBearer = bearerToken
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.session, nil
}

type executionFixture struct {
	executor    domain.ToolExecutor
	policies    domain.ToolPolicyService
	coordinator domain.ApprovalCoordinator
	connector   *fakeConnector
	session     *fakeToolSession
	vault       *vault.Vault
	providers   *repositories.MemoryProviderRepository
}

func newExecutionFixture(t *testing.T, approvalTimeout time.Duration) *executionFixture {
	t.Helper()

	session := &fakeToolSession{
		tools: []domain.ToolDescriptor{
			{Name: "search"},
			{Name: "delete_repo"},
		},
	}
	connector := &fakeConnector{session: session}

	providers := repositories.NewMemoryProviderRepository()
	secretVault, err := vault.New("test-salt", repositories.NewMemorySecretStore())
	require.NoError(t, err)

	policies := NewToolPolicyManager(ToolPolicyManagerDependencies{
		Policies: repositories.NewMemoryPolicyRepository(),
	})

	coordinator := NewApprovalCoordinator(ApprovalCoordinatorDependencies{
		Approvals: repositories.NewMemoryApprovalRepository(),
		Channel:   correlation.NewMemoryChannel(),
		Timeout:   approvalTimeout,
	})

	executor := NewToolExecutionManager(ToolExecutionManagerDependencies{
		Providers: providers,
		Policies:  policies,
		Approvals: coordinator,
		Tokens:    newStubTokenManager(),
		Vault:     secretVault,
		Connector: connector,
	})

	return &executionFixture{
		executor:    executor,
		policies:    policies,
		coordinator: coordinator,
		connector:   connector,
		session:     session,
		vault:       secretVault,
		providers:   providers,
	}
}

func testToolCall(toolName string) domain.ToolCall {
	return domain.ToolCall{
		CallID:     NewCallID(),
		AgentID:    "agent-1",
		ThreadID:   "thread-1",
		UserID:     "user-1",
		ProviderID: "p1",
		ToolName:   toolName,
		Arguments:  json.RawMessage(`{"query":"golang"}`),
	}
}

func TestToolExecutionManager_AllowedToolExecutesDirectly(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		Name:     "search-provider",
		AuthType: domain.AuthTypeNone,
	}))

	result, err := fixture.executor.ExecuteTool(ctx, testToolCall("search"))
	require.NoError(t, err)

	assert.Equal(t, "done", result.Content)
	assert.Equal(t, "search", fixture.session.calledTool)
	assert.Equal(t, map[string]any{"query": "golang"}, fixture.session.calledArgs)
	assert.True(t, fixture.session.closed)
	assert.Empty(t, fixture.connector.lastBearer)
}

func TestToolExecutionManager_DisabledToolNeverConnects(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeNone,
	}))

	_, err := fixture.policies.SetToolStatus(ctx, "agent-1", "p1", "delete_repo", domain.ToolStatusDisabled, []string{"search", "delete_repo"})
	require.NoError(t, err)

	_, err = fixture.executor.ExecuteTool(ctx, testToolCall("delete_repo"))
	require.ErrorIs(t, err, domain.ErrToolDisabled)

	assert.Zero(t, fixture.connector.connections)
}

func TestToolExecutionManager_ApprovedToolExecutes(t *testing.T) {
	fixture := newExecutionFixture(t, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeNone,
	}))

	_, err := fixture.policies.SetToolStatus(ctx, "agent-1", "p1", "delete_repo", domain.ToolStatusNeedsApproval, []string{"search", "delete_repo"})
	require.NoError(t, err)

	call := testToolCall("delete_repo")

	type execResult struct {
		result domain.ToolResult
		err    error
	}
	results := make(chan execResult, 1)

	go func() {
		result, err := fixture.executor.ExecuteTool(ctx, call)
		results <- execResult{result: result, err: err}
	}()

	require.Eventually(t, func() bool {
		pending, err := fixture.coordinator.ListPending(ctx, "thread-1")
		return err == nil && len(pending) == 1
	}, time.Second, 10*time.Millisecond)

	// Nothing reached the provider while suspended.
	assert.Zero(t, fixture.connector.connections)

	_, err = fixture.coordinator.Resolve(ctx, call.CallID, true)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.err)
	assert.Equal(t, "done", result.result.Content)
	assert.Equal(t, "delete_repo", fixture.session.calledTool)
}

func TestToolExecutionManager_RejectedToolNeverExecutes(t *testing.T) {
	fixture := newExecutionFixture(t, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeNone,
	}))

	_, err := fixture.policies.SetToolStatus(ctx, "agent-1", "p1", "delete_repo", domain.ToolStatusNeedsApproval, []string{"search", "delete_repo"})
	require.NoError(t, err)

	call := testToolCall("delete_repo")

	errs := make(chan error, 1)
	go func() {
		_, err := fixture.executor.ExecuteTool(ctx, call)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		pending, err := fixture.coordinator.ListPending(ctx, "thread-1")
		return err == nil && len(pending) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = fixture.coordinator.Resolve(ctx, call.CallID, false)
	require.NoError(t, err)

	require.ErrorIs(t, <-errs, domain.ErrApprovalRejected)
	assert.Zero(t, fixture.connector.connections)
}

func TestToolExecutionManager_ApprovalTimeoutIsDistinctFromRejection(t *testing.T) {
	fixture := newExecutionFixture(t, 30*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeNone,
	}))

	_, err := fixture.policies.SetToolStatus(ctx, "agent-1", "p1", "delete_repo", domain.ToolStatusNeedsApproval, []string{"search", "delete_repo"})
	require.NoError(t, err)

	_, err = fixture.executor.ExecuteTool(ctx, testToolCall("delete_repo"))
	assert.ErrorIs(t, err, domain.ErrApprovalTimeout)
	assert.NotErrorIs(t, err, domain.ErrApprovalRejected)
}

func TestToolExecutionManager_APIKeyProviderSendsKeyAsBearer(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.vault.Put(ctx, "provider:p1:api_key", []byte("sk-secret")))

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:        "p1",
		AuthType:  domain.AuthTypeAPIKey,
		APIKeyRef: "provider:p1:api_key",
	}))

	_, err := fixture.executor.ExecuteTool(ctx, testToolCall("search"))
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", fixture.connector.lastBearer)
}

func TestToolExecutionManager_OAuthProviderWithoutCredential(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeOAuth2,
		ClientID: "client-1",
	}))

	_, err := fixture.executor.ListTools(ctx, "p1", "user-1")
	assert.ErrorIs(t, err, domain.ErrNeedsAuthorization)
}

func TestToolExecutionManager_ListToolsPrefixesProviderName(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		Name:     "github",
		AuthType: domain.AuthTypeNone,
	}))

	tools, err := fixture.executor.ListTools(ctx, "p1", "user-1")
	require.NoError(t, err)

	// Agents see namespaced names so tools from different providers never
	// collide.
	require.Len(t, tools, 2)
	assert.Equal(t, "github_search", tools[0].Name)
	assert.Equal(t, "github_delete_repo", tools[1].Name)
	assert.True(t, fixture.session.closed)
}

func TestToolExecutionManager_PrefixedCallReachesProviderBare(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		Name:     "github",
		AuthType: domain.AuthTypeNone,
	}))

	result, err := fixture.executor.ExecuteTool(ctx, testToolCall("github_search"))
	require.NoError(t, err)

	// The provider only knows the bare name.
	assert.Equal(t, "done", result.Content)
	assert.Equal(t, "search", fixture.session.calledTool)
}

func TestToolExecutionManager_PrefixedPolicyGatesPrefixedCall(t *testing.T) {
	fixture := newExecutionFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, fixture.providers.CreateProvider(ctx, domain.ProviderConnection{
		ID:       "p1",
		Name:     "github",
		AuthType: domain.AuthTypeNone,
	}))

	// Policies are keyed by the namespaced names agents address.
	_, err := fixture.policies.SetToolStatus(ctx, "agent-1", "p1", "github_delete_repo", domain.ToolStatusDisabled, []string{"github_search", "github_delete_repo"})
	require.NoError(t, err)

	_, err = fixture.executor.ExecuteTool(ctx, testToolCall("github_delete_repo"))
	require.ErrorIs(t, err, domain.ErrToolDisabled)
	assert.Zero(t, fixture.connector.connections)

	result, err := fixture.executor.ExecuteTool(ctx, testToolCall("github_search"))
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)
}
