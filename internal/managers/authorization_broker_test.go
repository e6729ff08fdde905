package managers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/auxilia-ai/auxilia/internal/correlation"
	"github.com/auxilia-ai/auxilia/internal/oauthflow"
	"github.com/auxilia-ai/auxilia/internal/repositories"
	"github.com/auxilia-ai/auxilia/internal/vault"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokenManager struct {
	grants chan domain.AuthorizationGrant
	err    error
}

func newStubTokenManager() *stubTokenManager {
	return &stubTokenManager{grants: make(chan domain.AuthorizationGrant, 1)}
}

func (s *stubTokenManager) ExchangeCode(ctx context.Context, grant domain.AuthorizationGrant) (domain.UserCredential, error) {
	s.grants <- grant
	return domain.UserCredential{ProviderID: grant.ProviderID, UserID: grant.UserID}, s.err
}

func (s *stubTokenManager) GetValidToken(ctx context.Context, providerID, userID string) (string, error) {
	return "", domain.ErrNeedsAuthorization
}

func (s *stubTokenManager) IsConnected(ctx context.Context, providerID, userID string) (bool, error) {
	return false, nil
}

func (s *stubTokenManager) Disconnect(ctx context.Context, providerID, userID string) error {
	return nil
}

type brokerFixture struct {
	broker    domain.AuthorizationBroker
	providers *repositories.MemoryProviderRepository
	sessions  *repositories.MemorySessionStore
	tokens    *stubTokenManager
	server    *httptest.Server
}

func newBrokerFixture(t *testing.T, withRegistration bool) *brokerFixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		meta := map[string]any{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/authorize",
			"token_endpoint":         server.URL + "/token",
		}
		if withRegistration {
			meta["registration_endpoint"] = server.URL + "/register"
		}
		_ = json.NewEncoder(w).Encode(meta)
	})

	if withRegistration {
		mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"client_id":                  "registered-client",
				"token_endpoint_auth_method": "none",
			})
		})
	}

	providers := repositories.NewMemoryProviderRepository()
	sessions := repositories.NewMemorySessionStore()
	tokens := newStubTokenManager()

	secretVault, err := vault.New("test-salt", repositories.NewMemorySecretStore())
	require.NoError(t, err)

	broker := NewAuthorizationBroker(AuthorizationBrokerDependencies{
		Providers:     providers,
		Sessions:      sessions,
		Channel:       correlation.NewMemoryChannel(),
		Vault:         secretVault,
		Tokens:        tokens,
		Metadata:      oauthflow.NewMetadataDiscoverer(server.Client()),
		HTTPClient:    server.Client(),
		PublicBaseURL: "http://broker.test",
		SessionTTL:    5 * time.Second,
	})

	return &brokerFixture{
		broker:    broker,
		providers: providers,
		sessions:  sessions,
		tokens:    tokens,
		server:    server,
	}
}

func (f *brokerFixture) addProvider(t *testing.T, provider domain.ProviderConnection) domain.ProviderConnection {
	t.Helper()

	provider.URL = f.server.URL
	require.NoError(t, f.providers.CreateProvider(context.Background(), provider))
	return provider
}

func TestAuthorizationBroker_NonOAuthProviderIsAlreadyConnected(t *testing.T) {
	fixture := newBrokerFixture(t, false)

	fixture.addProvider(t, domain.ProviderConnection{
		ID:       "p1",
		Name:     "plain",
		AuthType: domain.AuthTypeNone,
	})

	start, err := fixture.broker.StartAuthorization(context.Background(), "p1", "user-1")
	require.NoError(t, err)

	assert.True(t, start.Connected)
	assert.Empty(t, start.AuthorizationURL)
	assert.Empty(t, start.State)
}

func TestAuthorizationBroker_FullFlowDeliversGrantToWaiter(t *testing.T) {
	fixture := newBrokerFixture(t, false)
	ctx := context.Background()

	fixture.addProvider(t, domain.ProviderConnection{
		ID:       "p1",
		Name:     "github",
		AuthType: domain.AuthTypeOAuth2,
		ClientID: "client-1",
		Scope:    "repo",
	})

	start, err := fixture.broker.StartAuthorization(ctx, "p1", "user-1")
	require.NoError(t, err)
	require.False(t, start.Connected)
	require.NotEmpty(t, start.State)

	authURL, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)

	query := authURL.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "http://broker.test/providers/oauth/callback", query.Get("redirect_uri"))
	assert.Equal(t, start.State, query.Get("state"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, "repo", query.Get("scope"))
	require.NotEmpty(t, query.Get("code_challenge"))

	type awaitResult struct {
		code string
		err  error
	}
	results := make(chan awaitResult, 1)

	go func() {
		code, err := fixture.broker.AwaitAuthorization(ctx, start.State, 3*time.Second)
		results <- awaitResult{code: code, err: err}
	}()

	// Give the waiter time to subscribe before the callback publishes.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, fixture.broker.HandleCallback(ctx, "auth-code-42", start.State))

	result := <-results
	require.NoError(t, result.err)
	assert.Equal(t, "auth-code-42", result.code)

	grant := <-fixture.tokens.grants
	assert.Equal(t, "p1", grant.ProviderID)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, "auth-code-42", grant.Code)
	assert.Equal(t, "http://broker.test/providers/oauth/callback", grant.RedirectURI)

	// The verifier delivered in the grant must match the challenge that was
	// put in the authorization URL.
	digest := sha256.Sum256([]byte(grant.CodeVerifier))
	assert.Equal(t, query.Get("code_challenge"), base64.RawURLEncoding.EncodeToString(digest[:]))
}

func TestAuthorizationBroker_SecondCallbackForSameStateIsInvalid(t *testing.T) {
	fixture := newBrokerFixture(t, false)
	ctx := context.Background()

	fixture.addProvider(t, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeOAuth2,
		ClientID: "client-1",
	})

	start, err := fixture.broker.StartAuthorization(ctx, "p1", "user-1")
	require.NoError(t, err)

	require.NoError(t, fixture.broker.HandleCallback(ctx, "code-1", start.State))

	err = fixture.broker.HandleCallback(ctx, "code-2", start.State)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAuthorizationBroker_UnknownStateIsInvalid(t *testing.T) {
	fixture := newBrokerFixture(t, false)

	err := fixture.broker.HandleCallback(context.Background(), "code", "never-issued")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAuthorizationBroker_SessionSurvivesAwaitTimeout(t *testing.T) {
	fixture := newBrokerFixture(t, false)
	ctx := context.Background()

	fixture.addProvider(t, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeOAuth2,
		ClientID: "client-1",
	})

	start, err := fixture.broker.StartAuthorization(ctx, "p1", "user-1")
	require.NoError(t, err)

	_, err = fixture.broker.AwaitAuthorization(ctx, start.State, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrAuthTimeout)

	// The session was not consumed by the timed-out wait; a late callback
	// within the TTL still completes.
	require.NoError(t, fixture.broker.HandleCallback(ctx, "late-code", start.State))
}

func TestAuthorizationBroker_RegistersClientWhenMissing(t *testing.T) {
	fixture := newBrokerFixture(t, true)
	ctx := context.Background()

	fixture.addProvider(t, domain.ProviderConnection{
		ID:       "p1",
		AuthType: domain.AuthTypeOAuth2,
	})

	start, err := fixture.broker.StartAuthorization(ctx, "p1", "user-1")
	require.NoError(t, err)

	authURL, err := url.Parse(start.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, "registered-client", authURL.Query().Get("client_id"))

	// The registered identity is persisted for later flows.
	provider, err := fixture.providers.GetProvider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "registered-client", provider.ClientID)
}
