package managers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/auxilia-ai/auxilia/internal/oauthflow"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/rs/zerolog/log"
)

const DefaultSessionTTL = 300 * time.Second

type AuthorizationBrokerDependencies struct {
	Providers  domain.ProviderRepository
	Sessions   domain.AuthorizationSessionStore
	Channel    domain.CorrelationChannel
	Vault      domain.SecretVault
	Tokens     domain.TokenManager
	Metadata   *oauthflow.MetadataDiscoverer
	HTTPClient *http.Client

	// PublicBaseURL is the externally reachable base of this deployment;
	// the provider redirects the browser to {PublicBaseURL}/providers/oauth/callback.
	PublicBaseURL string

	SessionTTL time.Duration
}

type authorizationBroker struct {
	providers  domain.ProviderRepository
	sessions   domain.AuthorizationSessionStore
	channel    domain.CorrelationChannel
	vault      domain.SecretVault
	tokens     domain.TokenManager
	metadata   *oauthflow.MetadataDiscoverer
	httpClient *http.Client

	redirectURI string
	sessionTTL  time.Duration
}

func NewAuthorizationBroker(deps AuthorizationBrokerDependencies) domain.AuthorizationBroker {
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &authorizationBroker{
		providers:   deps.Providers,
		sessions:    deps.Sessions,
		channel:     deps.Channel,
		vault:       deps.Vault,
		tokens:      deps.Tokens,
		metadata:    deps.Metadata,
		httpClient:  deps.HTTPClient,
		redirectURI: deps.PublicBaseURL + "/providers/oauth/callback",
		sessionTTL:  ttl,
	}
}

func (b *authorizationBroker) StartAuthorization(ctx context.Context, providerID, userID string) (domain.AuthorizationStart, error) {
	provider, err := b.providers.GetProvider(ctx, providerID)
	if err != nil {
		return domain.AuthorizationStart{}, err
	}

	// Providers without OAuth are usable as-is; no session is created.
	if provider.AuthType != domain.AuthTypeOAuth2 {
		return domain.AuthorizationStart{Connected: true}, nil
	}

	meta, err := b.metadata.Discover(ctx, provider.URL)
	if err != nil {
		return domain.AuthorizationStart{}, fmt.Errorf("failed to discover authorization server: %w", err)
	}

	if provider.ClientID == "" {
		provider, err = b.registerClient(ctx, provider, meta)
		if err != nil {
			return domain.AuthorizationStart{}, err
		}
	}

	pkce, err := oauthflow.GeneratePKCE()
	if err != nil {
		return domain.AuthorizationStart{}, err
	}

	state, err := oauthflow.GenerateState()
	if err != nil {
		return domain.AuthorizationStart{}, err
	}

	now := time.Now()
	session := domain.AuthorizationSession{
		State:        state,
		ProviderID:   provider.ID,
		UserID:       userID,
		CodeVerifier: pkce.CodeVerifier,
		RedirectURI:  b.redirectURI,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.sessionTTL),
	}

	if err := b.sessions.PutSession(ctx, session); err != nil {
		return domain.AuthorizationStart{}, err
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", provider.ClientID)
	params.Set("redirect_uri", b.redirectURI)
	params.Set("state", state)
	params.Set("code_challenge", pkce.CodeChallenge)
	params.Set("code_challenge_method", pkce.CodeChallengeMethod)
	if provider.Scope != "" {
		params.Set("scope", provider.Scope)
	}

	log.Info().
		Str("provider_id", provider.ID).
		Str("user_id", userID).
		Msg("Started authorization flow")

	return domain.AuthorizationStart{
		AuthorizationURL: meta.AuthorizationEndpoint + "?" + params.Encode(),
		State:            state,
	}, nil
}

// registerClient performs dynamic client registration and caches the
// resulting identity on the provider. The client secret, if any, only ever
// exists in the vault.
func (b *authorizationBroker) registerClient(ctx context.Context, provider domain.ProviderConnection, meta oauthflow.ServerMetadata) (domain.ProviderConnection, error) {
	registration, err := oauthflow.RegisterClient(ctx, b.httpClient, meta.RegistrationEndpoint, b.redirectURI, provider.Scope)
	if err != nil {
		return domain.ProviderConnection{}, fmt.Errorf("dynamic client registration failed: %w", err)
	}

	secretRef := ""
	if registration.ClientSecret != "" {
		secretRef = fmt.Sprintf("provider:%s:client_secret", provider.ID)
		if err := b.vault.Put(ctx, secretRef, []byte(registration.ClientSecret)); err != nil {
			return domain.ProviderConnection{}, err
		}
	}

	if err := b.providers.SetClientIdentity(ctx, provider.ID, registration.ClientID, secretRef); err != nil {
		return domain.ProviderConnection{}, err
	}

	log.Info().
		Str("provider_id", provider.ID).
		Str("client_id", registration.ClientID).
		Msg("Registered OAuth client dynamically")

	provider.ClientID = registration.ClientID
	provider.ClientSecretRef = secretRef
	return provider, nil
}

func (b *authorizationBroker) HandleCallback(ctx context.Context, code, state string) error {
	session, err := b.sessions.TakeSession(ctx, state)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Nothing is published for invalid states; the HTTP edge still
			// answers the browser 2xx so validity is not leaked.
			log.Warn().Msg("Callback received for unknown or expired state")
			return domain.ErrInvalidState
		}
		return err
	}

	grant := domain.AuthorizationGrant{
		ProviderID:   session.ProviderID,
		UserID:       session.UserID,
		Code:         code,
		CodeVerifier: session.CodeVerifier,
		RedirectURI:  session.RedirectURI,
	}

	payload, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization grant: %w", err)
	}

	// TakeSession already consumed the state, so this publish happens at
	// most once per session even when callbacks race.
	if err := b.channel.Publish(ctx, state, payload); err != nil {
		return err
	}

	log.Info().
		Str("provider_id", session.ProviderID).
		Str("user_id", session.UserID).
		Msg("Authorization callback delivered")

	return nil
}

func (b *authorizationBroker) AwaitAuthorization(ctx context.Context, state string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = b.sessionTTL
	}

	messages, cancel, err := b.channel.Subscribe(ctx, state)
	if err != nil {
		return "", err
	}
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-messages:
		if !ok {
			return "", domain.ErrAuthTimeout
		}

		var grant domain.AuthorizationGrant
		if err := json.Unmarshal(msg.Payload, &grant); err != nil {
			return "", fmt.Errorf("failed to unmarshal authorization grant: %w", err)
		}

		if _, err := b.tokens.ExchangeCode(ctx, grant); err != nil {
			return "", err
		}

		return grant.Code, nil

	case <-timer.C:
		return "", domain.ErrAuthTimeout

	case <-ctx.Done():
		// The session stays live for its TTL so a reconnecting waiter can
		// still complete the flow.
		return "", ctx.Err()
	}
}
