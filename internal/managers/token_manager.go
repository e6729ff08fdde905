package managers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/auxilia-ai/auxilia/internal/oauthflow"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const DefaultRefreshGrace = 60 * time.Second

type TokenManagerDependencies struct {
	Providers   domain.ProviderRepository
	Credentials domain.UserCredentialRepository
	Vault       domain.SecretVault
	Metadata    *oauthflow.MetadataDiscoverer
	HTTPClient  *http.Client

	// RefreshGrace is how close to expiry a token may get before
	// GetValidToken refreshes it proactively.
	RefreshGrace time.Duration
}

type tokenManager struct {
	providers   domain.ProviderRepository
	credentials domain.UserCredentialRepository
	vault       domain.SecretVault
	metadata    *oauthflow.MetadataDiscoverer
	httpClient  *http.Client

	refreshGrace time.Duration

	// flight serializes exchanges and de-duplicates refreshes per
	// (providerID, userID) pair so concurrent callers never race to write
	// two credentials or spend one refresh token twice.
	flight singleflight.Group
}

func NewTokenManager(deps TokenManagerDependencies) domain.TokenManager {
	grace := deps.RefreshGrace
	if grace <= 0 {
		grace = DefaultRefreshGrace
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &tokenManager{
		providers:    deps.Providers,
		credentials:  deps.Credentials,
		vault:        deps.Vault,
		metadata:     deps.Metadata,
		httpClient:   httpClient,
		refreshGrace: grace,
	}
}

func pairKey(providerID, userID string) string {
	return providerID + "|" + userID
}

func accessTokenRef(providerID, userID string) string {
	return fmt.Sprintf("token:%s:%s:access", providerID, userID)
}

func refreshTokenRef(providerID, userID string) string {
	return fmt.Sprintf("token:%s:%s:refresh", providerID, userID)
}

func (m *tokenManager) ExchangeCode(ctx context.Context, grant domain.AuthorizationGrant) (domain.UserCredential, error) {
	result, err, _ := m.flight.Do("exchange:"+pairKey(grant.ProviderID, grant.UserID)+":"+grant.Code, func() (any, error) {
		return m.exchangeCode(ctx, grant)
	})
	if err != nil {
		return domain.UserCredential{}, err
	}
	return result.(domain.UserCredential), nil
}

func (m *tokenManager) exchangeCode(ctx context.Context, grant domain.AuthorizationGrant) (domain.UserCredential, error) {
	provider, err := m.providers.GetProvider(ctx, grant.ProviderID)
	if err != nil {
		return domain.UserCredential{}, err
	}

	config, err := m.oauthConfig(ctx, provider, grant.RedirectURI)
	if err != nil {
		return domain.UserCredential{}, err
	}

	var opts []oauth2.AuthCodeOption
	if grant.CodeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", grant.CodeVerifier))
	}

	token, err := config.Exchange(m.oauthContext(ctx), grant.Code, opts...)
	if err != nil {
		log.Warn().Err(err).
			Str("provider_id", grant.ProviderID).
			Msg("Token exchange rejected by provider")
		return domain.UserCredential{}, fmt.Errorf("%w: %s", domain.ErrTokenExchange, err)
	}

	credential, err := m.persistToken(ctx, grant.ProviderID, grant.UserID, token)
	if err != nil {
		return domain.UserCredential{}, err
	}

	log.Info().
		Str("provider_id", grant.ProviderID).
		Str("user_id", grant.UserID).
		Time("expires_at", credential.ExpiresAt).
		Msg("Exchanged authorization code for tokens")

	return credential, nil
}

// persistToken writes token plaintext into the vault before the credential
// row exists, so a reader never finds a credential with missing secrets.
func (m *tokenManager) persistToken(ctx context.Context, providerID, userID string, token *oauth2.Token) (domain.UserCredential, error) {
	accessRef := accessTokenRef(providerID, userID)
	if err := m.vault.Put(ctx, accessRef, []byte(token.AccessToken)); err != nil {
		return domain.UserCredential{}, err
	}

	refreshRef := ""
	if token.RefreshToken != "" {
		refreshRef = refreshTokenRef(providerID, userID)
		if err := m.vault.Put(ctx, refreshRef, []byte(token.RefreshToken)); err != nil {
			return domain.UserCredential{}, err
		}
	}

	now := time.Now()
	credential := domain.UserCredential{
		ID:              uuid.NewString(),
		ProviderID:      providerID,
		UserID:          userID,
		AccessTokenRef:  accessRef,
		RefreshTokenRef: refreshRef,
		ExpiresAt:       token.Expiry,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.credentials.UpsertCredential(ctx, credential); err != nil {
		return domain.UserCredential{}, err
	}

	return credential, nil
}

func (m *tokenManager) GetValidToken(ctx context.Context, providerID, userID string) (string, error) {
	credential, err := m.credentials.GetCredential(ctx, providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", domain.ErrNeedsAuthorization
		}
		return "", err
	}

	if !credential.ExpiresWithin(m.refreshGrace, time.Now()) {
		token, err := m.vault.Get(ctx, credential.AccessTokenRef)
		if err != nil {
			return "", err
		}
		return string(token), nil
	}

	result, err, _ := m.flight.Do("refresh:"+pairKey(providerID, userID), func() (any, error) {
		return m.refresh(ctx, providerID, userID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *tokenManager) refresh(ctx context.Context, providerID, userID string) (string, error) {
	// Re-read inside the flight: a concurrent caller may have refreshed
	// already while this one waited.
	credential, err := m.credentials.GetCredential(ctx, providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", domain.ErrNeedsAuthorization
		}
		return "", err
	}

	if !credential.ExpiresWithin(m.refreshGrace, time.Now()) {
		token, err := m.vault.Get(ctx, credential.AccessTokenRef)
		if err != nil {
			return "", err
		}
		return string(token), nil
	}

	if credential.RefreshTokenRef == "" {
		_ = m.Disconnect(ctx, providerID, userID)
		return "", domain.ErrNeedsAuthorization
	}

	refreshToken, err := m.vault.Get(ctx, credential.RefreshTokenRef)
	if err != nil {
		return "", err
	}

	provider, err := m.providers.GetProvider(ctx, providerID)
	if err != nil {
		return "", err
	}

	config, err := m.oauthConfig(ctx, provider, "")
	if err != nil {
		return "", err
	}

	source := config.TokenSource(m.oauthContext(ctx), &oauth2.Token{
		RefreshToken: string(refreshToken),
		Expiry:       time.Now().Add(-time.Minute),
	})

	token, err := source.Token()
	if err != nil {
		// The refresh token is revoked or expired. The connection degrades
		// to "disconnected" and the caller re-prompts for authorization.
		log.Warn().Err(err).
			Str("provider_id", providerID).
			Str("user_id", userID).
			Msg("Token refresh failed, removing credential")

		if err := m.Disconnect(ctx, providerID, userID); err != nil {
			log.Error().Err(err).Msg("Failed to remove credential after refresh failure")
		}
		return "", domain.ErrNeedsAuthorization
	}

	// Token rotation: providers may issue a new refresh token with every
	// refresh. Keep the old one only when no replacement arrived.
	if token.RefreshToken == "" {
		token.RefreshToken = string(refreshToken)
	}

	if _, err := m.persistToken(ctx, providerID, userID, token); err != nil {
		return "", err
	}

	return token.AccessToken, nil
}

func (m *tokenManager) IsConnected(ctx context.Context, providerID, userID string) (bool, error) {
	provider, err := m.providers.GetProvider(ctx, providerID)
	if err != nil {
		return false, err
	}

	if provider.AuthType != domain.AuthTypeOAuth2 {
		return true, nil
	}

	_, err = m.GetValidToken(ctx, providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNeedsAuthorization) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *tokenManager) Disconnect(ctx context.Context, providerID, userID string) error {
	credential, err := m.credentials.GetCredential(ctx, providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil
		}
		return err
	}

	if err := m.vault.Delete(ctx, credential.AccessTokenRef); err != nil {
		log.Warn().Err(err).Msg("Failed to delete access token from vault")
	}
	if credential.RefreshTokenRef != "" {
		if err := m.vault.Delete(ctx, credential.RefreshTokenRef); err != nil {
			log.Warn().Err(err).Msg("Failed to delete refresh token from vault")
		}
	}

	return m.credentials.DeleteCredential(ctx, providerID, userID)
}

// oauthConfig assembles the x/oauth2 client configuration for a provider,
// resolving the token endpoint through metadata discovery and the client
// secret through the vault.
func (m *tokenManager) oauthConfig(ctx context.Context, provider domain.ProviderConnection, redirectURI string) (*oauth2.Config, error) {
	meta, err := m.metadata.Discover(ctx, provider.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover token endpoint: %w", err)
	}

	clientSecret := ""
	if provider.ClientSecretRef != "" {
		secret, err := m.vault.Get(ctx, provider.ClientSecretRef)
		if err != nil {
			return nil, err
		}
		clientSecret = string(secret)
	}

	authStyle := oauth2.AuthStyleAutoDetect
	switch provider.TokenEndpointAuthMethod {
	case "client_secret_post":
		authStyle = oauth2.AuthStyleInParams
	case "client_secret_basic":
		authStyle = oauth2.AuthStyleInHeader
	}

	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: authStyle,
		},
	}, nil
}

func (m *tokenManager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
