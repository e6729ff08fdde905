package domain

import (
	"context"
	"time"
)

// UserCredential records that a user has authorized a provider. Token
// plaintext lives only in the vault; this struct carries opaque references.
type UserCredential struct {
	ID              string `json:"id" bson:"_id"`
	ProviderID      string `json:"provider_id" bson:"provider_id"`
	UserID          string `json:"user_id" bson:"user_id"`
	AccessTokenRef  string `json:"-" bson:"access_token_ref"`
	RefreshTokenRef string `json:"-" bson:"refresh_token_ref,omitempty"`

	// ExpiresAt is zero for tokens without expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func (c UserCredential) ExpiresWithin(window time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(window).After(c.ExpiresAt)
}

type UserCredentialRepository interface {
	UpsertCredential(ctx context.Context, credential UserCredential) error
	GetCredential(ctx context.Context, providerID, userID string) (UserCredential, error)
	DeleteCredential(ctx context.Context, providerID, userID string) error
}

type TokenManager interface {
	// ExchangeCode trades an authorization code for tokens and persists the
	// resulting credential. No partial credential is created on failure.
	ExchangeCode(ctx context.Context, grant AuthorizationGrant) (UserCredential, error)

	// GetValidToken returns a non-expired access token, refreshing first when
	// the token expires within the grace window. ErrNeedsAuthorization means
	// the caller should restart the authorization flow.
	GetValidToken(ctx context.Context, providerID, userID string) (string, error)

	IsConnected(ctx context.Context, providerID, userID string) (bool, error)

	// Disconnect removes the credential and its vault entries.
	Disconnect(ctx context.Context, providerID, userID string) error
}
