package domain

import (
	"context"
	"time"
)

type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeOAuth2 AuthType = "oauth2"
)

// ProviderConnection is a remote MCP server registered in the workspace.
// Secrets never live on this struct; only vault references do.
type ProviderConnection struct {
	ID          string   `json:"id" bson:"_id"`
	Name        string   `json:"name" bson:"name"`
	URL         string   `json:"url" bson:"url"`
	AuthType    AuthType `json:"auth_type" bson:"auth_type"`
	IconURL     string   `json:"icon_url,omitempty" bson:"icon_url,omitempty"`
	Description string   `json:"description,omitempty" bson:"description,omitempty"`

	// OAuth client identity. ClientID empty means the broker falls back to
	// dynamic client registration and caches the result here.
	ClientID                string `json:"client_id,omitempty" bson:"client_id,omitempty"`
	ClientSecretRef         string `json:"-" bson:"client_secret_ref,omitempty"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty" bson:"token_endpoint_auth_method,omitempty"`

	// APIKeyRef is set when AuthType is api_key.
	APIKeyRef string `json:"-" bson:"api_key_ref,omitempty"`

	// Scope is the OAuth scope string requested during authorization.
	Scope string `json:"scope,omitempty" bson:"scope,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// SupportsDynamicRegistration reports whether the broker should attempt
// RFC 7591 registration for this provider.
func (p ProviderConnection) SupportsDynamicRegistration() bool {
	return p.AuthType == AuthTypeOAuth2 && p.ClientID == ""
}

type ProviderRepository interface {
	CreateProvider(ctx context.Context, provider ProviderConnection) error
	GetProvider(ctx context.Context, id string) (ProviderConnection, error)
	ListProviders(ctx context.Context) ([]ProviderConnection, error)
	UpdateProvider(ctx context.Context, provider ProviderConnection) error
	DeleteProvider(ctx context.Context, id string) error

	// SetClientIdentity caches a dynamically registered client against the
	// provider so registration happens at most once.
	SetClientIdentity(ctx context.Context, providerID, clientID, clientSecretRef string) error
}
