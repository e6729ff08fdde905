package domain

import (
	"context"
	"time"
)

// AuthorizationSession is the server-side record of an in-progress OAuth2
// flow, keyed by its single-use state token. The callback may land on a
// different process than the one that created the session, so sessions live
// in shared storage, never in process memory.
type AuthorizationSession struct {
	State        string    `json:"state"`
	ProviderID   string    `json:"provider_id"`
	UserID       string    `json:"user_id"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s AuthorizationSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type AuthorizationSessionStore interface {
	PutSession(ctx context.Context, session AuthorizationSession) error

	// TakeSession atomically fetches and deletes the session for a state.
	// Returns ErrSessionNotFound for unknown, expired, or already consumed
	// states; consuming on read is what makes states single-use.
	TakeSession(ctx context.Context, state string) (AuthorizationSession, error)
}

// AuthorizationStart is what StartAuthorization hands back to the UI.
type AuthorizationStart struct {
	// Connected is true for providers that need no authorization; no session
	// is created and the other fields are empty.
	Connected bool `json:"connected"`

	AuthorizationURL string `json:"auth_url,omitempty"`

	// State doubles as the correlation token for AwaitAuthorization.
	State string `json:"state,omitempty"`
}

// AuthorizationGrant is what the callback publishes on the Correlation
// Channel: everything the waiting process needs to finish the token exchange
// without re-reading the (already consumed) session.
type AuthorizationGrant struct {
	ProviderID   string `json:"provider_id"`
	UserID       string `json:"user_id"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
}

type AuthorizationBroker interface {
	StartAuthorization(ctx context.Context, providerID, userID string) (AuthorizationStart, error)
	HandleCallback(ctx context.Context, code, state string) error
	AwaitAuthorization(ctx context.Context, state string, timeout time.Duration) (string, error)
}
