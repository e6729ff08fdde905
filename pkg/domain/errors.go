package domain

import "errors"

// Expected control-flow outcomes. Everything else that escapes a manager is
// treated as an internal failure and surfaces as a 5xx at the HTTP edge.
var (
	// ErrInvalidState means the correlation token on an OAuth callback is
	// unknown, expired, or already consumed. The caller must restart the flow.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrAuthTimeout means no callback arrived within the session TTL.
	ErrAuthTimeout = errors.New("authorization timed out waiting for callback")

	// ErrTokenExchange means the provider rejected the authorization code.
	// The same code is not retryable; the user must restart authorization.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrNeedsAuthorization means no usable credential exists for the
	// provider/user pair and the OAuth flow must be (re)started.
	ErrNeedsAuthorization = errors.New("provider needs authorization")

	// ErrToolDisabled means policy denies the tool call outright.
	ErrToolDisabled = errors.New("tool is disabled by policy")

	// ErrApprovalRejected is the terminal human denial of a gated tool call.
	ErrApprovalRejected = errors.New("tool call rejected")

	// ErrApprovalTimeout means no decision arrived in time. It is treated as
	// a rejection but logged distinctly.
	ErrApprovalTimeout = errors.New("tool call approval timed out")

	ErrProviderNotFound   = errors.New("provider not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrPolicyNotFound     = errors.New("tool policy not found")
	ErrApprovalNotFound   = errors.New("pending approval not found")
	ErrSessionNotFound    = errors.New("authorization session not found")
	ErrSecretNotFound     = errors.New("secret not found")
)
