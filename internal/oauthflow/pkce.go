package oauthflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEChallenge holds a Proof Key for Code Exchange pair. The verifier stays
// server-side in the authorization session; only the S256 challenge travels
// through the browser.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE creates a 32-byte random verifier and its S256 challenge.
func GeneratePKCE() (PKCEChallenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCEChallenge{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))

	return PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState returns a 32-byte random state token. It is both the CSRF
// guard on the authorization redirect and the correlation token the waiter
// subscribes on.
func GenerateState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
