package oauthflow

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCE(t *testing.T) {
	pkce, err := GeneratePKCE()
	require.NoError(t, err)

	assert.Equal(t, "S256", pkce.CodeChallengeMethod)
	assert.NotEmpty(t, pkce.CodeVerifier)

	// The challenge is the base64url-encoded SHA-256 of the verifier.
	sum := sha256.Sum256([]byte(pkce.CodeVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), pkce.CodeChallenge)

	// No padding characters leak into URL parameters.
	assert.NotContains(t, pkce.CodeVerifier, "=")
	assert.NotContains(t, pkce.CodeChallenge, "=")
}

func TestGeneratePKCE_VerifiersAreUnique(t *testing.T) {
	first, err := GeneratePKCE()
	require.NoError(t, err)

	second, err := GeneratePKCE()
	require.NoError(t, err)

	assert.NotEqual(t, first.CodeVerifier, second.CodeVerifier)
}

func TestGenerateState_Unique(t *testing.T) {
	first, err := GenerateState()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := GenerateState()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
