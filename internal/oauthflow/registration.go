package oauthflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const clientName = "auxilia"

// ClientRegistration is the identity a provider hands back from RFC 7591
// dynamic client registration.
type ClientRegistration struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`
}

type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegisterClient performs dynamic client registration against the provider's
// registration endpoint. Used once per provider; the broker caches the result.
func RegisterClient(ctx context.Context, httpClient *http.Client, registrationEndpoint, redirectURI, scope string) (ClientRegistration, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if registrationEndpoint == "" {
		return ClientRegistration{}, fmt.Errorf("provider does not advertise a registration endpoint")
	}

	body, err := json.Marshal(registrationRequest{
		ClientName:              clientName,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		Scope:                   scope,
	})
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return ClientRegistration{}, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return ClientRegistration{}, fmt.Errorf("registration endpoint returned status %d: %s", resp.StatusCode, payload)
	}

	var registration ClientRegistration
	if err := json.NewDecoder(resp.Body).Decode(&registration); err != nil {
		return ClientRegistration{}, fmt.Errorf("failed to decode registration response: %w", err)
	}

	if registration.ClientID == "" {
		return ClientRegistration{}, fmt.Errorf("registration response has no client_id")
	}

	return registration, nil
}
