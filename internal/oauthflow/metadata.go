package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
)

// ServerMetadata is the subset of RFC 8414 authorization server metadata the
// broker and token manager need.
type ServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// MetadataDiscoverer resolves authorization server metadata for a provider
// URL, with a per-process cache. Discovery is stateless, so every process can
// redo it independently of who started the flow.
type MetadataDiscoverer struct {
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]ServerMetadata
}

func NewMetadataDiscoverer(httpClient *http.Client) *MetadataDiscoverer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MetadataDiscoverer{
		httpClient: httpClient,
		cache:      make(map[string]ServerMetadata),
	}
}

// Discover fetches /.well-known/oauth-authorization-server relative to the
// provider origin. Providers without a metadata document fall back to the
// conventional /authorize and /token endpoints.
func (d *MetadataDiscoverer) Discover(ctx context.Context, providerURL string) (ServerMetadata, error) {
	origin, err := serverOrigin(providerURL)
	if err != nil {
		return ServerMetadata{}, err
	}

	d.mu.Lock()
	if meta, ok := d.cache[origin]; ok {
		d.mu.Unlock()
		return meta, nil
	}
	d.mu.Unlock()

	meta, err := d.fetch(ctx, origin)
	if err != nil {
		log.Debug().Err(err).Str("origin", origin).Msg("Metadata discovery failed, using default endpoints")
		meta = ServerMetadata{
			Issuer:                origin,
			AuthorizationEndpoint: origin + "/authorize",
			TokenEndpoint:         origin + "/token",
		}
	}

	d.mu.Lock()
	d.cache[origin] = meta
	d.mu.Unlock()

	return meta, nil
}

func (d *MetadataDiscoverer) fetch(ctx context.Context, origin string) (ServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/.well-known/oauth-authorization-server", nil)
	if err != nil {
		return ServerMetadata{}, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return ServerMetadata{}, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ServerMetadata{}, fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	var meta ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return ServerMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return ServerMetadata{}, fmt.Errorf("metadata document is missing endpoints")
	}

	return meta, nil
}

func serverOrigin(providerURL string) (string, error) {
	u, err := url.Parse(providerURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider url %q: %w", providerURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("provider url %q has no scheme or host", providerURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
