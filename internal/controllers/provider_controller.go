package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ProviderController handles management of MCP tool providers and the
// OAuth authorization flow endpoints.
type ProviderController struct {
	providers domain.ProviderRepository
	vault     domain.SecretVault
	broker    domain.AuthorizationBroker
	tokens    domain.TokenManager
	executor  domain.ToolExecutor
}

type ProviderControllerDependencies struct {
	Providers domain.ProviderRepository
	Vault     domain.SecretVault
	Broker    domain.AuthorizationBroker
	Tokens    domain.TokenManager
	Executor  domain.ToolExecutor
}

func NewProviderController(deps ProviderControllerDependencies) *ProviderController {
	return &ProviderController{
		providers: deps.Providers,
		vault:     deps.Vault,
		broker:    deps.Broker,
		tokens:    deps.Tokens,
		executor:  deps.Executor,
	}
}

type CreateProviderRequest struct {
	Name                    string `json:"name"`
	URL                     string `json:"url"`
	AuthType                string `json:"auth_type"`
	IconURL                 string `json:"icon_url"`
	Description             string `json:"description"`
	APIKey                  string `json:"api_key"`
	OAuthClientID           string `json:"oauth_client_id"`
	OAuthClientSecret       string `json:"oauth_client_secret"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`
	Scope                   string `json:"scope"`
}

type UpdateProviderRequest struct {
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	IconURL     *string `json:"icon_url"`
	Description *string `json:"description"`
	Scope       *string `json:"scope"`
}

// CreateProvider registers a new tool provider. Secrets in the request
// body are encrypted into the vault and only references are persisted.
func (c *ProviderController) CreateProvider(ctx fiber.Ctx) error {
	var req CreateProviderRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Name == "" || req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name and url are required")
	}

	authType := domain.AuthType(req.AuthType)
	if authType == "" {
		authType = domain.AuthTypeNone
	}

	switch authType {
	case domain.AuthTypeNone, domain.AuthTypeAPIKey, domain.AuthTypeOAuth2:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "Unknown auth_type")
	}

	if authType == domain.AuthTypeAPIKey && req.APIKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "api_key is required for api_key providers")
	}

	now := time.Now().UTC()

	provider := domain.ProviderConnection{
		ID:                      uuid.NewString(),
		Name:                    req.Name,
		URL:                     req.URL,
		AuthType:                authType,
		IconURL:                 req.IconURL,
		Description:             req.Description,
		ClientID:                req.OAuthClientID,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if req.APIKey != "" {
		ref := fmt.Sprintf("provider:%s:api_key", provider.ID)

		if err := c.vault.Put(ctx.RequestCtx(), ref, []byte(req.APIKey)); err != nil {
			log.Error().Err(err).Msg("Failed to store provider api key")
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to store provider credentials")
		}

		provider.APIKeyRef = ref
	}

	if req.OAuthClientSecret != "" {
		ref := fmt.Sprintf("provider:%s:client_secret", provider.ID)

		if err := c.vault.Put(ctx.RequestCtx(), ref, []byte(req.OAuthClientSecret)); err != nil {
			log.Error().Err(err).Msg("Failed to store provider client secret")
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to store provider credentials")
		}

		provider.ClientSecretRef = ref
	}

	if err := c.providers.CreateProvider(ctx.RequestCtx(), provider); err != nil {
		log.Error().Err(err).Msg("Failed to create provider")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create provider")
	}

	return ctx.Status(fiber.StatusCreated).JSON(provider)
}

func (c *ProviderController) ListProviders(ctx fiber.Ctx) error {
	providers, err := c.providers.ListProviders(ctx.RequestCtx())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list providers")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to list providers")
	}

	return ctx.JSON(fiber.Map{"providers": providers})
}

func (c *ProviderController) GetProvider(ctx fiber.Ctx) error {
	provider, err := c.providers.GetProvider(ctx.RequestCtx(), ctx.Params("providerID"))
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Msg("Failed to get provider")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get provider")
	}

	return ctx.JSON(provider)
}

func (c *ProviderController) UpdateProvider(ctx fiber.Ctx) error {
	var req UpdateProviderRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	provider, err := c.providers.GetProvider(ctx.RequestCtx(), ctx.Params("providerID"))
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get provider")
	}

	if req.Name != nil {
		provider.Name = *req.Name
	}
	if req.URL != nil {
		provider.URL = *req.URL
	}
	if req.IconURL != nil {
		provider.IconURL = *req.IconURL
	}
	if req.Description != nil {
		provider.Description = *req.Description
	}
	if req.Scope != nil {
		provider.Scope = *req.Scope
	}

	provider.UpdatedAt = time.Now().UTC()

	if err := c.providers.UpdateProvider(ctx.RequestCtx(), provider); err != nil {
		log.Error().Err(err).Msg("Failed to update provider")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to update provider")
	}

	return ctx.JSON(provider)
}

func (c *ProviderController) DeleteProvider(ctx fiber.Ctx) error {
	providerID := ctx.Params("providerID")

	provider, err := c.providers.GetProvider(ctx.RequestCtx(), providerID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get provider")
	}

	for _, ref := range []string{provider.APIKeyRef, provider.ClientSecretRef} {
		if ref == "" {
			continue
		}

		if err := c.vault.Delete(ctx.RequestCtx(), ref); err != nil {
			log.Warn().Err(err).Str("provider_id", providerID).Msg("Failed to delete provider secret")
		}
	}

	if err := c.providers.DeleteProvider(ctx.RequestCtx(), providerID); err != nil {
		log.Error().Err(err).Msg("Failed to delete provider")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete provider")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// ListTools lists the tools exposed by a provider on behalf of a user.
// When the provider requires authorization that the user has not granted
// yet, it responds 401 with a ready-to-open authorization URL.
func (c *ProviderController) ListTools(ctx fiber.Ctx) error {
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	tools, err := c.executor.ListTools(ctx.RequestCtx(), providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNeedsAuthorization) {
			return c.respondNeedsAuthorization(ctx, providerID, userID)
		}

		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to list provider tools")
		return fiber.NewError(fiber.StatusBadGateway, "Failed to list provider tools")
	}

	return ctx.JSON(fiber.Map{"tools": tools})
}

// Connect starts the OAuth authorization flow for a user and provider.
func (c *ProviderController) Connect(ctx fiber.Ctx) error {
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	start, err := c.broker.StartAuthorization(ctx.RequestCtx(), providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to start authorization")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to start authorization")
	}

	return ctx.JSON(start)
}

// OAuthCallback receives the authorization-server redirect. It always
// responds 2xx so the provider's redirect succeeds in the user's browser;
// failures surface on the waiting side of the correlation channel.
func (c *ProviderController) OAuthCallback(ctx fiber.Ctx) error {
	code := ctx.Query("code")
	state := ctx.Query("state")

	if errParam := ctx.Query("error"); errParam != "" {
		log.Warn().
			Str("error", errParam).
			Str("error_description", ctx.Query("error_description")).
			Msg("Authorization server returned an error on callback")

		return ctx.JSON(fiber.Map{
			"status":  "error",
			"message": "Authorization was not granted",
		})
	}

	if code == "" || state == "" {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "error",
			"message": "Missing code or state parameter",
		})
	}

	if err := c.broker.HandleCallback(ctx.RequestCtx(), code, state); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return ctx.JSON(fiber.Map{
				"status":  "error",
				"message": "Unknown or expired authorization state",
			})
		}

		log.Error().Err(err).Msg("Failed to handle oauth callback")

		return ctx.JSON(fiber.Map{
			"status":  "error",
			"message": "Failed to process authorization callback",
		})
	}

	return ctx.JSON(fiber.Map{
		"status":  "success",
		"message": "Authorization complete. You can close this window.",
	})
}

// AwaitAuthorization long-polls until the pending authorization identified
// by state completes, times out, or the client goes away.
func (c *ProviderController) AwaitAuthorization(ctx fiber.Ctx) error {
	state := ctx.Query("state")
	if state == "" {
		return fiber.NewError(fiber.StatusBadRequest, "state is required")
	}

	var timeout time.Duration
	if seconds, err := strconv.Atoi(ctx.Query("timeout_seconds")); err == nil && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	if _, err := c.broker.AwaitAuthorization(ctx.RequestCtx(), state, timeout); err != nil {
		if errors.Is(err, domain.ErrAuthTimeout) {
			return ctx.JSON(fiber.Map{"connected": false, "timed_out": true})
		}

		if errors.Is(err, domain.ErrTokenExchange) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"connected": false,
				"error":     "token_exchange_failed",
				"message":   "The provider rejected the authorization code. Start a new authorization.",
			})
		}

		log.Error().Err(err).Msg("Failed to await authorization")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to complete authorization")
	}

	return ctx.JSON(fiber.Map{"connected": true})
}

// IsConnected reports whether the user holds a usable credential for the
// provider, refreshing expired tokens as a side effect.
func (c *ProviderController) IsConnected(ctx fiber.Ctx) error {
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	connected, err := c.tokens.IsConnected(ctx.RequestCtx(), providerID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Provider not found")
		}

		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to check connection")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to check connection")
	}

	return ctx.JSON(fiber.Map{"connected": connected})
}

// Disconnect revokes the user's stored credential for the provider.
func (c *ProviderController) Disconnect(ctx fiber.Ctx) error {
	providerID := ctx.Params("providerID")

	userID := requestUserID(ctx)
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Missing user identity")
	}

	if err := c.tokens.Disconnect(ctx.RequestCtx(), providerID, userID); err != nil {
		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to disconnect provider")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to disconnect provider")
	}

	return ctx.JSON(fiber.Map{"connected": false})
}

func (c *ProviderController) respondNeedsAuthorization(ctx fiber.Ctx, providerID, userID string) error {
	start, err := c.broker.StartAuthorization(ctx.RequestCtx(), providerID, userID)
	if err != nil {
		log.Error().Err(err).Str("provider_id", providerID).Msg("Failed to start authorization")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to start authorization")
	}

	return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":    "authorization_required",
		"auth_url": start.AuthorizationURL,
		"state":    start.State,
	})
}

// requestUserID resolves the acting user from the X-User-ID header, falling
// back to the user_id query parameter. User authentication itself happens
// upstream of this service.
func requestUserID(ctx fiber.Ctx) string {
	if userID := ctx.Get("X-User-ID"); userID != "" {
		return userID
	}

	return ctx.Query("user_id")
}
