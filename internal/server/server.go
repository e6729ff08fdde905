package server

import (
	"context"
	"time"

	"github.com/auxilia-ai/auxilia/internal/controllers"
	"github.com/auxilia-ai/auxilia/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type HTTPServerDependencies struct {
	ProviderController *controllers.ProviderController
	AgentController    *controllers.AgentController
	ApprovalController *controllers.ApprovalController
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "auxilia",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "auxilia",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	providers := router.Group("/providers")

	providers.Post("/", deps.ProviderController.CreateProvider)
	providers.Get("/", deps.ProviderController.ListProviders)

	// The callback route must not collide with /providers/:providerID.
	providers.Get("/oauth/callback", deps.ProviderController.OAuthCallback)
	providers.Get("/oauth/await-authorization", deps.ProviderController.AwaitAuthorization)

	providers.Get("/:providerID", deps.ProviderController.GetProvider)
	providers.Patch("/:providerID", deps.ProviderController.UpdateProvider)
	providers.Delete("/:providerID", deps.ProviderController.DeleteProvider)
	providers.Get("/:providerID/list-tools", deps.ProviderController.ListTools)
	providers.Post("/:providerID/connect", deps.ProviderController.Connect)
	providers.Get("/:providerID/is-connected", deps.ProviderController.IsConnected)
	providers.Post("/:providerID/disconnect", deps.ProviderController.Disconnect)

	agents := router.Group("/agents/:agentID")

	agents.Patch("/providers/:providerID", deps.AgentController.UpdateToolPolicy)
	agents.Get("/providers/:providerID/policy", deps.AgentController.GetToolPolicy)
	agents.Post("/providers/:providerID/tool-calls", deps.AgentController.ExecuteTool)

	approvals := router.Group("/approvals")

	approvals.Get("/pending", deps.ApprovalController.ListPending)
	approvals.Post("/:callID/resolve", deps.ApprovalController.Resolve)

	return router
}
