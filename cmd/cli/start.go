package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auxilia-ai/auxilia/internal/initialization"
	"github.com/auxilia-ai/auxilia/internal/server"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tool provider service",
		Long:  `Start the HTTP service that manages tool providers, OAuth authorization, tool policies and approvals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			return runService()
		},
	}

	return cmd
}

func runService() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Msg("Starting auxilia service")

	config, err := initialization.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("http_address", config.HTTPAddress).
		Str("public_base_url", config.PublicBaseURL).
		Str("mongo_database", config.MongoDatabase).
		Msg("Configuration loaded")

	buildCtx, buildCancel := context.WithTimeout(ctx, 30*time.Second)
	defer buildCancel()

	deps, err := initialization.BuildDependencies(buildCtx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service dependencies")
	}

	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()

		deps.Close(closeCtx)
	}()

	app := server.NewHTTPServer(ctx, server.HTTPServerDependencies{
		ProviderController: deps.ProviderController,
		AgentController:    deps.AgentController,
		ApprovalController: deps.ApprovalController,
	})

	if err := app.Listen(config.HTTPAddress, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("Auxilia service stopped")
	return nil
}
