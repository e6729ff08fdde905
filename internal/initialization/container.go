package initialization

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/auxilia-ai/auxilia/internal/controllers"
	"github.com/auxilia-ai/auxilia/internal/correlation"
	"github.com/auxilia-ai/auxilia/internal/managers"
	"github.com/auxilia-ai/auxilia/internal/mcpconn"
	"github.com/auxilia-ai/auxilia/internal/oauthflow"
	"github.com/auxilia-ai/auxilia/internal/repositories"
	"github.com/auxilia-ai/auxilia/internal/vault"
	"github.com/auxilia-ai/auxilia/pkg/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Dependencies is the fully wired object graph the HTTP server runs on.
type Dependencies struct {
	ProviderController *controllers.ProviderController
	AgentController    *controllers.AgentController
	ApprovalController *controllers.ApprovalController

	Broker    domain.AuthorizationBroker
	Tokens    domain.TokenManager
	Policies  domain.ToolPolicyService
	Approvals domain.ApprovalCoordinator
	Executor  domain.ToolExecutor

	redisClient *redis.Client
	mongoClient *mongo.Client
}

// BuildDependencies connects to Redis and MongoDB and assembles every
// repository, manager and controller the service needs.
func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	log.Info().Msg("Building service dependencies")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(config.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := mongoClient.Database(config.MongoDatabase)

	secretStore := repositories.NewMongoSecretStore(db)

	secretVault, err := vault.New(config.VaultEncryptionSalt, secretStore)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret vault: %w", err)
	}

	providerRepo := repositories.NewMongoProviderRepository(db)
	credentialRepo := repositories.NewMongoCredentialRepository(db)
	policyRepo := repositories.NewMongoPolicyRepository(db)
	approvalRepo := repositories.NewMongoApprovalRepository(db)

	sessionStore := repositories.NewRedisSessionStore(redisClient)
	channel := correlation.NewRedisChannel(redisClient)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	metadata := oauthflow.NewMetadataDiscoverer(httpClient)

	tokenManager := managers.NewTokenManager(managers.TokenManagerDependencies{
		Providers:    providerRepo,
		Credentials:  credentialRepo,
		Vault:        secretVault,
		Metadata:     metadata,
		HTTPClient:   httpClient,
		RefreshGrace: time.Duration(config.TokenRefreshGraceSeconds) * time.Second,
	})

	broker := managers.NewAuthorizationBroker(managers.AuthorizationBrokerDependencies{
		Providers:     providerRepo,
		Sessions:      sessionStore,
		Channel:       channel,
		Vault:         secretVault,
		Tokens:        tokenManager,
		Metadata:      metadata,
		HTTPClient:    httpClient,
		PublicBaseURL: config.PublicBaseURL,
		SessionTTL:    time.Duration(config.SessionTTLSeconds) * time.Second,
	})

	policyService := managers.NewToolPolicyManager(managers.ToolPolicyManagerDependencies{
		Policies: policyRepo,
	})

	approvalCoordinator := managers.NewApprovalCoordinator(managers.ApprovalCoordinatorDependencies{
		Approvals: approvalRepo,
		Channel:   channel,
		Timeout:   time.Duration(config.ApprovalTimeoutSeconds) * time.Second,
	})

	toolExecutor := managers.NewToolExecutionManager(managers.ToolExecutionManagerDependencies{
		Providers: providerRepo,
		Policies:  policyService,
		Approvals: approvalCoordinator,
		Tokens:    tokenManager,
		Vault:     secretVault,
		Connector: mcpconn.NewConnector(),
	})

	providerController := controllers.NewProviderController(controllers.ProviderControllerDependencies{
		Providers: providerRepo,
		Vault:     secretVault,
		Broker:    broker,
		Tokens:    tokenManager,
		Executor:  toolExecutor,
	})

	agentController := controllers.NewAgentController(controllers.AgentControllerDependencies{
		Policies: policyService,
		Executor: toolExecutor,
	})

	approvalController := controllers.NewApprovalController(controllers.ApprovalControllerDependencies{
		Approvals: approvalCoordinator,
	})

	log.Info().Msg("Service dependencies built successfully")

	return &Dependencies{
		ProviderController: providerController,
		AgentController:    agentController,
		ApprovalController: approvalController,
		Broker:             broker,
		Tokens:             tokenManager,
		Policies:           policyService,
		Approvals:          approvalCoordinator,
		Executor:           toolExecutor,
		redisClient:        redisClient,
		mongoClient:        mongoClient,
	}, nil
}

// Close releases the backing connections.
func (d *Dependencies) Close(ctx context.Context) {
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}

	if d.mongoClient != nil {
		if err := d.mongoClient.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to disconnect mongodb client")
		}
	}
}
