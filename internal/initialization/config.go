package initialization

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	// HTTP and deployment settings
	HTTPAddress   string
	PublicBaseURL string

	// Redis backs the correlation channel and authorization sessions
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MongoDB backs providers, credentials, policies, approvals and the vault
	MongoURI      string
	MongoDatabase string

	// VaultEncryptionSalt derives the key that encrypts stored secrets
	VaultEncryptionSalt string

	// Flow timing knobs, all in seconds
	SessionTTLSeconds        int
	ApprovalTimeoutSeconds   int
	TokenRefreshGraceSeconds int
}

// LoadConfig loads configuration from files and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"HTTPAddress":              "HTTP_ADDRESS",
		"PublicBaseURL":            "PUBLIC_BASE_URL",
		"RedisAddr":                "REDIS_ADDR",
		"RedisPassword":            "REDIS_PASSWORD",
		"RedisDB":                  "REDIS_DB",
		"MongoURI":                 "MONGO_URI",
		"MongoDatabase":            "MONGO_DATABASE",
		"VaultEncryptionSalt":      "VAULT_ENCRYPTION_SALT",
		"SessionTTLSeconds":        "SESSION_TTL_SECONDS",
		"ApprovalTimeoutSeconds":   "APPROVAL_TIMEOUT_SECONDS",
		"TokenRefreshGraceSeconds": "TOKEN_REFRESH_GRACE_SECONDS",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("auxilia_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.auxilia")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTPAddress", ":8080")
	v.SetDefault("PublicBaseURL", "http://localhost:8080")
	v.SetDefault("RedisAddr", "localhost:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("MongoDatabase", "auxilia")
	v.SetDefault("SessionTTLSeconds", 300)
	v.SetDefault("ApprovalTimeoutSeconds", 60)
	v.SetDefault("TokenRefreshGraceSeconds", 60)
}

func validateConfig(config *Config) error {
	if config.VaultEncryptionSalt == "" {
		return fmt.Errorf("VAULT_ENCRYPTION_SALT is required")
	}

	if config.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
	}

	if strings.HasSuffix(config.PublicBaseURL, "/") {
		config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")
	}

	return nil
}
