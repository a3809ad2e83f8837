package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	GatewayURL           string `env:"GATEWAY_URL" envDefault:"ws://localhost:9090/ws"`
	GeminiAPIKey         string `env:"GEMINI_API_KEY"`
	GeminiModel          string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	EncryptionKey        string `env:"ENCRYPTION_KEY"`
	ModerationEnabled    bool   `env:"MODERATION_ENABLED" envDefault:"true"`
	ReconnectDelaySecs   int    `env:"RECONNECT_DELAY_SECONDS" envDefault:"5"`
	CommandTimeoutSecs   int    `env:"COMMAND_TIMEOUT_SECONDS" envDefault:"30"`
	CooldownMillis       int    `env:"COMMAND_COOLDOWN_MS" envDefault:"3000"`
	NightHoursEnabled    bool   `env:"NIGHT_HOURS_ENABLED" envDefault:"false"`
	NightHoursStart      int    `env:"NIGHT_HOURS_START" envDefault:"0"`
	NightHoursEnd        int    `env:"NIGHT_HOURS_END" envDefault:"6"`
	TimeZone             string `env:"TIME_ZONE" envDefault:"UTC"`
	PrivatePremiumOnly   bool   `env:"PRIVATE_PREMIUM_ONLY" envDefault:"false"`
	RequireGroupRental   bool   `env:"REQUIRE_GROUP_RENTAL" envDefault:"false"`
	CommunityGroupJID    string `env:"COMMUNITY_GROUP_JID"`
	RequireCommunityJoin bool   `env:"REQUIRE_COMMUNITY_JOIN" envDefault:"false"`
	UseCoin              bool   `env:"USE_COIN" envDefault:"true"`
	GlobalRestrict       bool   `env:"GLOBAL_RESTRICT" envDefault:"false"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySecs) * time.Second
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSecs) * time.Second
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMillis) * time.Millisecond
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.NightHoursStart < 0 || c.NightHoursStart > 23 || c.NightHoursEnd < 0 || c.NightHoursEnd > 24 {
		return fmt.Errorf("NIGHT_HOURS_START/NIGHT_HOURS_END must be hours of the day")
	}

	if isProduction {
		if c.GeminiAPIKey == "" && c.ModerationEnabled {
			log.Warn().Msg("GEMINI_API_KEY is empty with moderation enabled: messages will pass moderation unclassified")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: session credentials will not be encrypted at rest")
		}
		if err := validateSecretKey("ENCRYPTION_KEY", c.EncryptionKey); err != nil {
			return err
		}
	}

	return nil
}

func validateSecretKey(name, value string) error {
	if value == "" {
		return nil
	}
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters (generate with: openssl rand -hex 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
