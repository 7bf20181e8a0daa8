package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server settings read from .env and the environment.
type Config struct {
	// Server
	Port        string `mapstructure:"PORT"`
	GinMode     string `mapstructure:"GIN_MODE"`
	Environment string `mapstructure:"ENVIRONMENT"`

	// Database
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	// Redis
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWT
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	AccessTokenExpireMin int    `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`

	// Collaborators
	BotServiceURL    string `mapstructure:"BOT_SERVICE_URL"`
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`

	// Sweep
	SweepIntervalSeconds  int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	SweepBatchSize        int `mapstructure:"SWEEP_BATCH_SIZE"`
	SweepLeaseSeconds     int `mapstructure:"SWEEP_LEASE_SECONDS"`
	ConfigCacheTTLSeconds int `mapstructure:"CONFIG_CACHE_TTL_SECONDS"`
	AgentPresenceSeconds  int `mapstructure:"AGENT_PRESENCE_SECONDS"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Agent scoring
	ScoreWeightSkill       float64 `mapstructure:"SCORE_WEIGHT_SKILL"`
	ScoreWeightLanguage    float64 `mapstructure:"SCORE_WEIGHT_LANGUAGE"`
	ScoreWeightWorkload    float64 `mapstructure:"SCORE_WEIGHT_WORKLOAD"`
	ScoreWeightPerformance float64 `mapstructure:"SCORE_WEIGHT_PERFORMANCE"`
	ScoreWeightRecency     float64 `mapstructure:"SCORE_WEIGHT_RECENCY"`
}

var keys = []string{
	"PORT", "GIN_MODE", "ENVIRONMENT", "DATABASE_DRIVER", "DATABASE_URL", "REDIS_URL",
	"JWT_SECRET", "ACCESS_TOKEN_EXPIRE_MINUTES", "BOT_SERVICE_URL", "NOTIFY_WEBHOOK_URL",
	"SWEEP_INTERVAL_SECONDS", "SWEEP_BATCH_SIZE", "SWEEP_LEASE_SECONDS", "CONFIG_CACHE_TTL_SECONDS",
	"AGENT_PRESENCE_SECONDS", "LOG_LEVEL", "LOG_FORMAT",
	"SCORE_WEIGHT_SKILL", "SCORE_WEIGHT_LANGUAGE", "SCORE_WEIGHT_WORKLOAD",
	"SCORE_WEIGHT_PERFORMANCE", "SCORE_WEIGHT_RECENCY",
}

// Load reads .env (if present) and the environment. Environment wins.
func Load() (*Config, error) {
	return load(".env")
}

func load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8090")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60)
	v.SetDefault("BOT_SERVICE_URL", "http://localhost:8083")
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	v.SetDefault("SWEEP_BATCH_SIZE", 200)
	v.SetDefault("SWEEP_LEASE_SECONDS", 90)
	v.SetDefault("CONFIG_CACHE_TTL_SECONDS", 60)
	v.SetDefault("AGENT_PRESENCE_SECONDS", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SCORE_WEIGHT_SKILL", 0.30)
	v.SetDefault("SCORE_WEIGHT_LANGUAGE", 0.20)
	v.SetDefault("SCORE_WEIGHT_WORKLOAD", 0.25)
	v.SetDefault("SCORE_WEIGHT_PERFORMANCE", 0.15)
	v.SetDefault("SCORE_WEIGHT_RECENCY", 0.10)

	_ = v.ReadInConfig()

	cfg := &Config{}
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			v.Set(key, val)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SweepInterval is the period between timeout sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SweepLease is how long one replica holds the sweep lease.
func (c *Config) SweepLease() time.Duration {
	return time.Duration(c.SweepLeaseSeconds) * time.Second
}

// ConfigCacheTTL is how long escalation configs stay cached in Redis.
func (c *Config) ConfigCacheTTL() time.Duration {
	return time.Duration(c.ConfigCacheTTLSeconds) * time.Second
}

// AgentPresence is zero when presence tracking is disabled.
func (c *Config) AgentPresence() time.Duration {
	return time.Duration(c.AgentPresenceSeconds) * time.Second
}
