package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/code-100-precent/LingMeet/pkg/cache"
	"github.com/code-100-precent/LingMeet/pkg/logger"
	"github.com/code-100-precent/LingMeet/pkg/utils"
)

// Config main configuration structure
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Database DatabaseConfig   `mapstructure:"database"`
	Log      logger.LogConfig `mapstructure:"log"`
	Cache    cache.Config     `mapstructure:"cache"`
	Auth     AuthConfig       `mapstructure:"auth"`
	AI       AIConfig         `mapstructure:"ai"`
	Pipeline PipelineConfig   `mapstructure:"pipeline"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Name       string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	APIPrefix  string `env:"API_PREFIX"`
	AuthPrefix string `env:"AUTH_PREFIX"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER"`
	DSN    string `env:"DSN"`
}

// AuthConfig authentication configuration
type AuthConfig struct {
	SessionSecret    string `env:"SESSION_SECRET"`
	SecretExpireDays int    `env:"SESSION_EXPIRE_DAYS"`
}

// AIConfig speech/translation provider configuration
type AIConfig struct {
	Provider  string `env:"AI_PROVIDER"`
	APIKey    string `env:"OPENAI_API_KEY"`
	BaseURL   string `env:"OPENAI_BASE_URL"`
	ASRModel  string `env:"ASR_MODEL"`
	ChatModel string `env:"CHAT_MODEL"`
	TTSModel  string `env:"TTS_MODEL"`
	TTSVoice  string `env:"TTS_VOICE"`
}

// PipelineConfig tunables for the realtime audio pipeline
type PipelineConfig struct {
	MaxLatency       time.Duration `env:"QOS_MAX_LATENCY_MS"`
	MaxJitter        time.Duration `env:"QOS_MAX_JITTER_MS"`
	VADMinEnergy     float64       `env:"VAD_MIN_ENERGY"`
	VADMinDuration   time.Duration `env:"VAD_MIN_DURATION_MS"`
	DefaultLanguages []string      `env:"DEFAULT_LANGUAGES"`
}

var GlobalConfig *Config

func Load() error {
	// 1. Load .env based on environment (missing file is fine, defaults apply)
	env := os.Getenv("APP_ENV")
	err := utils.LoadEnv(env)
	if err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	// 2. Load global configuration
	GlobalConfig = &Config{
		Server: ServerConfig{
			Name:       getStringOrDefault("SERVER_NAME", "lingmeet"),
			Addr:       getStringOrDefault("ADDR", ":8000"),
			Mode:       getStringOrDefault("MODE", "development"),
			APIPrefix:  getStringOrDefault("API_PREFIX", "/api"),
			AuthPrefix: getStringOrDefault("AUTH_PREFIX", "/auth"),
		},
		Database: DatabaseConfig{
			Driver: getStringOrDefault("DB_DRIVER", "sqlite"),
			DSN:    getStringOrDefault("DSN", "./lingmeet.db"),
		},
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/app.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Cache: loadCacheConfig(),
		Auth: AuthConfig{
			SessionSecret:    getStringOrDefault("SESSION_SECRET", generateDefaultSessionSecret()),
			SecretExpireDays: getIntOrDefault("SESSION_EXPIRE_DAYS", 7),
		},
		AI: AIConfig{
			Provider:  getStringOrDefault("AI_PROVIDER", "openai"),
			APIKey:    getStringOrDefault("OPENAI_API_KEY", ""),
			BaseURL:   getStringOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ASRModel:  getStringOrDefault("ASR_MODEL", "gpt-4o-transcribe"),
			ChatModel: getStringOrDefault("CHAT_MODEL", "gpt-4o-mini"),
			TTSModel:  getStringOrDefault("TTS_MODEL", "gpt-4o-mini-tts"),
			TTSVoice:  getStringOrDefault("TTS_VOICE", "alloy"),
		},
		Pipeline: PipelineConfig{
			MaxLatency:       time.Duration(getIntOrDefault("QOS_MAX_LATENCY_MS", 1200)) * time.Millisecond,
			MaxJitter:        time.Duration(getIntOrDefault("QOS_MAX_JITTER_MS", 200)) * time.Millisecond,
			VADMinEnergy:     getFloatOrDefault("VAD_MIN_ENERGY", 500),
			VADMinDuration:   time.Duration(getIntOrDefault("VAD_MIN_DURATION_MS", 500)) * time.Millisecond,
			DefaultLanguages: splitLanguages(getStringOrDefault("DEFAULT_LANGUAGES", "ja,en,zh,vi,ko")),
		},
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.AI.Provider == "openai" && c.AI.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required when AI_PROVIDER=openai")
	}
	return nil
}

func splitLanguages(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getStringOrDefault gets environment variable value, returns default if empty
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault gets boolean environment variable value, returns default if empty
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault gets integer environment variable value, returns default if empty
func getIntOrDefault(key string, defaultValue int) int {
	value := utils.GetIntEnv(key)
	if value == 0 {
		return defaultValue
	}
	return int(value)
}

// getFloatOrDefault gets float environment variable value, returns default if empty
func getFloatOrDefault(key string, defaultValue float64) float64 {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return defaultValue
}

// parseDuration parses duration string with default fallback
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// generateDefaultSessionSecret generates default session secret (for development only)
func generateDefaultSessionSecret() string {
	if secret := utils.GetEnv("SESSION_SECRET"); secret != "" {
		return secret
	}
	return "default-secret-key-change-in-production-" + utils.RandText(16)
}

// loadCacheConfig loads cache configuration with all default values
func loadCacheConfig() cache.Config {
	cacheType := utils.GetEnv("CACHE_TYPE")
	if cacheType == "" {
		cacheType = cache.KindGoCache
	}
	redisAddr := utils.GetEnv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPoolSize := int(utils.GetIntEnv("REDIS_POOL_SIZE"))
	if redisPoolSize == 0 {
		redisPoolSize = 10
	}
	redisMinIdleConns := int(utils.GetIntEnv("REDIS_MIN_IDLE_CONNS"))
	if redisMinIdleConns == 0 {
		redisMinIdleConns = 5
	}
	return cache.Config{
		Type: cacheType,
		Redis: cache.RedisConfig{
			Addr:         redisAddr,
			Password:     utils.GetEnv("REDIS_PASSWORD"),
			DB:           int(utils.GetIntEnv("REDIS_DB")),
			PoolSize:     redisPoolSize,
			MinIdleConns: redisMinIdleConns,
			DialTimeout:  parseDuration(utils.GetEnv("REDIS_DIAL_TIMEOUT"), 5*time.Second),
			ReadTimeout:  parseDuration(utils.GetEnv("REDIS_READ_TIMEOUT"), 3*time.Second),
			WriteTimeout: parseDuration(utils.GetEnv("REDIS_WRITE_TIMEOUT"), 3*time.Second),
			IdleTimeout:  parseDuration(utils.GetEnv("REDIS_IDLE_TIMEOUT"), 5*time.Minute),
		},
		Local: cache.LocalConfig{
			DefaultExpiration: parseDuration(utils.GetEnv("LOCAL_CACHE_DEFAULT_EXPIRATION"), 5*time.Minute),
			CleanupInterval:   parseDuration(utils.GetEnv("LOCAL_CACHE_CLEANUP_INTERVAL"), 10*time.Minute),
		},
	}
}
