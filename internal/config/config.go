package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all server settings, loaded from environment variables.
type Config struct {
	// Server
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	CORSOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// PostgreSQL
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	// Redis (optional; empty address disables the context-limit cache)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Text generator backend
	AIProvider    string        `envconfig:"AI_PROVIDER" default:"openai"` // openai or ollama
	AIBaseURL     string        `envconfig:"AI_BASE_URL" default:""`
	AIAPIKey      string        `envconfig:"AI_API_KEY" default:""`
	AIModel       string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AIMaxRetries  int           `envconfig:"AI_MAX_RETRIES" default:"3"`
	AITemperature float64       `envconfig:"AI_TEMPERATURE" default:"0.8"`
	// Static override for backends that cannot report their context window.
	// Zero leaves the limit unknown and disables compaction (fail-open).
	AIContextLimit int `envconfig:"AI_CONTEXT_LIMIT" default:"0"`

	// Image generator backend
	ImageAPIURL       string        `envconfig:"IMAGE_API_URL" default:""`
	ImageTimeout      time.Duration `envconfig:"IMAGE_TIMEOUT" default:"90s"`
	ImageStyleSuffix  string        `envconfig:"IMAGE_STYLE_SUFFIX" default:", digital painting, dramatic lighting"`
	ImageFaceRestore  bool          `envconfig:"IMAGE_FACE_RESTORE" default:"false"`
	ImageWidth        int           `envconfig:"IMAGE_WIDTH" default:"768"`
	ImageHeight       int           `envconfig:"IMAGE_HEIGHT" default:"512"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// ImagesEnabled reports whether image enrichment is configured at all.
func (c *Config) ImagesEnabled() bool {
	return c.ImageAPIURL != ""
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}
