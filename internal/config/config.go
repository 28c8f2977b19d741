package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Entra     EntraConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// EntraConfig describes the Microsoft Entra ID app registration used for the
// On-Behalf-Of exchange and the authorization-code fallback flow.
type EntraConfig struct {
	TenantID    string
	AppID       string
	AppSecret   string
	APIResource string // application ID URI, e.g. api://<host>/<app-id>
	SiteURL     string // public hostname of the add-in, without scheme
}

type SessionConfig struct {
	// Lifetime is the sliding session window. Microsoft Entra refresh tokens
	// are valid for 90 days, so the session is too.
	Lifetime time.Duration
	// RefreshThreshold is how close to access-token expiry a validate call
	// triggers a proactive refresh.
	RefreshThreshold time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "3000")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "addinauth")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("SESSION_LIFETIME_DAYS", 90)
	viper.SetDefault("ACCESS_TOKEN_REFRESH_THRESHOLD_MINUTES", 10)
	viper.SetDefault("RATE_LIMIT_RPS", 10.0)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      getEnvOrPanic("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		Entra: EntraConfig{
			TenantID:    viper.GetString("TENANT_ID"),
			AppID:       viper.GetString("ENTRA_APP_ID"),
			AppSecret:   os.Getenv("ENTRA_APP_SECRET"),
			APIResource: viper.GetString("ENTRA_APP_API_RESOURCE"),
			SiteURL:     viper.GetString("SITE_URL"),
		},
		Session: SessionConfig{
			Lifetime:         time.Duration(viper.GetInt("SESSION_LIFETIME_DAYS")) * 24 * time.Hour,
			RefreshThreshold: time.Duration(viper.GetInt("ACCESS_TOKEN_REFRESH_THRESHOLD_MINUTES")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	// Basic validation
	if cfg.Entra.TenantID == "" || cfg.Entra.AppID == "" {
		log.Println("WARNING: TENANT_ID / ENTRA_APP_ID not set; token exchange is disabled")
	}
	if cfg.Entra.AppSecret == "" {
		log.Println("WARNING: ENTRA_APP_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production hardening
// (secure cookies in particular).
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func getEnvOrPanic(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("environment variable %s is required", key)
	}
	return v
}
