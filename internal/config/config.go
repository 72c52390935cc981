package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server configuration, loaded from the environment.
type Config struct {
	Env  string // ENV
	Port string // PORT

	MySQL struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
	}

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	CacheTTL time.Duration

	JWTSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	YouTubeAPIKey string

	FrontendURL    string
	AllowedOrigins []string
}

// Load reads configuration from the environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	ttlSeconds, _ := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "30"))

	cfg := &Config{
		Env:                getEnv("ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		RedisAddr:          getEnv("REDIS_HOST", "localhost") + ":" + getEnv("REDIS_PORT", "6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "stream-queue-events"),
		CacheTTL:           time.Duration(ttlSeconds) * time.Second,
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		YouTubeAPIKey:      os.Getenv("YOUTUBE_API_KEY"),
		FrontendURL:        getEnv("FRONTEND_URL", "/"),
		AllowedOrigins:     strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
	}
	cfg.MySQL.Host = getEnv("MYSQL_HOST", "localhost")
	cfg.MySQL.Port = getEnv("MYSQL_PORT", "3306")
	cfg.MySQL.User = getEnv("MYSQL_USER", "root")
	cfg.MySQL.Password = os.Getenv("MYSQL_PASSWORD")
	cfg.MySQL.Database = getEnv("MYSQL_DATABASE", "stream_queue")
	return cfg, nil
}

// Validate checks the fields that have no safe default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.Env == "production" && c.MySQL.Password == "" {
		return errors.New("config: in production MYSQL_PASSWORD is required")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
