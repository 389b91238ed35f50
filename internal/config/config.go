// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported DB_TYPE values
const (
	DBTypeMongo    = "mongo"
	DBTypePostgres = "postgres"
	DBTypeMemory   = "memory"
)

// development fallback; LoadConfig refuses it unless DEBUG=true
const devJWTSecret = "gigchat_dev_secret_change_me"

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type          string // "mongo", "postgres" or "memory"
	URI           string
	MongoDatabase string
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	SeedUsersFile string // memory only
}

// AuthConfig holds the settings shared with the identity subsystem
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ChatConfig holds messaging limits
type ChatConfig struct {
	MaxMessageLength int
	SendRateLimit    int
	SendRateWindow   time.Duration
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Chat           *ChatConfig
	RedisURL       string
	AllowedOrigins []string
	LogLevel       string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:          DBTypeMongo,
		URI:           "mongodb://localhost:27017",
		MongoDatabase: "gigworker",
		Port:          5432,
		SSLMode:       "require",
	}
}

// DefaultChatConfig provides default messaging limits
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		MaxMessageLength: 2000,
		SendRateLimit:    60,
		SendRateWindow:   time.Minute,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",
		"../../.env", // project root when running from cmd/engine
	}
	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		_ = godotenv.Load()
	}

	serverConfig := DefaultConfig()
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %v", portStr, err)
		}
		serverConfig.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}
	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}
	var err error
	if serverConfig.RequestTimeout, err = durationFromEnv("REQUEST_TIMEOUT", serverConfig.RequestTimeout); err != nil {
		return nil, err
	}

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	chatConfig := DefaultChatConfig()
	if chatConfig.MaxMessageLength, err = intFromEnv("MAX_MESSAGE_LENGTH", chatConfig.MaxMessageLength); err != nil {
		return nil, err
	}
	if chatConfig.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}
	if chatConfig.SendRateLimit, err = intFromEnv("SEND_RATE_LIMIT", chatConfig.SendRateLimit); err != nil {
		return nil, err
	}
	if chatConfig.SendRateWindow, err = durationFromEnv("SEND_RATE_WINDOW", chatConfig.SendRateWindow); err != nil {
		return nil, err
	}

	config := &Config{
		Server:   serverConfig,
		Database: dbConfig,
		Auth: &AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    os.Getenv("JWT_ISSUER"),
		},
		Chat:           chatConfig,
		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: []string{"*"},
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:          os.Getenv("DEBUG") == "true",
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitAndTrim(origins)
	}

	if config.Auth.JWTSecret == "" {
		if !config.Debug {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required")
		}
		config.Auth.JWTSecret = devJWTSecret
	}

	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	dbConfig := DefaultDatabaseConfig()
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		dbConfig.Type = strings.ToLower(dbType)
	}

	switch dbConfig.Type {
	case DBTypeMongo, "mongodb":
		dbConfig.Type = DBTypeMongo
		// MONGO_URI is what the rest of the application already uses
		if uri := os.Getenv("MONGO_URI"); uri != "" {
			dbConfig.URI = uri
		} else if uri := os.Getenv("MONGODB_URI"); uri != "" {
			dbConfig.URI = uri
		}
		dbConfig.MongoDatabase = getEnvOrDefault("MONGODB_DATABASE", dbConfig.MongoDatabase)

	case DBTypePostgres:
		// Prioritize DATABASE_URL if provided
		if uri := os.Getenv("DATABASE_URL"); uri != "" {
			dbConfig.URI = uri
			dbConfig.SSLMode = getSSLModeFromURI(uri)
			break
		}
		dbConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
		if portStr := os.Getenv("DB_PORT"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil {
				dbConfig.Port = port
			}
		}
		dbConfig.User = os.Getenv("DB_USER")
		if dbConfig.User == "" {
			return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Password = os.Getenv("DB_PASSWORD")
		if dbConfig.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Name = getEnvOrDefault("DB_NAME", "postgres")
		dbConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", "require")
		dbConfig.URI = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)

	case DBTypeMemory:
		dbConfig.URI = ""
		dbConfig.SeedUsersFile = os.Getenv("SEED_USERS_FILE")
		if dbConfig.SeedUsersFile != "" {
			dbConfig.SeedUsersFile = filepath.Clean(dbConfig.SeedUsersFile)
		}

	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", dbConfig.Type)
	}
	return dbConfig, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intFromEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", key, raw, err)
	}
	return v, nil
}

func durationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", key, raw, err)
	}
	return v, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	if strings.Contains(uri, "sslmode=") {
		parts := strings.Split(uri, "?")
		if len(parts) > 1 {
			for _, param := range strings.Split(parts[1], "&") {
				kv := strings.SplitN(param, "=", 2)
				if len(kv) == 2 && kv[0] == "sslmode" {
					return kv[1]
				}
			}
		}
	}
	return "require"
}
