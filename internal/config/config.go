package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey    string
	DatabaseURL     string
	RedisURL        string
	HTTPPort        string
	LogLevel        string
	JWTSecret       string
	JWTTTLHours     int
	EncryptionKey   string // hex-encoded 32-byte key for conversation ciphertexts
	RateLimitMax    int
	RateLimitWindow int // seconds
	ConversationTTL int // hours a draft conversation survives in session storage
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "worklog.db"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTTTLHours:     getEnvAsInt("JWT_TTL_HOURS", 24),
		EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
		RateLimitMax:    getEnvAsInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		ConversationTTL: getEnvAsInt("CONVERSATION_TTL_HOURS", 24),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	if AppConfig.EncryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
