package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"tallyr.io/worklog/internal/api"
	"tallyr.io/worklog/internal/config"
	"tallyr.io/worklog/internal/core"
	"tallyr.io/worklog/internal/llm"
	"tallyr.io/worklog/internal/session"
	"tallyr.io/worklog/internal/store"
	"tallyr.io/worklog/internal/vault"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Redis backs both session state and the rate limiter
	redisOpts, err := redis.ParseURL(config.AppConfig.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	cancelPing()

	conversationTTL := time.Duration(config.AppConfig.ConversationTTL) * time.Hour
	states := session.NewRedisStoreWithClient(redisClient, conversationTTL)

	// Conversation ciphertext vault
	sealer, err := vault.New(config.AppConfig.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v", err)
	}

	// Gemini-backed text generation
	generator, err := llm.NewGeminiClient(context.Background(), config.AppConfig.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	defer generator.Close()

	// Conversation pipeline
	conversationService := core.NewConversationService(states, generator, dbStore, sealer)

	// Rate limiter, API handler and router
	limiter := api.NewRateLimiter(redisClient, config.AppConfig.RateLimitMax,
		time.Duration(config.AppConfig.RateLimitWindow)*time.Second)
	apiHandler := api.NewAPIHandler(conversationService, dbStore)
	router := api.NewRouter(apiHandler, limiter.Middleware)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second, // summarization calls run long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
