package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"commune/internal/config"
	"commune/internal/db"
	httpapi "commune/internal/http"
	"commune/internal/hub"
	"commune/internal/models"
	"commune/internal/store"
	"commune/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting commune realtime server",
		"port", cfg.Server.Port,
		"environment", os.Getenv("ENV"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	log.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("Running database migrations...")
	if err := models.Migrate(ctx, pool); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize Redis
	log.Info("Connecting to Redis...")
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	// Wire the external collaborators and the hub
	pg := store.NewPostgres(pool)
	sessions := store.NewRedisSessions(rdb)
	stores := hub.Stores{
		Sessions:    sessions,
		Users:       pg,
		Memberships: pg,
		Communities: pg,
		Messages:    pg,
	}

	realtimeHub := hub.New(cfg.Hub, stores, log, nil)
	go realtimeHub.Run()

	// Initialize HTTP server
	server := httpapi.NewServer(pool, rdb, realtimeHub, pg, sessions, cfg, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening",
			"address", httpServer.Addr,
			"read_timeout", cfg.Server.ReadTimeout,
			"write_timeout", cfg.Server.WriteTimeout)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("Server error", "error", err)

	case sig := <-interrupt:
		log.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		log.Info("Shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", "error", err)

			if closeErr := httpServer.Close(); closeErr != nil {
				log.Error("Force close failed", "error", closeErr)
			}
		}

		log.Info("Stopping hub...")
		realtimeHub.Shutdown()

		log.Info("Closing database connections...")
		pool.Close()

		log.Info("Closing Redis connections...")
		if err := rdb.Close(); err != nil {
			log.Error("Failed to close Redis connection", "error", err)
		}

		log.Info("Server stopped gracefully")
	}
}
