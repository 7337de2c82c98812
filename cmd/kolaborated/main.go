// Command kolaborated runs the collaborative text server: one HTTP
// process serving WebSocket-connected editors, each document backed by
// internal/session and (optionally) persisted to SQLite.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shiv248/kolaborate/internal/storage"
	"github.com/shiv248/kolaborate/pkg/database"
	"github.com/shiv248/kolaborate/pkg/logger"
	"github.com/shiv248/kolaborate/pkg/transport"
)

// Config holds all server configuration, loaded from the environment.
type Config struct {
	Port            string
	SQLiteURI       string
	ExpiryDays      int
	CleanupInterval time.Duration
}

func main() {
	logger.Init()

	config := Config{
		Port:            getEnv("PORT", "3030"),
		SQLiteURI:       os.Getenv("SQLITE_URI"),
		ExpiryDays:      getEnvInt("EXPIRY_DAYS", 7),
		CleanupInterval: time.Duration(getEnvInt("CLEANUP_INTERVAL_HOURS", 1)) * time.Hour,
	}

	logger.Info("starting kolaborated")
	logger.Info("port: %s", config.Port)
	logger.Info("document expiry: %d days", config.ExpiryDays)

	var store *storage.Store
	if config.SQLiteURI != "" {
		logger.Info("database: %s", config.SQLiteURI)
		db, err := database.New(config.SQLiteURI)
		if err != nil {
			log.Fatalf("kolaborated: open database: %v", err)
		}
		defer db.Close()
		store = storage.New(db.DB())
	} else {
		logger.Info("database: disabled (in-memory only)")
	}

	srv := transport.NewServer(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.StartCleaner(ctx, time.Duration(config.ExpiryDays)*24*time.Hour)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown: %v", err)
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
