// Package cli provides the startup steps shared by the finclient binary:
// logging, .env loading, configuration and the optional backing services.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finclient/internal/amqp"
	"finclient/internal/config"
	"finclient/internal/log"
	"finclient/internal/session"
	"finclient/internal/storage"
)

// SetupLogger initializes structured logging at level and sets it as the
// default logger.
func SetupLogger(level string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg
}

// InitTokenStore opens the configured session store. The returned close
// function is never nil.
func InitTokenStore(logger *log.Logger, cfg *config.Config) (session.TokenStore, func() error, error) {
	if cfg.SessionStore == config.SessionStoreMemory {
		logger.Info("Using in-memory session store; sign in is required after every restart")
		return session.NewMemoryTokenStore(), func() error { return nil }, nil
	}

	st, err := storage.NewSQLiteTokenStore(cfg.SessionDBPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Opened session store", "path", cfg.SessionDBPath)
	return st, st.Close, nil
}

// InitAMQP connects the mutation event publisher when AMQP_URL is set. A
// broker that cannot be reached is logged and events are disabled; the
// client works without them.
func InitAMQP(ctx context.Context, logger *log.Logger, cfg *config.Config) *amqp.Client {
	if !cfg.AMQPEnabled() {
		return nil
	}
	client, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Warn("AMQP unavailable, mutation events disabled", log.FieldError, err.Error())
		return nil
	}
	logger.Info("Publishing mutation events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has finished.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}
