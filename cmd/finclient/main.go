package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finclient/internal/auth"
	"finclient/internal/cli"
	"finclient/internal/core"
	"finclient/internal/dashboard"
	"finclient/internal/gateway"
	apphttp "finclient/internal/http"
	"finclient/internal/log"
	"finclient/internal/session"
	"finclient/internal/store"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	tokens, closeTokens, err := cli.InitTokenStore(logger, cfg)
	if err != nil {
		logger.Error("Failed to open session store", log.FieldError, err.Error(), "path", cfg.SessionDBPath)
		os.Exit(1)
	}

	holder := session.NewHolder(tokens, logger)
	gw, err := gateway.New(gateway.Config{BaseURL: cfg.APIURL, Timeout: cfg.RequestTimeout}, holder, logger)
	if err != nil {
		logger.Error("Failed to configure backend client", log.FieldError, err.Error(), "api_url", cfg.APIURL)
		os.Exit(1)
	}

	var events dashboard.EventPublisher
	publisher := cli.InitAMQP(context.Background(), logger, cfg)
	if publisher != nil {
		events = publisher
	}

	st := store.New(logger)
	coord := dashboard.New(gw, st, holder, events, logger)
	authSvc := auth.NewService(gw, holder, coord, logger)

	// Pick up where the last run left off. The UI retries a failed load.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	signedIn, err := authSvc.Resume(startCtx)
	cancelStart()
	switch {
	case err != nil && errors.Is(err, core.ErrUnauthorized):
		logger.Info("Stored session rejected; sign in required")
	case err != nil:
		logger.Warn("Session restore incomplete", log.FieldError, err.Error(), "signed_in", signedIn)
	case signedIn:
		logger.Info("Session restored")
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:           cfg.Addr(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, authSvc, coord, st, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	_, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err.Error())
			}
		}
		if err := closeTokens(); err != nil {
			logger.Warn("Session store close error", log.FieldError, err.Error())
		}
	})

	logger.Info("Starting finclient", "addr", cfg.Addr(), "api_url", cfg.APIURL, "session_store", cfg.SessionStore)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "addr", cfg.Addr())
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
