package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/config"
	"github.com/rpliva/hacs-cal-eu/internal/integration"
	"github.com/rpliva/hacs-cal-eu/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until the config tells us where to log
	bootstrap, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		bootstrap.Warn("No .env file found, using environment variables")
	}

	cfg, err := config.NewLoader(os.Getenv("CALEU_CONFIG"), bootstrap).Load()
	if err != nil {
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}
	bootstrap.Sync()

	logger, closeLog, err := logging.New(logging.Options{
		Level: os.Getenv("LOG_LEVEL"),
		File:  cfg.LogFile,
	})
	if err != nil {
		bootstrap.Fatal("Failed to create logger", zap.Error(err))
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "validate" {
		code := validate(ctx, cfg, logger)
		closeLog()
		os.Exit(code)
	}

	logger.Info("Starting cal.eu booking coordinator",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval))

	in, err := integration.Setup(ctx, cfg, integration.Deps{Logger: logger})
	if err != nil {
		if caleu.IsAuthenticationError(err) {
			logger.Fatal("cal.eu rejected the API key", zap.Error(err))
		}
		logger.Fatal("Failed to start integration", zap.Error(err))
	}

	if err := in.StartServer(); err != nil {
		logger.Fatal("Failed to start HTTP API server", zap.Error(err))
	}

	logger.Info("Application running. Press Ctrl+C to exit.",
		zap.Int("listen_port", cfg.ListenPort))

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	if err := in.Unload(); err != nil {
		logger.Error("Errors during shutdown", zap.Error(err))
	}
}

// validate checks the API key the way the setup form does and returns the exit code
func validate(ctx context.Context, cfg config.Config, logger *zap.Logger) int {
	client := caleu.NewClient(caleu.ClientConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	}, logger)

	err := client.ValidateAPIKey(ctx)
	switch {
	case err == nil:
		logger.Info("API key is valid")
		return 0
	case errors.Is(err, caleu.ErrInvalidAuth):
		logger.Error("API key is invalid")
		return 2
	case errors.Is(err, caleu.ErrCannotConnect):
		logger.Error("Cannot connect to cal.eu", zap.Error(err))
		return 3
	default:
		logger.Error("Validation failed", zap.Error(err))
		return 1
	}
}
