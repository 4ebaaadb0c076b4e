// Package integration wires the client, coordinator, notification hub and
// HTTP API together and owns their lifecycle.
package integration

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rpliva/hacs-cal-eu/internal/api"
	"github.com/rpliva/hacs-cal-eu/internal/caleu"
	"github.com/rpliva/hacs-cal-eu/internal/clock"
	"github.com/rpliva/hacs-cal-eu/internal/config"
	"github.com/rpliva/hacs-cal-eu/internal/coordinator"
	"github.com/rpliva/hacs-cal-eu/internal/notify"

	"github.com/avast/retry-go/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deps are the collaborators Setup does not build itself. Zero values
// select production defaults.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient caleu.HTTPDoer
	Clock      clock.Clock
}

// Integration is one configured, running instance
type Integration struct {
	Client      *caleu.Client
	Coordinator *coordinator.Coordinator
	Hub         *notify.Hub
	Server      *api.Server

	subscription  coordinator.Subscription
	serverStarted bool
	logger        *zap.Logger
}

// Setup performs the first refresh and starts polling. Transient failures
// of the first refresh are retried; an authentication failure is returned
// immediately. On error nothing is left running.
func Setup(ctx context.Context, cfg config.Config, deps Deps) (*Integration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	client := caleu.NewClient(caleu.ClientConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		HTTPClient:        httpClient,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Clock:             clk,
	}, logger)

	coord := coordinator.New(client, clk, cfg.PollInterval, logger)
	hub := notify.NewHub(clk, logger)
	sub := coord.Subscribe(hub.Publish)

	in := &Integration{
		Client:       client,
		Coordinator:  coord,
		Hub:          hub,
		subscription: sub,
		logger:       logger.Named("integration"),
	}

	if err := in.firstRefresh(ctx, cfg.SetupRetry); err != nil {
		sub.Unsubscribe()
		if closeErr := hub.Close(); closeErr != nil {
			in.logger.Warn("Failed to close hub", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to set up cal.eu integration: %w", err)
	}

	if err := coord.Start(); err != nil {
		sub.Unsubscribe()
		hub.Close()
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	in.Server = api.NewServer(api.ServerConfig{
		Coordinator:      coord,
		Events:           hub,
		CalendarStatuses: cfg.Statuses(),
		Port:             cfg.ListenPort,
	}, logger)

	snap := coord.CurrentSnapshot()
	in.logger.Info("cal.eu integration ready",
		zap.Int("bookings", len(snap.Bookings)),
		zap.Int("schedules", len(snap.Schedules)),
		zap.Duration("poll_interval", coord.Interval()))
	return in, nil
}

func (in *Integration) firstRefresh(ctx context.Context, rc config.RetryConfig) error {
	attempts := rc.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			_, err := in.Coordinator.Poll(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(rc.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !caleu.IsAuthenticationError(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			in.logger.Warn("First refresh failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", attempts),
				zap.Error(err))
		}),
	)
}

// StartServer begins serving the HTTP API
func (in *Integration) StartServer() error {
	if err := in.Server.Start(); err != nil {
		return err
	}
	in.serverStarted = true
	return nil
}

// Unload stops polling, disconnects notification clients and stops the
// HTTP server. Every step runs even if an earlier one fails.
func (in *Integration) Unload() error {
	in.logger.Info("Unloading cal.eu integration")

	in.Coordinator.Stop()
	in.subscription.Unsubscribe()

	var err error
	if in.serverStarted {
		err = multierr.Append(err, in.Server.Stop())
		in.serverStarted = false
	}
	err = multierr.Append(err, in.Hub.Close())
	return err
}
