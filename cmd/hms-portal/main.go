package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/admin"
	"github.com/hms/hms/internal/domain/dashboard"
	"github.com/hms/hms/internal/domain/healthmetrics"
	"github.com/hms/hms/internal/domain/messaging"
	"github.com/hms/hms/internal/domain/notifications"
	"github.com/hms/hms/internal/domain/profile"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/domain/telemedicine"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/backend"
	"github.com/hms/hms/internal/platform/bootstrap"
	"github.com/hms/hms/internal/platform/credstore"
	"github.com/hms/hms/internal/platform/identity"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/pages"
	"github.com/hms/hms/internal/platform/session"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "hms-portal",
		Short:         "Hospital portal client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(passwordCmd())
	rootCmd.AddCommand(visitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errorText(err))
		os.Exit(1)
	}
}

// errorText prefers the user-facing message of auth errors.
func errorText(err error) string {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return auth.Message(err)
	}
	return err.Error()
}

// newLogger writes console output in development and JSON otherwise.
// Production drops debug records.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.DebugLevel
	if cfg.IsProduction() {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// app holds the auth core every command shares.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Provider
	creds   credstore.Store
	store   *session.Store
	idp     identity.Service
	gw      *auth.Gateway
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	creds, err := credstore.Open(ctx, credstore.Options{
		Backend:      cfg.CredentialStore,
		FilePath:     cfg.CredentialFile,
		Key:          cfg.CredentialKey,
		RedisURL:     cfg.RedisURL,
		DatabaseURL:  cfg.DatabaseURL,
		PollInterval: cfg.SessionPollInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	idp, err := identity.NewKratos(identity.KratosConfig{
		PublicURL:        cfg.IdentityURL,
		TokenizeTemplate: cfg.IdentityTokenizeTemplate,
		Timeout:          cfg.IdentityTimeout,
	}, logger)
	if err != nil {
		creds.Close()
		return nil, err
	}

	metrics := telemetry.NewProvider()
	store := session.NewStore(creds)
	gw := auth.NewGateway(idp, store, logger,
		auth.WithSignInLimit(rate.Limit(cfg.SignInRate), cfg.SignInBurst),
		auth.WithRecorder(metrics),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		creds:   creds,
		store:   store,
		idp:     idp,
		gw:      gw,
	}, nil
}

// bootstrap settles the session from the persisted credential and keeps it
// in sync until the subscription is closed.
func (a *app) bootstrap(ctx context.Context) (*bootstrap.Subscription, error) {
	b := bootstrap.New(a.idp, a.store, a.creds, a.logger,
		bootstrap.WithPollInterval(a.cfg.SessionPollInterval),
		bootstrap.WithValidateTimeout(a.cfg.IdentityTimeout),
		bootstrap.WithRecorder(a.metrics),
	)
	return b.Start(ctx)
}

func (a *app) Close() error {
	return a.creds.Close()
}

// withApp loads config, builds the app and runs fn with it.
func withApp(ctx context.Context, fn func(*app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the portal to the local browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), runServer)
		},
	}
}

func runServer(a *app) error {
	logger := a.logger
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := a.bootstrap(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	logger.Info().Str("status", a.store.Get().Status.String()).Msg("session settled")

	e, err := newServer(ctx, a)
	if err != nil {
		return err
	}

	go func() {
		logger.Info().Str("addr", a.cfg.Addr()).Msg("portal listening")
		if err := e.Start(a.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the HTTP surface. Background work it starts stops with
// ctx.
func newServer(ctx context.Context, a *app) (*echo.Echo, error) {
	cfg, logger := a.cfg, a.logger

	api, err := backend.New(backend.Config{
		BaseURL:   cfg.APIURL,
		Timeout:   cfg.RequestTimeout,
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
	}, logger, backend.WithRecorder(a.metrics))
	if err != nil {
		return nil, err
	}
	api.PurgeOnIdentityChange(ctx, a.store)

	renderer, err := pages.NewRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = pages.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(a.metrics.MetricsMiddleware())
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(auth.NewGuard(a.store, a.metrics).Routes())

	hub := websocket.NewHub(logger, a.metrics)
	hub.Follow(ctx, a.store)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"session": a.store.Get().Status.String(),
			"tabs":    hub.ClientCount(),
		})
	})
	e.GET("/metrics", a.metrics.PrometheusHandler())

	pages.NewHandler(a.gw, a.store, logger).RegisterRoutes(e)
	websocket.NewHandler(hub, a.store).RegisterRoutes(e)

	// Views
	views := e.Group("")

	schedSvc := scheduling.NewService(scheduling.NewAppointmentAPI(api), scheduling.NewDoctorAPI(api))
	metricsSvc := healthmetrics.NewService(healthmetrics.NewAPIRepo(api))
	msgSvc := messaging.NewService(messaging.NewAPIRepo(api))
	noteSvc := notifications.NewService(notifications.NewAPIRepo(api))

	dashboard.NewHandler(dashboard.NewService(dashboard.Sources{
		Appointments:  schedSvc,
		Notifications: noteSvc,
		Messages:      msgSvc,
		Metrics:       metricsSvc,
	}, logger)).RegisterRoutes(views)
	scheduling.NewHandler(schedSvc).RegisterRoutes(views)
	healthmetrics.NewHandler(metricsSvc).RegisterRoutes(views)
	messaging.NewHandler(msgSvc).RegisterRoutes(views)
	notifications.NewHandler(noteSvc).RegisterRoutes(views)
	telemedicine.NewHandler(schedSvc).RegisterRoutes(views)
	profile.NewHandler().RegisterRoutes(views)
	admin.NewHandler(admin.NewService(admin.NewAPIRepo(api))).RegisterRoutes(views)

	return e, nil
}
