package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healermy/portal/internal/config"
	"github.com/healermy/portal/internal/domain/account"
	"github.com/healermy/portal/internal/domain/directory"
	"github.com/healermy/portal/internal/domain/notifications"
	"github.com/healermy/portal/internal/domain/scheduling"
	"github.com/healermy/portal/internal/platform/auth"
	"github.com/healermy/portal/internal/platform/db"
	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/middleware"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/internal/platform/telemetry"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

const (
	requestTimeout        = 30 * time.Second
	requestBodyLimit      = "256K"
	healthMetricsInterval = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "HealerMy patient portal backend",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(genkeyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// portalMigrations lists the schema the portal owns. The clinical data all
// lives upstream; only the notification overlay needs a table.
func portalMigrations() []db.Migration {
	return []db.Migration{
		{Version: 1, Name: "notification_state", SQL: notifications.MigrationNotificationState},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the overlay store schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set; the in-memory overlay store needs no migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, portalMigrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set; the in-memory overlay store needs no migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, portalMigrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-30s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ------------------------------ ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-30s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a fresh session master secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			fmt.Println(secret)
			return nil
		},
	}
}

// randomSecret returns 32 random bytes encoded for use as SESSION_SECRET.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	ctx := context.Background()

	// Session codec
	secret := cfg.SessionSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to generate ephemeral secret")
		}
		logger.Warn().Msg("SESSION_SECRET is not set; using an ephemeral key, sessions will not survive a restart")
	}
	key, err := session.DeriveKey(secret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to derive session key")
	}
	codec, err := session.NewCodec(key, cfg.SessionKeyVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session codec")
	}
	if cfg.SessionSecretPrevious != "" {
		prevKey, err := session.DeriveKey(cfg.SessionSecretPrevious)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to derive previous session key")
		}
		if err := codec.AddPreviousKey(prevKey, cfg.SessionKeyVersion-1); err != nil {
			logger.Fatal().Err(err).Msg("failed to register previous session key")
		}
	}

	// OIDC relying party. Without an issuer the login endpoints answer 503,
	// which keeps local development against a proxy-managed session viable.
	var flow account.LoginFlow
	var rp *auth.RelyingParty
	if cfg.OIDCIssuer != "" {
		redirectURL := cfg.OIDCRedirectURL
		if redirectURL == "" {
			redirectURL = strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/auth/callback"
		}
		rp, err = auth.NewRelyingParty(ctx, auth.RPConfig{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       cfg.OIDCScopes,
			FHIRBaseURL:  cfg.FHIRBaseURL,
			SessionTTL:   time.Duration(cfg.SessionTTLMinutes) * time.Minute,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure the identity provider")
		}
		flow = rp
	} else {
		logger.Warn().Msg("OIDC_ISSUER is not set; login endpoints are disabled")
	}

	// Proxy-injected bearer sessions
	var verifier session.TokenVerifier
	if cfg.TrustProxyHeaders {
		jwksURL := cfg.AuthJWKSURL
		if jwksURL == "" && rp != nil {
			jwksURL = rp.JWKSURI()
		}
		bv, err := auth.NewBearerVerifier(auth.VerifierConfig{
			JWKSURL:     jwksURL,
			Issuer:      cfg.OIDCIssuer,
			Audience:    cfg.AuthAudience,
			FHIRBaseURL: cfg.FHIRBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure the bearer verifier")
		}
		verifier = bv
		logger.Info().Msg("proxy bearer sessions enabled")
	}

	reader := session.NewReader(session.ReaderConfig{
		Codec:    codec,
		Verifier: verifier,
		Logger:   logger,
	})

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "portal-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	defer tp.Shutdown(ctx)

	// Upstream FHIR client
	fhirClient := fhir.NewClient(fhir.ClientConfig{
		Timeout:  time.Duration(cfg.FHIRTimeoutSeconds) * time.Second,
		Logger:   logger,
		Recorder: tp,
	})

	// Overlay store: Postgres when DATABASE_URL is set, in-memory otherwise.
	var store notifications.StateStore
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		store = notifications.NewPGStateStoreFromPool(pool)
		logger.Info().Msg("overlay store: postgres")
	} else {
		store = notifications.NewMemoryStateStore()
		logger.Info().Msg("overlay store: in-memory")
	}

	// Domain services
	notifSvc := notifications.NewService(
		notifications.NewFHIRRepository(fhirClient),
		store,
		notifications.NewTemplateEngine(),
		logger,
	)
	schedSvc := scheduling.NewService(scheduling.NewFHIRRepository(fhirClient), notifSvc, logger)
	dirSvc := directory.NewService(directory.NewFHIRRepository(fhirClient), logger)

	accountHandler := account.NewHandler(account.Config{
		Reader: reader,
		Codec:  codec,
		Flow:   flow,
		Cookie: session.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.IsProduction(),
			TTL:    time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		},
		Logger: logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.BodyLimit(requestBodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Public endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	accountHandler.RegisterAuthRoutes(e.Group("/auth"))

	// Rate limiting covers both API groups through one shared store.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimit := middleware.RateLimit(rateLimitCfg)

	// Session endpoints answer for absent and expired sessions themselves,
	// so they stay off the session middleware.
	sessionAPI := e.Group("/api/v1")
	sessionAPI.Use(rateLimit)
	accountHandler.RegisterSessionRoutes(sessionAPI)

	// Everything else under /api/v1 requires a live session. The audit
	// middleware runs after the session middleware so entries carry the
	// authenticated subject.
	api := e.Group("/api/v1")
	api.Use(rateLimit)
	api.Use(reader.Middleware())
	api.Use(middleware.Audit(logger))
	notifications.NewHandler(notifSvc).RegisterRoutes(api)
	scheduling.NewHandler(schedSvc).RegisterRoutes(api)
	directory.NewHandler(dirSvc).RegisterRoutes(api)

	// Periodic gauges: pool usage and overlay size.
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go recordHealthMetrics(metricsCtx, tp.HealthMetrics(), pool, store, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// recordHealthMetrics periodically exports the connection pool and overlay
// store sizes as gauges.
func recordHealthMetrics(ctx context.Context, hm *telemetry.HealthMetricsRecorder, pool *pgxpool.Pool, store notifications.StateStore, logger zerolog.Logger) {
	ticker := time.NewTicker(healthMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool != nil {
				stats := db.GetPoolStats(pool)
				hm.SetDBPoolActive(int64(stats.AcquiredConns))
				hm.SetDBPoolIdle(int64(stats.IdleConns))
			}
			count, err := store.Count(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("overlay store count failed")
				continue
			}
			hm.SetNotificationStateEntries(int64(count))
		}
	}
}
