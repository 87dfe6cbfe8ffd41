// Package app wires configuration, storage, cache, and HTTP routes into a
// runnable handler.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"contacts-api/internal/auth"
	"contacts-api/internal/cache"
	"contacts-api/internal/contact"
	"contacts-api/internal/db"
	"contacts-api/internal/maintenance"
	"contacts-api/internal/media"
	"contacts-api/internal/observability"
	"contacts-api/internal/ratelimit"
	"contacts-api/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var sharedCache cache.Cache
	var closeCache func() error
	if redisURL := strings.TrimSpace(os.Getenv("REDIS_URL")); redisURL != "" {
		redisCache, err := cache.NewRedis(ctx, redisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		sharedCache = redisCache
		closeCache = redisCache.Close
	} else {
		// Single-process fallback; fine for local runs, not for a fleet.
		logger.Info("redis_not_configured", map[string]any{"cache": "memory"})
		sharedCache = cache.NewMemory()
	}

	tokens := auth.NewTokenService(jwtSecret, sharedCache)
	tokens.WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("VERIFY_TOKEN_TTL_HOURS", 24),
		envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 30),
	)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, tokens, auth.NewLogNotifier(logger), sharedCache)
	authService.WithSecurityConfig(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	authHandler := auth.NewHandler(authService)

	guard := auth.NewGuard(
		tokens,
		authRepo,
		sharedCache,
		envSecondsOrDefault("USER_CACHE_TTL_SECONDS", 3600),
		logger,
	)

	limiter := ratelimit.New(
		sharedCache,
		envIntOrDefault("RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	contactRepo := contact.NewRepository(database)
	contactHandler := contact.NewHandler(
		contactRepo,
		sharedCache,
		envSecondsOrDefault("CONTACT_CACHE_TTL_SECONDS", 3600),
		logger,
	)

	var uploader user.AvatarUploader
	if cloudinaryURL := strings.TrimSpace(os.Getenv("CLOUDINARY_URL")); cloudinaryURL != "" {
		cloudinaryClient, err := media.NewCloudinary(cloudinaryURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		uploader = cloudinaryClient
	}
	userHandler := user.NewHandler(authRepo, uploader, sharedCache, logger)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_REFRESH_TOKEN_RETENTION_DAYS", 14),
		envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	guarded := func(h http.HandlerFunc) http.Handler {
		return guard.Middleware(h)
	}
	limited := func(endpoint string, h http.Handler) http.Handler {
		return limiter.Middleware(endpoint, logger, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/register", limited("register", http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/auth/login", limited("login", http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.Handle("POST /api/auth/logout", guarded(authHandler.Logout))
	mux.HandleFunc("GET /api/auth/verify/{token}", authHandler.VerifyEmail)
	mux.Handle("POST /api/auth/password-reset/request", limited("password_reset", http.HandlerFunc(authHandler.RequestPasswordReset)))
	mux.HandleFunc("POST /api/auth/password-reset/confirm", authHandler.ConfirmPasswordReset)

	mux.Handle("GET /api/users/me", guard.Middleware(limited("me", http.HandlerFunc(userHandler.Me))))
	mux.Handle("PATCH /api/users/avatar", guarded(userHandler.UpdateAvatar))

	mux.Handle("GET /api/contacts", guarded(contactHandler.List))
	mux.Handle("POST /api/contacts", guarded(contactHandler.Create))
	mux.Handle("GET /api/contacts/birthdays/upcoming", guarded(contactHandler.UpcomingBirthdays))
	mux.Handle("GET /api/contacts/{id}", guarded(contactHandler.Get))
	mux.Handle("PUT /api/contacts/{id}", guarded(contactHandler.Update))
	mux.Handle("DELETE /api/contacts/{id}", guarded(contactHandler.Delete))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			if closeCache != nil {
				_ = closeCache()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
