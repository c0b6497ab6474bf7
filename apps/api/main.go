package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"safecitymap/libs/mailer"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	toastDuration            = 3 * time.Second
	submitToastDuration      = 4 * time.Second
	geocodeDebounceDefault   = 400 * time.Millisecond
	geocodeLookupTimeout     = 5 * time.Second
	geocoderHTTPTimeout      = 10 * time.Second
	sessionCookieName        = "safecity_session"
	sessionCookieMaxAge      = 30 * 24 * time.Hour
	sessionIdleTTLDefault    = 12 * time.Hour
	workspaceSweepInterval   = 5 * time.Minute
	streamPingInterval       = 30 * time.Second
	streamWriteTimeout       = 10 * time.Second
	corsMaxAge               = 12 * time.Hour
	devCORSOriginLocalhost   = "http://localhost:5173"
	devCORSOriginLoopback    = "http://127.0.0.1:5173"
	trustedProxyLoopbackIPv4 = "127.0.0.1"
	trustedProxyLoopbackIPv6 = "::1"
)

type Config struct {
	Addr                 string
	Env                  string
	PublicBaseURL        string
	AppSigningSecret     string
	AdminPasswordHash    string
	DatabaseURL          string
	SeedReportsFile      string
	GeocoderProvider     string
	YandexGeocoderAPIKey string
	MapboxAccessToken    string
	GeocodeDebounce      time.Duration
	SessionIdleTTL       time.Duration
	PDFFontPath          string
	ModerationEmailTo    []string
	ResendAPIKey         string
	MailerFromAddresses  map[string]string
}

type App struct {
	cfg   *Config
	log   *slog.Logger
	clock clock.Clock

	geocoder Geocoder
	mailer   *mailer.Mailer
	auditor  ModerationAuditor
	metrics  *appMetrics

	seeds      []Report
	workspaces *WorkspaceRegistry
	upgrader   websocket.Upgrader

	sessionLimiter *ipRateLimiter
	reportLimiter  *ipRateLimiter
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func main() {
	if err := loadDotEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	app := newApp(cfg, logger, clock.New())

	seeds, err := loadSeedReports(cfg.SeedReportsFile)
	if err != nil {
		panic(err)
	}
	app.seeds = seeds

	app.geocoder = newGeocoder(cfg, &http.Client{Timeout: geocoderHTTPTimeout})

	var mailProvider mailer.Provider
	if cfg.ResendAPIKey != "" {
		mailProvider = mailer.NewResendProvider(cfg.ResendAPIKey)
		logger.Info("mailer initialized", "provider", "resend")
	} else {
		mailProvider = mailer.NewLogProvider(logger)
		logger.Info("mailer initialized", "provider", "log")
	}
	app.mailer = mailer.New(mailProvider, cfg.MailerFromAddresses[mailProvider.Name()])

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			panic(err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			panic(err)
		}
		if err := runMigrations(ctx, db, logger); err != nil {
			panic(err)
		}
		app.auditor = &sqlModerationAuditor{db: db}
		logger.Info("moderation audit initialized", "backend", "postgres")
	} else {
		logger.Info("moderation audit initialized", "backend", "log")
	}

	logger.Info(
		"runtime configuration",
		"env", cfg.Env,
		"addr", cfg.Addr,
		"geocoder_provider", valueOrDefaultString(cfg.GeocoderProvider, "auto"),
		"geocode_debounce_ms", cfg.GeocodeDebounce.Milliseconds(),
		"seed_reports", len(seeds),
	)

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	app.workspaces.StartSweeper(sweepCtx, workspaceSweepInterval, func(count int) {
		logger.Info("pruned idle workspaces", "count", count)
	})
	defer app.workspaces.CloseAll()
	app.startRateLimiterCleanup(sweepCtx, rateLimiterCleanupInterval)

	r := app.router()
	if err := r.SetTrustedProxies([]string{trustedProxyLoopbackIPv4, trustedProxyLoopbackIPv6}); err != nil {
		panic(err)
	}

	app.log.Info("starting gin API", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		panic(err)
	}
}

// newApp builds an App with in-memory defaults: log-backed audit, no
// geocoder, no mailer, no seed reports. main replaces what is configured.
func newApp(cfg *Config, logger *slog.Logger, clk clock.Clock) *App {
	app := &App{
		cfg:     cfg,
		log:     logger,
		clock:   clk,
		auditor: &logModerationAuditor{log: logger},
	}
	app.workspaces = NewWorkspaceRegistry(clk, cfg.SessionIdleTTL, app.newWorkspace)
	app.sessionLimiter = newIPRateLimiter(clk, sessionRateLimitRequests, sessionRateLimitWindow)
	app.reportLimiter = newIPRateLimiter(clk, reportRateLimitRequests, reportRateLimitWindow)
	app.metrics = newAppMetrics(func() float64 { return float64(app.workspaces.Len()) })
	app.upgrader = app.newStreamUpgrader()
	return app
}

func (a *App) newWorkspace(id string) *Workspace {
	var lookup reverseGeocodeFunc
	if a.geocoder != nil {
		lookup = a.reverseGeocode
	}
	return NewWorkspace(WorkspaceOptions{
		ID:              id,
		Clock:           a.clock,
		Seed:            a.seeds,
		GeocodeDebounce: a.cfg.GeocodeDebounce,
		GeocodeTimeout:  geocodeLookupTimeout,
		ReverseGeocode:  lookup,
	})
}

func (a *App) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.loggingMiddleware())
	r.Use(a.corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", a.metrics.handler())

	api := r.Group("/api/v1")
	api.Use(a.attachWorkspace())
	{
		api.GET("/session", a.sessionHandler)
		api.POST("/view", a.viewHandler)
		api.GET("/categories", a.categoriesHandler)
		api.GET("/notification", a.notificationHandler)
		api.GET("/stream", a.streamHandler)

		auth := api.Group("/auth")
		{
			auth.POST("/login", a.loginHandler)
			auth.POST("/logout", a.logoutHandler)
		}

		signedIn := api.Group("")
		signedIn.Use(a.requireSignedIn())
		{
			signedIn.GET("/filters", a.filtersHandler)
			signedIn.POST("/filters/toggle", a.toggleFilterHandler)
			signedIn.GET("/reports", a.reportsHandler)
			signedIn.GET("/reports/mine", a.myReportsHandler)
			signedIn.POST("/reports", a.submitReportHandler)
			signedIn.GET("/draft", a.draftHandler)
			signedIn.PUT("/draft", a.updateDraftHandler)
			signedIn.POST("/draft/typing", a.typingHandler)
			signedIn.POST("/map/center", a.centerHandler)
			signedIn.GET("/dashboard", a.dashboardHandler)
		}

		admin := api.Group("/admin")
		admin.Use(a.requireSignedIn(), a.requireRole(RoleAdmin))
		{
			admin.GET("/reports", a.adminReportsHandler)
			admin.POST("/reports/:id/status", a.adminUpdateStatusHandler)
			admin.DELETE("/reports/:id", a.adminDeleteReportHandler)
			admin.GET("/exports/reports.pdf", a.adminExportPDFHandler)
			admin.GET("/exports/reports.xlsx", a.adminExportXLSXHandler)
		}
	}

	return r
}

func loadConfig() (*Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		host := valueFromEnvKeys("PGHOST", "POSTGRES_HOST")
		if host == "" {
			host = "127.0.0.1"
		}
		port := valueFromEnvKeys("PGPORT", "POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		dbname := valueFromEnvKeys("PGDATABASE", "POSTGRES_DB")
		user := valueFromEnvKeys("PGUSER", "POSTGRES_USER")
		password := valueFromEnvKeys("PGPASSWORD", "POSTGRES_PASSWORD")
		sslmode := valueFromEnvKeys("PGSSLMODE", "POSTGRES_SSLMODE")
		if sslmode == "" {
			sslmode = "disable"
		}
		if dbname != "" && user != "" {
			databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
		}
	}

	secret := strings.TrimSpace(os.Getenv("APP_SIGNING_SECRET"))
	if len(secret) < 16 {
		return nil, fmt.Errorf("APP_SIGNING_SECRET must be at least 16 characters")
	}

	publicBase := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	if publicBase == "" {
		publicBase = "http://localhost:5173"
	}
	publicBase = strings.TrimRight(publicBase, "/")

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("GEOCODER_PROVIDER")))
	switch provider {
	case "", "auto", "yandex", "mapbox", "nominatim":
	default:
		return nil, fmt.Errorf("GEOCODER_PROVIDER must be one of yandex, mapbox, nominatim, auto")
	}

	cfg := &Config{
		Addr:                 valueOrDefault("GIN_ADDR", ":8080"),
		Env:                  env,
		PublicBaseURL:        publicBase,
		AppSigningSecret:     secret,
		AdminPasswordHash:    strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")),
		DatabaseURL:          databaseURL,
		SeedReportsFile:      strings.TrimSpace(os.Getenv("SEED_REPORTS_FILE")),
		GeocoderProvider:     provider,
		YandexGeocoderAPIKey: strings.TrimSpace(os.Getenv("YANDEX_GEOCODER_API_KEY")),
		MapboxAccessToken:    strings.TrimSpace(os.Getenv("MAPBOX_ACCESS_TOKEN")),
		PDFFontPath:          strings.TrimSpace(os.Getenv("PDF_FONT_PATH")),
		ModerationEmailTo:    mailer.SplitRecipients(os.Getenv("MODERATION_EMAIL_TO")),
		ResendAPIKey:         strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		MailerFromAddresses: map[string]string{
			"resend": valueOrDefault("MAILER_FROM_ADDRESS_RESEND", "noreply@mail.safecitymap.ru"),
			"log":    valueOrDefault("MAILER_FROM_ADDRESS_LOG", "noreply@safecitymap.local"),
		},
	}

	if cfg.GeocoderProvider == "yandex" && cfg.YandexGeocoderAPIKey == "" {
		return nil, fmt.Errorf("YANDEX_GEOCODER_API_KEY is required when GEOCODER_PROVIDER=yandex")
	}
	if cfg.GeocoderProvider == "mapbox" && cfg.MapboxAccessToken == "" {
		return nil, fmt.Errorf("MAPBOX_ACCESS_TOKEN is required when GEOCODER_PROVIDER=mapbox")
	}

	var err error
	if cfg.GeocodeDebounce, err = durationFromEnv("GEOCODE_DEBOUNCE", geocodeDebounceDefault); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTTL, err = durationFromEnv("SESSION_IDLE_TTL", sessionIdleTTLDefault); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration", key)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func loadDotEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), "\"")
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func valueFromEnvKeys(keys ...string) string {
	for _, key := range keys {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func valueOrDefaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (a *App) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		)
	}
}

func (a *App) corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  a.isAllowedCORSOrigin,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

func (a *App) isAllowedCORSOrigin(origin string) bool {
	if origin == "" || a.cfg == nil {
		return false
	}
	if a.cfg.PublicBaseURL != "" && origin == a.cfg.PublicBaseURL {
		return true
	}
	if !strings.EqualFold(a.cfg.Env, "development") {
		return false
	}
	return origin == devCORSOriginLocalhost || origin == devCORSOriginLoopback
}

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Code, "message": apiErr.Message})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
