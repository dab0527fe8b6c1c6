package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
	basefile "github.com/aussiebroadwan/lockstep/internal/baseline/drivers/file"
	basesqlite "github.com/aussiebroadwan/lockstep/internal/baseline/drivers/sqlite"
	httpapi "github.com/aussiebroadwan/lockstep/internal/gate/http"
	"github.com/aussiebroadwan/lockstep/internal/gate/service"
	"github.com/aussiebroadwan/lockstep/internal/gate/store"
	"github.com/aussiebroadwan/lockstep/internal/gate/store/drivers/sqlite"
	"github.com/aussiebroadwan/lockstep/internal/normalize"
	"github.com/aussiebroadwan/lockstep/pkg/cryptox"
	"github.com/aussiebroadwan/lockstep/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the gate service together: user store, baseline store,
// normalizer, services and the HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	baselines baseline.Store

	authService      *service.AuthService
	tokenService     *service.TokenService
	bootstrapService *service.BootstrapService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "lockstep-gate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Debug:   cfg.Debug,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initBaselines(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		_ = app.baselines.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	ctx := context.Background()

	if err := app.bootstrapService.Run(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	app.logger.Info("lockstep gate starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"baseline_backend", app.cfg.BaselineBackend,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the HTTP server and closes both stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down lockstep gate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.baselines.Close(); err != nil {
		app.logger.Error("error closing baseline store", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("lockstep gate stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	return nil
}

func (app *Application) initBaselines() error {
	ctx := context.Background()

	switch strings.ToLower(app.cfg.BaselineBackend) {
	case "", "file":
		app.baselines = basefile.NewStore(app.cfg.BaselineDir)
	case "sqlite":
		s, err := basesqlite.NewStore(app.cfg.BaselineDB)
		if err != nil {
			return fmt.Errorf("failed to open baseline store: %w", err)
		}
		app.baselines = s
	default:
		return fmt.Errorf("unknown baseline backend %q", app.cfg.BaselineBackend)
	}

	if err := app.baselines.EnsureNamespace(ctx); err != nil {
		return fmt.Errorf("failed to prepare baseline namespace: %w", err)
	}

	return nil
}

func (app *Application) initServices() error {
	secret, err := loadOrGenerateSecret(app.cfg.JWTSecretFile)
	if err != nil {
		return fmt.Errorf("failed to load JWT secret: %w", err)
	}

	app.tokenService = &service.TokenService{
		Secret: secret,
		Issuer: app.cfg.Issuer,
	}

	app.authService = &service.AuthService{
		Store: app.db,
		Normalizer: &normalize.Normalizer{
			Store:    app.baselines,
			MaxTime:  app.cfg.MaxTime,
			Throttle: app.cfg.Throttle,
			Logger:   app.logger,
		},
		Tokens: app.tokenService,
	}

	app.bootstrapService = &service.BootstrapService{
		Store:    app.db,
		Username: app.cfg.SeedUsername,
		Password: app.cfg.SeedPassword,
		Logger:   app.logger,
	}

	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.baselines, app.logger)
	router.AuthService = app.authService
	router.TokenService = app.tokenService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// loadOrGenerateSecret reads the HS256 signing secret from path, creating a
// random one on first start.
func loadOrGenerateSecret(path string) ([]byte, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	if raw, err := os.ReadFile(path); err == nil && len(raw) > 0 {
		return raw, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	secret := []byte(base64.RawURLEncoding.EncodeToString(raw))

	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}
