// Package extension provides the Forge extension adapter for Ingest.
//
// It implements the forge.Extension interface to integrate the ingestion
// lifecycle manager into a Forge application with automatic dependency
// discovery, route registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ingest" or "ingest" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/ingest/api"
	"github.com/xraph/ingest/backoff"
	"github.com/xraph/ingest/ext"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/lifecycle"
	"github.com/xraph/ingest/schedule"
	"github.com/xraph/ingest/store/memory"
	"github.com/xraph/ingest/worker"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "ingest"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Ingestion job lifecycle manager with external worker dispatch and webhook reconciliation"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Ingest as a Forge extension. It implements the
// forge.Extension interface so Ingest can be mounted into any Forge app.
type Extension struct {
	*forge.BaseExtension

	config         Config
	store          job.Store
	mgr            *lifecycle.Manager
	apiHandler     *api.API
	scheduler      *schedule.Scheduler
	logger         *slog.Logger
	dispatcherOpts []worker.Option
	exts           []ext.Extension
	bo             backoff.Strategy
}

// New creates an Ingest Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the underlying lifecycle manager.
// This is nil until Register is called.
func (e *Extension) Manager() *lifecycle.Manager { return e.mgr }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// Scheduler returns the attached scheduler, or nil if none is configured.
func (e *Extension) Scheduler() *schedule.Scheduler { return e.scheduler }

// Register implements [forge.Extension]. It builds the worker dispatcher
// and lifecycle manager, and optionally registers HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(fapp); err != nil {
		return err
	}

	// Register the manager in the DI container so other extensions can use it.
	if err := vessel.Provide(fapp.Container(), func() (*lifecycle.Manager, error) {
		return e.mgr, nil
	}); err != nil {
		return fmt.Errorf("ingest: register manager in container: %w", err)
	}

	return nil
}

// init builds the dispatcher, manager, and API handler.
func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	if e.store == nil {
		e.store = memory.New()
	}

	dispOpts := make([]worker.Option, 0, len(e.dispatcherOpts)+1)
	dispOpts = append(dispOpts, worker.WithLogger(logger))
	dispOpts = append(dispOpts, e.dispatcherOpts...)
	dispatcher := worker.NewDispatcher(e.config.Worker, dispOpts...)

	boCount := 0
	if e.bo != nil {
		boCount = 1
	}
	mgrOpts := make([]lifecycle.Option, 0, len(e.exts)+boCount+1)
	mgrOpts = append(mgrOpts, lifecycle.WithLogger(logger))
	for _, x := range e.exts {
		mgrOpts = append(mgrOpts, lifecycle.WithExtension(x))
	}
	if e.bo != nil {
		mgrOpts = append(mgrOpts, lifecycle.WithBackoff(e.bo))
	}

	mgr, err := lifecycle.NewManager(e.store, dispatcher, mgrOpts...)
	if err != nil {
		return fmt.Errorf("ingest: create manager: %w", err)
	}
	e.mgr = mgr

	apiOpts := make([]api.Option, 0, 2)
	if e.config.BasePath != "" {
		apiOpts = append(apiOpts, api.WithBasePath(e.config.BasePath))
	}
	if e.config.WebhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhookSecret(e.config.WebhookSecret))
	}
	e.apiHandler = api.New(e.mgr, fapp.Router(), apiOpts...)

	// Register HTTP routes unless disabled.
	if !e.config.DisableRoutes {
		e.apiHandler.RegisterRoutes(fapp.Router())
	}

	return nil
}

// Start runs auto-migration if enabled and starts the scheduler if one
// is attached.
func (e *Extension) Start(ctx context.Context) error {
	if e.mgr == nil {
		return errors.New("ingest: extension not initialized")
	}

	// Run migrations unless disabled.
	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("ingest: migration failed: %w", err)
		}
	}

	if e.scheduler != nil {
		if err := e.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the scheduler.
func (e *Extension) Stop(ctx context.Context) error {
	var err error
	if e.scheduler != nil {
		err = e.scheduler.Stop(ctx)
	}
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.mgr == nil {
		return errors.New("ingest: extension not initialized")
	}
	if e.store == nil {
		return errors.New("ingest: no store configured")
	}
	return e.store.Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
// Convenience for standalone use outside Forge.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all ingestion API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) {
	if e.apiHandler != nil {
		e.apiHandler.RegisterRoutes(router)
	}
}

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ingest: configuration is required but not found in config files; " +
				"ensure 'extensions.ingest' or 'ingest' key exists in your config")
		}

		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ingest: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("worker_base_url", e.config.Worker.BaseURL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.ingest" first (namespaced pattern).
	if cm.IsSet("extensions.ingest") {
		if err := cm.Bind("extensions.ingest", &cfg); err == nil {
			e.Logger().Debug("ingest: loaded config from file",
				forge.F("key", "extensions.ingest"),
			)
			return cfg, true
		}
		e.Logger().Warn("ingest: failed to bind extensions.ingest config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "ingest" key.
	if cm.IsSet("ingest") {
		if err := cm.Bind("ingest", &cfg); err == nil {
			e.Logger().Debug("ingest: loaded config from file",
				forge.F("key", "ingest"),
			)
			return cfg, true
		}
		e.Logger().Warn("ingest: failed to bind ingest config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.Worker.BaseURL == "" {
		cfg.Worker.BaseURL = defaults.Worker.BaseURL
	}
	if cfg.Worker.TriggerPath == "" {
		cfg.Worker.TriggerPath = defaults.Worker.TriggerPath
	}
	if cfg.Worker.CancelPath == "" {
		cfg.Worker.CancelPath = defaults.Worker.CancelPath
	}
	if cfg.Worker.Timeout == 0 {
		cfg.Worker.Timeout = defaults.Worker.Timeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.WebhookSecret == "" && programmaticConfig.WebhookSecret != "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}
	if yamlConfig.Worker.BaseURL == "" && programmaticConfig.Worker.BaseURL != "" {
		yamlConfig.Worker = programmaticConfig.Worker
	}

	return e.mergeWithDefaults(yamlConfig)
}
