package extension

import (
	"log/slog"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/backoff"
	"github.com/xraph/ingest/ext"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/schedule"
	"github.com/xraph/ingest/worker"
)

// ExtOption configures the Ingest Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend. Defaults to the in-memory store.
func WithStore(s job.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithWorkerConfig sets the external worker endpoint configuration.
func WithWorkerConfig(cfg ingest.WorkerConfig) ExtOption {
	return func(e *Extension) {
		e.config.Worker = cfg
	}
}

// WithDispatcherOptions passes options through to the worker dispatcher,
// such as a custom HTTP client or an outbound rate limit.
func WithDispatcherOptions(opts ...worker.Option) ExtOption {
	return func(e *Extension) {
		e.dispatcherOpts = append(e.dispatcherOpts, opts...)
	}
}

// WithExtension registers a lifecycle extension (job event hooks).
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.exts = append(e.exts, x)
	}
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(b backoff.Strategy) ExtOption {
	return func(e *Extension) {
		e.bo = b
	}
}

// WithScheduler attaches a recurring-ingestion scheduler whose lifecycle
// follows the extension's Start and Stop.
func WithScheduler(s *schedule.Scheduler) ExtOption {
	return func(e *Extension) {
		e.scheduler = s
	}
}

// WithBasePath sets the URL prefix for all ingestion routes.
func WithBasePath(path string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = path
	}
}

// WithWebhookSecret requires worker status updates to carry the shared
// secret in the X-Ingest-Secret header.
func WithWebhookSecret(secret string) ExtOption {
	return func(e *Extension) {
		e.config.WebhookSecret = secret
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithLogger sets the structured logger for the lifecycle manager and
// worker dispatcher.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}
