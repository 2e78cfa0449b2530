package extension

import (
	"github.com/xraph/ingest"
	"github.com/xraph/ingest/api"
)

// Config holds configuration for the Ingest Forge extension.
type Config struct {
	// BasePath is the URL prefix for all ingestion API routes.
	BasePath string `default:"/api/ingestion" json:"base_path"`

	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding the lifecycle manager for programmatic use only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig requires configuration to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `default:"false" json:"require_config"`

	// WebhookSecret, when set, must match the X-Ingest-Secret header on
	// worker status updates.
	WebhookSecret string `json:"webhook_secret"`

	// Worker holds the external worker endpoint configuration.
	Worker ingest.WorkerConfig `json:"worker"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath: api.DefaultBasePath,
		Worker:   ingest.DefaultWorkerConfig(),
	}
}
