// Package lifecycle wires the scoring, decay, consolidation, forgetting,
// and scheduling components into one engine over a shared store, and runs
// the periodic maintenance pipeline.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo-go/pkg/consolidation"
	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/decay"
	"github.com/mnemo-ai/mnemo-go/pkg/forgetting"
	"github.com/mnemo-ai/mnemo-go/pkg/schedule"
	"github.com/mnemo-ai/mnemo-go/pkg/scoring"
)

// StoreConfig selects and configures the persistence backend.
//
// Supported providers: sqlite, postgres, mysql, memory.
type StoreConfig struct {
	// Provider is the backend name (sqlite, postgres, mysql, memory).
	Provider string `json:"provider"`

	// DSN is the connection string for postgres and mysql.
	DSN string `json:"dsn,omitempty"`

	// DBPath is the database file path for sqlite.
	DBPath string `json:"db_path,omitempty"`

	// Table is the memories table name. Defaults to "memories".
	Table string `json:"table,omitempty"`
}

// ServicesConfig configures the external summarization and salience
// endpoint.
type ServicesConfig struct {
	// APIKey is the API key for the OpenAI-compatible endpoint. When
	// empty, no external services are wired: consolidation is limited
	// to link merges and salience falls back to cached or neutral
	// values.
	APIKey string `json:"api_key,omitempty"`

	// Model is the model name to use.
	Model string `json:"model,omitempty"`

	// BaseURL overrides the endpoint address (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// Config is the complete engine configuration.
type Config struct {
	// Store selects the persistence backend.
	Store StoreConfig `json:"store"`

	// Services configures the external LLM endpoint.
	Services ServicesConfig `json:"services"`

	// Importance holds the scoring parameters.
	Importance scoring.Config `json:"importance"`

	// Decay holds the decay parameters.
	Decay decay.Config `json:"decay"`

	// Consolidation holds the clustering and merge parameters.
	Consolidation consolidation.Config `json:"consolidation"`

	// Forgetting holds the tiering and grace parameters.
	Forgetting forgetting.Config `json:"forgetting"`

	// Schedule holds the spaced-repetition parameters.
	Schedule schedule.Config `json:"schedule"`

	// AuditLogPath is the path of the append-only audit log. When empty
	// the audit trail goes to the logger.
	AuditLogPath string `json:"audit_log_path,omitempty"`
}

// DefaultConfig returns a configuration with every component at its
// production defaults and an in-memory store.
func DefaultConfig() *Config {
	return &Config{
		Store:         StoreConfig{Provider: "memory"},
		Importance:    scoring.DefaultConfig(),
		Decay:         decay.DefaultConfig(),
		Consolidation: consolidation.DefaultConfig(),
		Forgetting:    forgetting.DefaultConfig(),
		Schedule:      schedule.DefaultConfig(),
	}
}

// LoadConfigFromEnv builds a configuration from environment variables,
// loading a .env file when one can be found. Component parameters keep
// their defaults; the environment selects the store backend, the service
// endpoint, and the audit log path.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	cfg.Store.Provider = getEnvOrDefault("MNEMO_STORE_PROVIDER", "sqlite")

	switch cfg.Store.Provider {
	case "sqlite":
		cfg.Store.DBPath = getEnvOrDefault("MNEMO_SQLITE_PATH", "./mnemo.db")
	case "postgres":
		cfg.Store.DSN = getEnvOrDefault("MNEMO_POSTGRES_DSN",
			"postgres://postgres@localhost:5432/mnemo?sslmode=disable")
	case "mysql":
		cfg.Store.DSN = getEnvOrDefault("MNEMO_MYSQL_DSN",
			"root@tcp(localhost:3306)/mnemo?parseTime=true")
	}
	cfg.Store.Table = getEnvOrDefault("MNEMO_TABLE", "memories")

	cfg.Services.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Services.Model = getEnvOrDefault("MNEMO_MODEL", "gpt-4o-mini")
	cfg.Services.BaseURL = os.Getenv("OPENAI_BASE_URL")

	cfg.AuditLogPath = os.Getenv("MNEMO_AUDIT_LOG")

	if hour := os.Getenv("MNEMO_CONSOLIDATION_HOUR"); hour != "" {
		h, err := strconv.Atoi(hour)
		if err != nil || h < 0 || h > 23 {
			return nil, core.NewLifecycleError("LoadConfigFromEnv",
				fmt.Errorf("%w: MNEMO_CONSOLIDATION_HOUR=%q", core.ErrInvalidConfig, hour))
		}
		cfg.Consolidation.ScheduledHour = h
	}

	return cfg, nil
}

// LoadConfigFromJSON loads a configuration from a JSON file. Fields absent
// from the file keep their defaults.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewLifecycleError("LoadConfigFromJSON", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, core.NewLifecycleError("LoadConfigFromJSON", err)
	}
	return cfg, nil
}

// Validate checks the configuration for contract violations: an unknown
// store provider, missing connection details, malformed importance
// weights, or misordered strength thresholds.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return core.NewLifecycleError("Validate",
				fmt.Errorf("%w: sqlite store requires db_path", core.ErrInvalidConfig))
		}
	case "postgres", "mysql":
		if c.Store.DSN == "" {
			return core.NewLifecycleError("Validate",
				fmt.Errorf("%w: %s store requires dsn", core.ErrInvalidConfig, c.Store.Provider))
		}
	default:
		return core.NewLifecycleError("Validate",
			fmt.Errorf("%w: unknown store provider %q", core.ErrInvalidConfig, c.Store.Provider))
	}

	if err := c.Importance.Weights.Validate(); err != nil {
		return err
	}

	d := c.Decay
	if !(d.SoftThreshold > d.ArchiveThreshold && d.ArchiveThreshold > d.PermanentThreshold) {
		return core.NewLifecycleError("Validate",
			fmt.Errorf("%w: thresholds must satisfy soft > archive > permanent", core.ErrInvalidConfig))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files, checking the
// current directory first and then up to five parent directories.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
