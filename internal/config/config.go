// Package config loads the strata configuration: an optional YAML file
// overlaid with STRATA_-prefixed environment variables. Environment
// variables win, so deployments can keep a checked-in base file and
// override secrets and endpoints per host.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stratamem/strata/internal/engine"
	"github.com/stratamem/strata/internal/llm"
	"github.com/stratamem/strata/internal/policy"
)

// Config holds every tunable of the memory engine.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Index       IndexConfig       `yaml:"index"`
	Policy      policy.Config     `yaml:"policy"`
	LLM         llm.Config        `yaml:"llm"`
	Engine      engine.Config     `yaml:"engine"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// DSN is the postgres connection string. Ignored for sqlite.
	DSN string `yaml:"dsn"`

	// DataPath is the sqlite data directory. Ignored for postgres.
	DataPath string `yaml:"data_path"`
}

// IndexConfig selects the similarity index backend.
type IndexConfig struct {
	// Backend is "flat" or "hnsw".
	Backend string `yaml:"backend"`

	// CompactionThreshold is the tombstone ratio a partition must
	// strictly exceed to be compacted. <= 0 selects the default.
	CompactionThreshold float64 `yaml:"compaction_threshold"`
}

// MaintenanceConfig controls the background maintenance loop.
type MaintenanceConfig struct {
	// Interval between maintenance passes. 0 disables the loop.
	Interval time.Duration `yaml:"interval"`
}

// Load reads the YAML file at path (missing file is not an error, the
// defaults apply) and overlays STRATA_ environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus environment only.
		case err != nil:
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Storage.Backend, "STRATA_STORAGE_BACKEND")
	setString(&c.Storage.DSN, "STRATA_STORAGE_DSN")
	setString(&c.Storage.DataPath, "STRATA_DATA_PATH")

	setString(&c.Index.Backend, "STRATA_INDEX_BACKEND")
	setFloat(&c.Index.CompactionThreshold, "STRATA_INDEX_COMPACTION_THRESHOLD")

	setString(&c.LLM.Provider, "STRATA_LLM_PROVIDER")
	setString(&c.LLM.BaseURL, "STRATA_LLM_BASE_URL")
	setString(&c.LLM.APIKey, "STRATA_LLM_API_KEY")
	setString(&c.LLM.Model, "STRATA_LLM_MODEL")
	setString(&c.LLM.EmbeddingModel, "STRATA_EMBEDDING_MODEL")
	setDuration(&c.LLM.Timeout, "STRATA_LLM_TIMEOUT")
	setFloat(&c.LLM.RPS, "STRATA_LLM_RPS")

	setInt(&c.Engine.RetrieveLimit, "STRATA_RETRIEVE_LIMIT")
	setDuration(&c.Engine.ArchiveTTL, "STRATA_ARCHIVE_TTL")

	setInt(&c.Policy.ConsolidateTurns, "STRATA_CONSOLIDATE_TURNS")
	setBool(&c.Policy.AllowRecallEdits, "STRATA_ALLOW_RECALL_EDITS")
	setBool(&c.Policy.ReactivateOnConfirm, "STRATA_REACTIVATE_ON_CONFIRM")

	setDuration(&c.Maintenance.Interval, "STRATA_MAINTENANCE_INTERVAL")
}

func (c *Config) normalize() error {
	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.DataPath == "" {
		c.Storage.DataPath = "./data"
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: postgres backend requires a dsn")
	}

	switch c.Index.Backend {
	case "":
		c.Index.Backend = "flat"
	case "flat", "hnsw":
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.Maintenance.Interval == 0 {
		c.Maintenance.Interval = time.Hour
	}

	c.Policy.Normalize()
	c.Engine.Normalize()
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration syntax ("30s", "24h").
func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
