package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// MigrationConfig holds the full TOML-driven migration configuration.
type MigrationConfig struct {
	Source         SourceConfig  `toml:"source"`
	Target         TargetConfig  `toml:"target"`
	SchemaFilter   string        `toml:"schema_filter"`   // restrict to one source schema, empty = all
	OnTableExists  string        `toml:"on_table_exists"` // fail|skip
	MigrateData    bool          `toml:"migrate_data"`
	IdentityAlways bool          `toml:"identity_always"` // GENERATED ALWAYS instead of BY DEFAULT
	Workers        int           `toml:"workers"`
	BatchSize      int           `toml:"batch_size"`
	MaxRetries     int           `toml:"max_retries"`
	LogLevel       string        `toml:"log_level"` // debug|info|warning|error
	LogDir         string        `toml:"log_dir"`
	TypeMappings   string        `toml:"type_mappings"` // path to JSON mapping table
	Collations     string        `toml:"collations"`    // path to JSON collation table
	Hooks          HooksConfig   `toml:"hooks"`
	Convert        ConvertConfig `toml:"convert"`

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

// SourceConfig identifies the SQL Server source connection.
type SourceConfig struct {
	DSN string `toml:"dsn"`
}

type TargetConfig struct {
	DSN string `toml:"dsn"`
}

// HooksConfig lists SQL files executed against the target around the steps.
type HooksConfig struct {
	BeforeData []string `toml:"before_data"`
	AfterData  []string `toml:"after_data"`
	BeforeFk   []string `toml:"before_fk"`
	AfterAll   []string `toml:"after_all"`
}

// ConvertConfig controls the offline script rewriter.
type ConvertConfig struct {
	SkipCollations bool `toml:"skip_collations"`
}

// loadConfig reads a TOML config file and returns a MigrationConfig with defaults applied.
func loadConfig(path string) (*MigrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := MigrationConfig{
		OnTableExists: "fail",
		MigrateData:   true,
		BatchSize:     1000,
		MaxRetries:    3,
		LogLevel:      "info",
		LogDir:        "logs",
		TypeMappings:  "type_mappings.json",
		Collations:    "collations.json",
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers()
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must not be negative")
	}

	switch cfg.OnTableExists {
	case "fail", "skip":
	default:
		return nil, fmt.Errorf("on_table_exists must be one of: fail, skip")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return nil, fmt.Errorf("log_level must be one of: debug, info, warning, error")
	}

	return &cfg, nil
}

// requireDSNs checks the connection settings needed by the online steps.
// The offline script converter runs without them.
func (c *MigrationConfig) requireDSNs() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	return nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *MigrationConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}
