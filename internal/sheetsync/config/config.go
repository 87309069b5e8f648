// Package config loads and validates daemon configuration.
//
// Configuration comes from a YAML file plus ATX_-prefixed environment
// variables; environment values override the file. Every knob has a
// default, so a minimal file only names the source, the spreadsheet,
// and the tables to mirror.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
)

// Config is the full daemon configuration.
type Config struct {
	Source   SourceConfig  `yaml:"source" mapstructure:"source"`
	Sheet    SheetConfig   `yaml:"sheet" mapstructure:"sheet"`
	Tables   []TableConfig `yaml:"tables" mapstructure:"tables"`
	Detect   DetectConfig  `yaml:"detect" mapstructure:"detect"`
	Sync     SyncConfig    `yaml:"sync" mapstructure:"sync"`
	StateDB  string        `yaml:"state_db" mapstructure:"state_db"`
	PIDFile  string        `yaml:"pid_file" mapstructure:"pid_file"`
	LogFile  string        `yaml:"log_file" mapstructure:"log_file"`
	LogLevel string        `yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig names the watched database.
type SourceConfig struct {
	// Kind is one of sqlite, postgres, libsql.
	Kind string `yaml:"kind" mapstructure:"kind"`
	// Addr is a file path for sqlite, a DSN or URL otherwise.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// SheetConfig names the destination spreadsheet.
type SheetConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	// HeaderRows is the number of header rows above the data rows.
	HeaderRows int `yaml:"header_rows" mapstructure:"header_rows"`
}

// TableConfig describes one mirrored table.
type TableConfig struct {
	Name            string   `yaml:"name" mapstructure:"name"`
	KeyColumn       string   `yaml:"key_column" mapstructure:"key_column"`
	Columns         []string `yaml:"columns" mapstructure:"columns"`
	UpdatedAtColumn string   `yaml:"updated_at_column,omitempty" mapstructure:"updated_at_column"`
	// Worksheet defaults to the table name.
	Worksheet string `yaml:"worksheet,omitempty" mapstructure:"worksheet"`
	// PollInterval overrides detect.poll_interval for this table.
	PollInterval time.Duration `yaml:"poll_interval,omitempty" mapstructure:"poll_interval"`
}

// DetectConfig tunes change detection.
type DetectConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Quiet        time.Duration `yaml:"quiet" mapstructure:"quiet"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age"`
}

// SyncConfig tunes the sync workers and the remote writer.
type SyncConfig struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	MaxBatchSize int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	// RequestLimit caps remote write requests per RequestWindow.
	RequestLimit  int           `yaml:"request_limit" mapstructure:"request_limit"`
	RequestWindow time.Duration `yaml:"request_window" mapstructure:"request_window"`
}

// Default returns the built-in configuration before file and
// environment overrides.
func Default() Config {
	return Config{
		Source: SourceConfig{Kind: "sqlite"},
		Sheet:  SheetConfig{HeaderRows: 1},
		Detect: DetectConfig{
			Quiet:  2 * time.Second,
			MaxAge: 30 * time.Second,
		},
		Sync: SyncConfig{
			Workers:       2,
			MaxBatchSize:  100,
			MaxAttempts:   5,
			BaseDelay:     500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			RequestLimit:  60,
			RequestWindow: time.Minute,
		},
		StateDB:  filepath.Join(".atx", "state.db"),
		PIDFile:  filepath.Join(".atx", "atx.pid"),
		LogFile:  filepath.Join(".atx", "atx.log"),
		LogLevel: "info",
	}
}

// Load reads path, applies ATX_ environment overrides, and validates.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ATX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("sheet.header_rows", d.Sheet.HeaderRows)
	v.SetDefault("detect.quiet", d.Detect.Quiet)
	v.SetDefault("detect.max_age", d.Detect.MaxAge)
	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.max_batch_size", d.Sync.MaxBatchSize)
	v.SetDefault("sync.max_attempts", d.Sync.MaxAttempts)
	v.SetDefault("sync.base_delay", d.Sync.BaseDelay)
	v.SetDefault("sync.max_delay", d.Sync.MaxDelay)
	v.SetDefault("sync.request_limit", d.Sync.RequestLimit)
	v.SetDefault("sync.request_window", d.Sync.RequestWindow)
	v.SetDefault("state_db", d.StateDB)
	v.SetDefault("pid_file", d.PIDFile)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_level", d.LogLevel)
}

// normalize fills derived defaults and rejects invalid configs.
func (c *Config) normalize() error {
	kind := source.Kind(c.Source.Kind)
	if !kind.Valid() {
		return fmt.Errorf("source.kind %q must be sqlite, postgres, or libsql", c.Source.Kind)
	}
	if c.Source.Addr == "" {
		return fmt.Errorf("source.addr is required")
	}
	if c.Sheet.SpreadsheetID == "" {
		return fmt.Errorf("sheet.spreadsheet_id is required")
	}
	if c.Sheet.CredentialsFile == "" {
		return fmt.Errorf("sheet.credentials_file is required")
	}
	if c.Sheet.HeaderRows < 0 {
		return fmt.Errorf("sheet.header_rows must not be negative")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}

	if c.Detect.PollInterval == 0 {
		if kind.Networked() {
			c.Detect.PollInterval = 5 * time.Second
		} else {
			c.Detect.PollInterval = 15 * time.Second
		}
	}
	if c.Detect.Quiet <= 0 {
		return fmt.Errorf("detect.quiet must be positive")
	}
	if c.Detect.MaxAge < c.Detect.Quiet {
		return fmt.Errorf("detect.max_age must be at least detect.quiet")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}

	seen := make(map[string]bool, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %q configured twice", t.Name)
		}
		seen[t.Name] = true
		if t.KeyColumn == "" {
			return fmt.Errorf("table %q: key_column is required", t.Name)
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q: at least one column is required", t.Name)
		}
		if t.Worksheet == "" {
			t.Worksheet = t.Name
		}
		if t.PollInterval == 0 {
			t.PollInterval = c.Detect.PollInterval
		}
	}
	return nil
}

// SourceKind returns the validated source kind.
func (c Config) SourceKind() source.Kind { return source.Kind(c.Source.Kind) }

// SourceTables converts the table configs into source specs.
func (c Config) SourceTables() []source.Table {
	out := make([]source.Table, 0, len(c.Tables))
	for _, t := range c.Tables {
		out = append(out, source.Table{
			Name:            t.Name,
			KeyColumn:       t.KeyColumn,
			Columns:         t.Columns,
			UpdatedAtColumn: t.UpdatedAtColumn,
		})
	}
	return out
}

// WriteExample writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	example := Default()
	example.Source.Addr = "autotrainx.db"
	example.Sheet.SpreadsheetID = "your-spreadsheet-id"
	example.Sheet.CredentialsFile = "service-account.json"
	example.Tables = []TableConfig{{
		Name:            "executions",
		KeyColumn:       "job_id",
		Columns:         []string{"status", "pipeline", "dataset", "preset", "started_at", "finished_at"},
		UpdatedAtColumn: "updated_at",
	}}

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("render example config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
