/*
Package config loads the prg configuration.

PURPOSE:
  One YAML file (default prg.yaml) describes where the workbook is, how
  its sheets are laid out, where the change journal lives, how to log and
  where the local API listens. A missing file means defaults; environment
  variables override the file.

PRECEDENCE (highest first):
  1. CLI flags (applied by the cli package)
  2. PRG_* environment variables
  3. The YAML file
  4. Defaults

ENVIRONMENT:
  PRG_LOG_LEVEL    logging.level
  PRG_LOG_FORMAT   logging.format (console | json)
  PRG_WORKBOOK     workbook.path
  PRG_JOURNAL      journal.path ("" keeps the journal in memory)

SEE ALSO:
  - logging.go: logger construction
  - workbook/layout.go: table layout section
*/
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/prg-engine/allocation"
	"github.com/warp/prg-engine/workbook"
)

const DefaultPath = "prg.yaml"

type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	Workbook WorkbookConfig  `yaml:"workbook"`
	Journal  JournalConfig   `yaml:"journal"`
	Server   ServerConfig    `yaml:"server"`
	Binding  BindingConfig   `yaml:"binding"`
	Tables   workbook.Layout `yaml:"tables"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json; empty picks by terminal
	File   string `yaml:"file,omitempty"`
}

type WorkbookConfig struct {
	Path   string `yaml:"path"`
	Backup bool   `yaml:"backup"`
}

type JournalConfig struct {
	// Path of the SQLite journal. Empty keeps the journal in memory.
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BindingConfig struct {
	AutoBindShare float64 `yaml:"auto_bind_share"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info"},
		Workbook: WorkbookConfig{Backup: true},
		Journal:  JournalConfig{Path: "prg-journal.db"},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Binding: BindingConfig{AutoBindShare: allocation.DefaultAutoBindShare},
		Tables:  workbook.DefaultLayout(),
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(lookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	if v, ok := lookupEnv("PRG_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookupEnv("PRG_LOG_FORMAT"); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := lookupEnv("PRG_WORKBOOK"); ok && v != "" {
		c.Workbook.Path = v
	}
	if v, ok := lookupEnv("PRG_JOURNAL"); ok {
		c.Journal.Path = v
	}
}

// Validate checks the configuration and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	if s := c.Binding.AutoBindShare; s <= 0 || s > 1 {
		errs = append(errs, fmt.Errorf("binding.auto_bind_share must be in (0, 1], got %v", s))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if err := c.Tables.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tables: %w", err))
	}

	return errors.Join(errs...)
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
