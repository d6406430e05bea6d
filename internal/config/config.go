// Package config loads mofasa settings from mofasa.yaml, MOFASA_* environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/soaringjerry/mofasa/internal/db"
	"github.com/soaringjerry/mofasa/internal/ollama"
)

const (
	ConfigName  = "mofasa"
	ConfigType  = "yaml"
	EnvPrefix   = "MOFASA"
	DefaultAddr = "127.0.0.1:5174"
)

type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type DataConfig struct {
	Dir           string   `mapstructure:"dir"`
	FileName      string   `mapstructure:"file_name"`
	Packaged      bool     `mapstructure:"packaged"`
	ResourcePaths []string `mapstructure:"resource_paths"`
	MigrationsDir string   `mapstructure:"migrations_dir"`
}

type OllamaConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"`
	WaitMaxElapsed  time.Duration `mapstructure:"wait_max_elapsed"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Options controls where Load looks. Flags are bound by name: a flag called
// "data-dir" sets data.dir.
type Options struct {
	ConfigFile string
	Flags      *pflag.FlagSet
}

// flagKeys maps flag names onto config keys.
var flagKeys = map[string]string{
	"data-dir":     "data.dir",
	"db-file":      "data.file_name",
	"migrations":   "data.migrations_dir",
	"ollama-url":   "ollama.base_url",
	"model":        "ollama.model",
	"addr":         "server.addr",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file.enabled",
	"packaged":     "data.packaged",
	"resource-dir": "data.resource_paths",
}

// DefaultDataDir is the per-user directory holding the database and config.
func DefaultDataDir() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = "."
	}
	return filepath.Join(base, "mofasa")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.dir", DefaultDataDir())
	v.SetDefault("data.file_name", db.DefaultFileName)
	v.SetDefault("data.packaged", false)
	v.SetDefault("data.resource_paths", []string{})
	v.SetDefault("data.migrations_dir", "")
	v.SetDefault("ollama.base_url", ollama.DefaultBaseURL)
	v.SetDefault("ollama.model", ollama.DefaultModel)
	v.SetDefault("ollama.generate_timeout", ollama.DefaultGenerateTimeout)
	v.SetDefault("ollama.status_timeout", ollama.DefaultStatusTimeout)
	v.SetDefault("ollama.wait_max_elapsed", ollama.DefaultWaitMaxElapsed)
	v.SetDefault("server.addr", DefaultAddr)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", false)
}

// Load resolves the configuration. A missing config file is not an error; an
// explicitly named one is.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(v.GetString("data.dir"))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Logging.File.Enabled && cfg.Logging.File.Path == "" {
		cfg.Logging.File.Path = filepath.Join(cfg.Data.Dir, "logs", "mofasa.log")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Data.Dir) == "" {
		return errors.New("data.dir is required")
	}
	if strings.ContainsAny(c.Data.FileName, `/\`) || c.Data.FileName == "" {
		return fmt.Errorf("data.file_name %q must be a bare file name", c.Data.FileName)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Ollama.GenerateTimeout <= 0 || c.Ollama.StatusTimeout <= 0 {
		return errors.New("ollama timeouts must be positive")
	}
	return nil
}

// Location is the database placement the store resolves its path from.
func (c *Config) Location() db.Location {
	return db.Location{
		DataDir:       c.Data.Dir,
		FileName:      c.Data.FileName,
		Packaged:      c.Data.Packaged,
		ResourcePaths: c.Data.ResourcePaths,
	}
}

// OllamaClient builds a client from the ollama section.
func (c *Config) OllamaClient() *ollama.Client {
	return &ollama.Client{
		BaseURL:         c.Ollama.BaseURL,
		Model:           c.Ollama.Model,
		GenerateTimeout: c.Ollama.GenerateTimeout,
		StatusTimeout:   c.Ollama.StatusTimeout,
		WaitMaxElapsed:  c.Ollama.WaitMaxElapsed,
	}
}
