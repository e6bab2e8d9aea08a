// Package config loads host configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes where the engine lives and how the host runs it.
type Config struct {
	EngineLocation   string        `env:"WTD_ENGINE_LOCATION"    envDefault:"assets/wtd_rust_bg.wasm"`
	StartExport      string        `env:"WTD_START_EXPORT"       envDefault:"start"`
	ModuleName       string        `env:"WTD_MODULE_NAME"        envDefault:"wtd_rust"`
	LogLevel         string        `env:"WTD_LOG_LEVEL"          envDefault:"info"`
	LogFormat        string        `env:"WTD_LOG_FORMAT"         envDefault:"console"`
	Listen           string        `env:"WTD_LISTEN"`
	Anchors          []string      `env:"WTD_ANCHORS"            envDefault:"canvas" envSeparator:","`
	MaxBinaryBytes   int64         `env:"WTD_MAX_BINARY_BYTES"   envDefault:"33554432"`
	LoadTimeout      time.Duration `env:"WTD_LOAD_TIMEOUT"       envDefault:"0s"`
	HTTPTimeout      time.Duration `env:"WTD_HTTP_TIMEOUT"       envDefault:"30s"`
	MemoryLimitPages uint32        `env:"WTD_MEMORY_LIMIT_PAGES" envDefault:"0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants env parsing cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.EngineLocation) == "" {
		return fmt.Errorf("engine location is required")
	}
	if strings.TrimSpace(c.StartExport) == "" {
		return fmt.Errorf("start export is required")
	}
	if c.MaxBinaryBytes <= 0 {
		return fmt.Errorf("max binary bytes must be positive, got %d", c.MaxBinaryBytes)
	}
	if c.LoadTimeout < 0 || c.HTTPTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q: want console or json", c.LogFormat)
	}
	return nil
}

// Logger builds the process logger described by c.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// AnchorSet returns the configured anchors with blanks removed.
func (c Config) AnchorSet() []string {
	out := make([]string, 0, len(c.Anchors))
	for _, a := range c.Anchors {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
