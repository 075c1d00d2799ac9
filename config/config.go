/*
Package config collects command-line and environment settings.

FLAGS / ENVIRONMENT:
  --workers     SETTLE_WORKERS     transaction-log shards (default 1, deterministic)
  --db          SETTLE_DB          SQLite export path ("" = no export)
  --log-level   SETTLE_LOG_LEVEL   debug|info|warn|error (default warn)
  --log-format  SETTLE_LOG_FORMAT  console|json (default console)
  --addr        SETTLE_ADDR        listen address for "serve" (default :8080)
  --cors-origin SETTLE_CORS_ORIGIN allowed CORS origins for "serve"

Logs always go to stderr so stdout carries only the report.
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved runtime configuration.
type Config struct {
	Workers        int
	DBPath         string
	LogLevel       string
	LogFormat      string
	Addr           string
	AllowedOrigins []string
}

// Default returns the configuration used when no flag is given.
func Default() Config {
	return Config{
		Workers:        1,
		LogLevel:       "warn",
		LogFormat:      "console",
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:5173"},
	}
}

// Flags returns the global flags understood by FromContext.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		cli.IntFlag{
			Name:   "workers, w",
			Value:  d.Workers,
			Usage:  " number of transaction-log shards `N`",
			EnvVar: "SETTLE_WORKERS",
		},
		cli.StringFlag{
			Name:   "db",
			Value:  d.DBPath,
			Usage:  " export journal and accounts to SQLite `FILE`",
			EnvVar: "SETTLE_DB",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  d.LogLevel,
			Usage:  " log `LEVEL` [debug|info|warn|error]",
			EnvVar: "SETTLE_LOG_LEVEL",
		},
		cli.StringFlag{
			Name:   "log-format",
			Value:  d.LogFormat,
			Usage:  " log `FORMAT` [console|json]",
			EnvVar: "SETTLE_LOG_FORMAT",
		},
	}
}

// ServeFlags returns the flags of the serve command.
func ServeFlags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		cli.StringFlag{
			Name:   "addr, a",
			Value:  d.Addr,
			Usage:  " listen `ADDRESS`",
			EnvVar: "SETTLE_ADDR",
		},
		cli.StringSliceFlag{
			Name:   "cors-origin",
			Value:  &cli.StringSlice{},
			Usage:  " allowed CORS `ORIGIN` (repeatable)",
			EnvVar: "SETTLE_CORS_ORIGIN",
		},
	}
}

// FromContext resolves the configuration from global flags and, when
// present, the serve command's flags.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Default()
	cfg.Workers = c.GlobalInt("workers")
	cfg.DBPath = c.GlobalString("db")
	cfg.LogLevel = c.GlobalString("log-level")
	cfg.LogFormat = c.GlobalString("log-format")

	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if origins := c.StringSlice("cors-origin"); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalidConfig, c.Workers)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.Addr == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	}
	return nil
}

// NewLogger builds the zap logger described by the configuration.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
	}

	var zc zap.Config
	if strings.EqualFold(c.LogFormat, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}
