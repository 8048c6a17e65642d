// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, formatter and appenders.
type Config struct {
	Level   string     `mapstructure:"level" yaml:"level"`
	Format  string     `mapstructure:"format" yaml:"format"` // pattern | nested | json
	Pattern string     `mapstructure:"pattern" yaml:"pattern"`
	Time    string     `mapstructure:"time" yaml:"time"`
	File    FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig enables a rotated file appender next to stdout.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig is used when the config file carries no log section.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "pattern",
		Pattern: "%time [%level] %field%msg\n",
		Time:    "2006-01-02 15:04:05.000",
	}
}

var logger = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	cfg := DefaultConfig()
	l.SetFormatter(&patternFormatter{pattern: cfg.Pattern, time: cfg.Time})
	return l
}

// GetLogger returns the process logger. Safe before Init; Init reconfigures
// the same instance in place.
func GetLogger() *logrus.Logger {
	return logger
}

// Init applies the configuration to the process logger.
func Init(cfg Config) error {
	def := DefaultConfig()
	if cfg.Level == "" {
		cfg.Level = def.Level
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Pattern == "" {
		cfg.Pattern = def.Pattern
	}
	if cfg.Time == "" {
		cfg.Time = def.Time
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	writers := []io.Writer{os.Stdout}
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return fmt.Errorf("file appender requires a path")
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	switch strings.ToLower(cfg.Format) {
	case "pattern":
		logger.SetFormatter(&patternFormatter{pattern: cfg.Pattern, time: cfg.Time})
	case "nested":
		logger.SetFormatter(&nested.Formatter{
			HideKeys:        false,
			TimestampFormat: cfg.Time,
			FieldsOrder:     []string{"src", "dst", "kind"},
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.Time})
	default:
		return fmt.Errorf("unsupported log format: %s (must be pattern, nested or json)", cfg.Format)
	}
	return nil
}
