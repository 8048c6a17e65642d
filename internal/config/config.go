// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cab2cab/c2cdump/internal/core"
	"github.com/cab2cab/c2cdump/internal/decoder"
	"github.com/cab2cab/c2cdump/internal/log"
	"github.com/cab2cab/c2cdump/internal/source"
)

// Config is the full tool configuration. Every field has a sensible default;
// a missing config file is not an error.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Decoder DecoderConfig `mapstructure:"decoder"`
	Dump    DumpConfig    `mapstructure:"dump"`
	Log     log.Config    `mapstructure:"log"`
}

// CaptureConfig selects the frame source. Options is the kind-specific
// option map handed to the source factory.
type CaptureConfig struct {
	Kind       string         `mapstructure:"kind"` // file | pcap | afpacket
	Options    map[string]any `mapstructure:"options"`
	BufferSize int            `mapstructure:"buffer_size"`
}

// DecoderConfig tunes the demultiplexer.
type DecoderConfig struct {
	TargetPort         uint16        `mapstructure:"target_port"`
	FragmentTimeout    time.Duration `mapstructure:"fragment_timeout"`
	MaxFragmentBuffers int           `mapstructure:"max_fragment_buffers"`
}

// DumpConfig controls the raw plaintext dump stream.
type DumpConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads the configuration from path (optional), the environment
// (C2CDUMP_ prefix) and the built-in defaults, in ascending precedence of
// defaults < file < environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("C2CDUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.kind", source.KindPcap)
	v.SetDefault("capture.buffer_size", 1024)
	v.SetDefault("decoder.target_port", decoder.DefaultTargetPort)
	v.SetDefault("decoder.fragment_timeout", "30s")
	v.SetDefault("decoder.max_fragment_buffers", 256)
	v.SetDefault("dump.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "pattern")
}

// Validate checks the cross-field constraints Load cannot express.
func (c *Config) Validate() error {
	switch c.Capture.Kind {
	case source.KindFile, source.KindPcap, source.KindAFPacket:
	default:
		return fmt.Errorf("%w: unknown capture kind %q", core.ErrConfigInvalid, c.Capture.Kind)
	}
	if c.Decoder.TargetPort == 0 {
		return fmt.Errorf("%w: decoder target port must not be 0", core.ErrConfigInvalid)
	}
	if c.Decoder.FragmentTimeout < 0 {
		return fmt.Errorf("%w: negative fragment timeout", core.ErrConfigInvalid)
	}
	if c.Dump.Enabled && c.Dump.Path == "" {
		return fmt.Errorf("%w: dump enabled without a path", core.ErrConfigInvalid)
	}
	return nil
}
