package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. PAGEPOOL_BUFFER_NUM_BUFFERS.
const EnvPrefix = "PAGEPOOL"

type Config struct {
	Storage struct {
		Backend   string `mapstructure:"backend" validate:"oneof=file badger pebble bolt"`
		Dir       string `mapstructure:"dir" validate:"required"`
		BlockSize int    `mapstructure:"block_size" validate:"min=64"`
		Compress  bool   `mapstructure:"compress"`
	} `mapstructure:"storage"`

	Buffer struct {
		NumBuffers  int           `mapstructure:"num_buffers" validate:"min=1"`
		Replacement string        `mapstructure:"replacement" validate:"oneof=fresh naive clock"`
		PinTimeout  time.Duration `mapstructure:"pin_timeout" validate:"min=0"`
	} `mapstructure:"buffer"`

	Log struct {
		File  string `mapstructure:"file" validate:"required"`
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "pagepool-data")
	v.SetDefault("storage.block_size", 400)
	v.SetDefault("storage.compress", false)
	v.SetDefault("buffer.num_buffers", 8)
	v.SetDefault("buffer.replacement", "fresh")
	v.SetDefault("buffer.pin_timeout", 10*time.Second)
	v.SetDefault("log.file", "pagepool.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")
}

// Default returns the configuration used when no file is given, with environment overrides applied.
func Default() (*Config, error) {
	return Load("")
}

// Load reads a YAML config file (when path is not empty), applies PAGEPOOL_* environment overrides
// on top of the defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its constraints and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LogLevel maps Log.Level to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
