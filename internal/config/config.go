package config

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the process environment. Everything operators tune per
// deployment lives in the settings file instead.
type Config struct {
	ConfigDir        string `envconfig:"QMATIC_CONFIG_DIR" default:"config"`
	SettingsFile     string `envconfig:"QMATIC_SETTINGS_FILE"`
	ChannelsFile     string `envconfig:"QMATIC_CHANNELS_FILE"`
	WatermarkBackend string `envconfig:"QMATIC_WATERMARK_BACKEND" default:"file"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	LogLevel         string `envconfig:"QMATIC_LOG_LEVEL"`

	TelegramToken  string `envconfig:"QMATIC_TELEGRAM_TOKEN"`
	TelegramAPIURL string `envconfig:"QMATIC_TELEGRAM_API_URL" default:"https://api.telegram.org"`

	// SessionCookie skips cookie extraction when set.
	SessionCookie string `envconfig:"QMATIC_SESSION_COOKIE"`
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, internaltypes.Mark(errors.Wrap(err, "process env config"), internaltypes.ErrConfiguration)
	}
	cfg.WatermarkBackend = strings.ToLower(strings.TrimSpace(cfg.WatermarkBackend))
	if cfg.WatermarkBackend == "" {
		cfg.WatermarkBackend = BackendFile
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = "config"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.WatermarkBackend {
	case BackendFile:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return internaltypes.Markf(internaltypes.ErrConfiguration, "DATABASE_URL is required for the postgres watermark backend")
		}
	default:
		return internaltypes.Markf(internaltypes.ErrConfiguration, "unknown QMATIC_WATERMARK_BACKEND %q", c.WatermarkBackend)
	}
	return nil
}

func (c Config) SettingsPath() string {
	if c.SettingsFile != "" {
		return c.SettingsFile
	}
	return filepath.Join(c.ConfigDir, "settings.json")
}

func (c Config) ChannelsPath() string {
	if c.ChannelsFile != "" {
		return c.ChannelsFile
	}
	return filepath.Join(c.ConfigDir, "channels.json")
}
