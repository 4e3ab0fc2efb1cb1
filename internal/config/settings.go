package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/retry"
)

type Settings struct {
	BaseURL            string          `json:"base_url" yaml:"base_url"`
	SiteURL            string          `json:"site_url" yaml:"site_url"`
	Email              string          `json:"email" yaml:"email"`
	RepeatMinutes      int             `json:"repeat_minutes" yaml:"repeat_minutes"`
	Prefixes           []string        `json:"prefixes" yaml:"prefixes"`
	RetrySettings      RetrySettings   `json:"retry_settings" yaml:"retry_settings"`
	ResetCycle         ResetCycle      `json:"reset_cycle" yaml:"reset_cycle"`
	Logging            Logging         `json:"logging" yaml:"logging"`
	NotifyWorkers      int             `json:"notify_workers" yaml:"notify_workers"`
	Session            SessionSettings `json:"session" yaml:"session"`
	HTTPTimeoutSeconds int             `json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	PauseSeconds       PauseRange      `json:"pause_seconds" yaml:"pause_seconds"`
}

type RetrySettings struct {
	MaxRetries      int     `json:"max_retries" yaml:"max_retries"`
	InitialDelay    float64 `json:"initial_delay" yaml:"initial_delay"`
	DelayMultiplier float64 `json:"delay_multiplier" yaml:"delay_multiplier"`
}

type ResetCycle struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	IntervalHours int    `json:"interval_hours" yaml:"interval_hours"`
	MaxFutureDays int    `json:"max_future_days" yaml:"max_future_days"`
	MarkerFile    string `json:"marker_file" yaml:"marker_file"`
}

type Logging struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file" yaml:"file"`
}

type SessionSettings struct {
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
	// CookieCommand, when set, is run to obtain the session cookie value.
	CookieCommand     []string `json:"cookie_command" yaml:"cookie_command"`
	TokenAttempts     int      `json:"token_attempts" yaml:"token_attempts"`
	TokenPauseSeconds float64  `json:"token_pause_seconds" yaml:"token_pause_seconds"`
}

type PauseRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func DefaultSettings() Settings {
	return Settings{
		RepeatMinutes: 30,
		RetrySettings: RetrySettings{MaxRetries: 5, InitialDelay: 1, DelayMultiplier: 2},
		ResetCycle: ResetCycle{
			IntervalHours: 168,
			MaxFutureDays: 30,
			MarkerFile:    "/var/lib/appointment-bot/last-reset",
		},
		Logging:            Logging{Level: "info", Format: "text"},
		NotifyWorkers:      3,
		Session:            SessionSettings{CookieName: "JSESSIONID", TokenAttempts: 3, TokenPauseSeconds: 2},
		HTTPTimeoutSeconds: 30,
		PauseSeconds:       PauseRange{Min: 5, Max: 10},
	}
}

// LoadSettings reads path as YAML (.yaml/.yml) or JSON with comments, over
// DefaultSettings, and validates the result.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, internaltypes.Mark(errors.Wrapf(err, "read settings %s", path), internaltypes.ErrConfiguration)
	}
	s, err := ParseSettings(raw, filepath.Ext(path))
	if err != nil {
		return Settings{}, errors.Wrapf(err, "settings %s", path)
	}
	return s, nil
}

func ParseSettings(raw []byte, ext string) (Settings, error) {
	s := DefaultSettings()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return Settings{}, internaltypes.Mark(errors.Wrap(err, "parse yaml"), internaltypes.ErrConfiguration)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(raw), &s); err != nil {
			return Settings{}, internaltypes.Mark(errors.Wrap(err, "parse json"), internaltypes.ErrConfiguration)
		}
	}
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	var problems []string
	for name, v := range map[string]string{"base_url": s.BaseURL, "site_url": s.SiteURL} {
		u, err := url.Parse(v)
		if v == "" || err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, name+" must be an absolute URL")
		}
	}
	if strings.TrimSpace(s.Email) == "" {
		problems = append(problems, "email is required")
	}
	if len(s.Prefixes) == 0 {
		problems = append(problems, "prefixes must not be empty")
	}
	if s.RepeatMinutes < 1 {
		problems = append(problems, "repeat_minutes must be >= 1")
	}
	if s.RetrySettings.MaxRetries < 1 || s.RetrySettings.InitialDelay < 0 || s.RetrySettings.DelayMultiplier < 1 {
		problems = append(problems, "retry_settings needs max_retries >= 1, initial_delay >= 0, delay_multiplier >= 1")
	}
	if s.ResetCycle.IntervalHours < 1 || s.ResetCycle.MaxFutureDays < 0 {
		problems = append(problems, "reset_cycle needs interval_hours >= 1 and max_future_days >= 0")
	}
	if s.ResetCycle.Enabled && s.ResetCycle.MarkerFile == "" {
		problems = append(problems, "reset_cycle.marker_file is required when the reset cycle is enabled")
	}
	if s.NotifyWorkers < 1 {
		problems = append(problems, "notify_workers must be >= 1")
	}
	if s.Session.CookieName == "" || s.Session.TokenAttempts < 1 || s.Session.TokenPauseSeconds < 0 {
		problems = append(problems, "session needs cookie_name, token_attempts >= 1, token_pause_seconds >= 0")
	}
	if s.HTTPTimeoutSeconds < 1 {
		problems = append(problems, "http_timeout_seconds must be >= 1")
	}
	if s.PauseSeconds.Min < 0 || s.PauseSeconds.Max < s.PauseSeconds.Min {
		problems = append(problems, "pause_seconds needs 0 <= min <= max")
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return internaltypes.Markf(internaltypes.ErrConfiguration, "invalid settings: %s", strings.Join(problems, "; "))
}

func (s Settings) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   s.RetrySettings.MaxRetries,
		InitialDelay: seconds(s.RetrySettings.InitialDelay),
		Multiplier:   s.RetrySettings.DelayMultiplier,
		MaxJitter:    time.Second,
	}
}

func (s Settings) RepeatInterval() time.Duration {
	return time.Duration(s.RepeatMinutes) * time.Minute
}

func (s Settings) ResetInterval() time.Duration {
	return time.Duration(s.ResetCycle.IntervalHours) * time.Hour
}

func (s Settings) HTTPTimeout() time.Duration {
	return time.Duration(s.HTTPTimeoutSeconds) * time.Second
}

func (s Settings) TokenPause() time.Duration {
	return seconds(s.Session.TokenPauseSeconds)
}

func (s Settings) Pause() (time.Duration, time.Duration) {
	return seconds(s.PauseSeconds.Min), seconds(s.PauseSeconds.Max)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
