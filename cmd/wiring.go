package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/qmatic-scheduler/internal/application/scheduler"
	"github.com/example/qmatic-scheduler/internal/application/usecases"
	"github.com/example/qmatic-scheduler/internal/config"
	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/infrastructure/document"
	"github.com/example/qmatic-scheduler/internal/infrastructure/postgres"
	"github.com/example/qmatic-scheduler/internal/infrastructure/qmatic"
	"github.com/example/qmatic-scheduler/internal/infrastructure/telegram"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/clock"
	"github.com/example/qmatic-scheduler/internal/pkg/logging"
)

// deps is the part of the object graph every command shares.
type deps struct {
	cfg      config.Config
	settings config.Settings
	log      *logging.Logger
	clock    clock.Clock
	doc      document.Document
	pool     *pgxpool.Pool
	store    watermark.Store
}

// loadDeps reads configuration, sets up logging, and opens the watermark
// store. The database is opened when DATABASE_URL is set and migrated when
// migrate is true.
func loadDeps(ctx context.Context, migrate bool) (*deps, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	level := settings.Logging.Level
	if cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	logger, err := logging.New(logging.Options{Level: level, Format: settings.Logging.Format, File: settings.Logging.File})
	if err != nil {
		return nil, internaltypes.Mark(err, internaltypes.ErrConfiguration)
	}
	d := &deps{cfg: cfg, settings: settings, log: logger, clock: clock.NewRealClock()}

	if d.doc, err = document.Load(cfg.ChannelsPath()); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if d.pool, err = postgres.Open(ctx, cfg.DatabaseURL); err != nil {
			d.Close()
			return nil, err
		}
		if migrate {
			if err := postgres.Migrate(ctx, d.pool); err != nil {
				d.Close()
				return nil, err
			}
		}
	}

	switch cfg.WatermarkBackend {
	case config.BackendPostgres:
		d.store = postgres.NewWatermarkStore(d.pool, d.logger())
	default:
		d.store = document.NewFileStore(cfg.ChannelsPath(), d.logger())
	}
	d.logger().Info("configuration loaded",
		"settings", cfg.SettingsPath(),
		"channels", cfg.ChannelsPath(),
		"watermarks", cfg.WatermarkBackend,
		"journal", d.pool != nil,
	)
	return d, nil
}

func (d *deps) logger() *slog.Logger { return d.log.Logger }

func (d *deps) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
	_ = d.log.Close()
}

func (d *deps) journal() booking.AttemptJournal {
	if d.pool == nil {
		return booking.NopJournal{}
	}
	return postgres.NewJournal(d.pool)
}

// telegram returns the notifier and the callback dispatcher. Both are no-ops
// (a nil dispatcher) when Telegram is disabled or has no token.
func (d *deps) telegram() (booking.Notifier, *telegram.Dispatcher, error) {
	token := d.doc.Telegram.BotToken
	if d.cfg.TelegramToken != "" {
		token = d.cfg.TelegramToken
	}
	if !d.doc.Telegram.Enabled || token == "" {
		d.logger().Info("telegram disabled")
		return booking.NopNotifier{}, nil, nil
	}
	client, err := telegram.NewClient(telegram.ClientConfig{
		BaseURL:    d.cfg.TelegramAPIURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: d.settings.HTTPTimeout()},
		Retrier:    telegram.NewRetrier(d.settings.RetryPolicy(), d.logger()),
		Logger:     d.logger(),
	})
	if err != nil {
		return nil, nil, err
	}
	dispatcher := telegram.NewDispatcher(telegram.DispatcherConfig{
		Client:  client,
		Workers: d.settings.NotifyWorkers,
		Logger:  d.logger(),
	})
	return telegram.NewNotifier(client, d.logger()), dispatcher, nil
}

func (d *deps) cookies() qmatic.CookieExtractor {
	s := d.settings.Session
	switch {
	case d.cfg.SessionCookie != "":
		return qmatic.StaticCookie(d.cfg.SessionCookie)
	case len(s.CookieCommand) > 0:
		return qmatic.CommandCookieExtractor{Argv: s.CookieCommand, Name: s.CookieName, Timeout: 4 * d.settings.HTTPTimeout()}
	default:
		return qmatic.HTTPCookieExtractor{Name: s.CookieName, Timeout: d.settings.HTTPTimeout()}
	}
}

func (d *deps) cycle(notifier booking.Notifier) (*scheduler.Cycle, error) {
	establisher, err := qmatic.NewEstablisher(qmatic.EstablisherConfig{
		BaseURL:       d.settings.BaseURL,
		SiteURL:       d.settings.SiteURL,
		CookieName:    d.settings.Session.CookieName,
		Cookies:       d.cookies(),
		TokenAttempts: d.settings.Session.TokenAttempts,
		TokenPause:    d.settings.TokenPause(),
		Reads:         qmatic.NewReadRetrier(d.settings.RetryPolicy(), d.logger()),
		HTTPClient:    &http.Client{Timeout: d.settings.HTTPTimeout()},
		Logger:        d.logger(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "session establisher")
	}

	pauseMin, pauseMax := d.settings.Pause()
	pipeline, err := usecases.NewPipeline(usecases.PipelineConfig{
		Email:    d.settings.Email,
		Prefixes: d.settings.Prefixes,
		PauseMin: pauseMin,
		PauseMax: pauseMax,
		Finder:   usecases.NewSlotFinder(d.clock, d.logger()),
		Notifier: notifier,
		Journal:  d.journal(),
		Clock:    d.clock,
		Logger:   d.logger(),
	})
	if err != nil {
		return nil, err
	}

	return scheduler.NewCycle(scheduler.CycleConfig{
		Channels: document.Source{Path: d.cfg.ChannelsPath()},
		Sessions: establisher,
		Store:    d.store,
		Pipeline: pipeline,
		Notifier: notifier,
		Logger:   d.logger(),
	}), nil
}

func (d *deps) resetPolicy() scheduler.ResetPolicy {
	rc := d.settings.ResetCycle
	return scheduler.ResetPolicy{
		Enabled:       rc.Enabled,
		Interval:      d.settings.ResetInterval(),
		MaxFutureDays: rc.MaxFutureDays,
		Marker:        document.ResetMarker{Path: rc.MarkerFile, Clock: d.clock},
	}
}
