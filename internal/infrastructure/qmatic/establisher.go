package qmatic

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/retry"
)

type EstablisherConfig struct {
	BaseURL    string
	SiteURL    string
	CookieName string
	Cookies    CookieExtractor

	// TokenAttempts and TokenPause bound the anti-forgery token fetch. The
	// pause is fixed, not exponential.
	TokenAttempts int
	TokenPause    time.Duration

	// Reads retries idempotent GETs on transient failures.
	Reads      *retry.Retrier
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Establisher turns the site URL into an authenticated Session.
type Establisher struct {
	cfg   EstablisherConfig
	token *retry.Retrier
}

var _ booking.SessionOpener = (*Establisher)(nil)

func NewEstablisher(cfg EstablisherConfig) (*Establisher, error) {
	if cfg.BaseURL == "" || cfg.SiteURL == "" {
		return nil, internaltypes.Markf(internaltypes.ErrConfiguration, "base and site URLs are required")
	}
	if cfg.Cookies == nil {
		return nil, internaltypes.Markf(internaltypes.ErrConfiguration, "no cookie extractor")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CookieName == "" {
		cfg.CookieName = "JSESSIONID"
	}
	if cfg.TokenAttempts < 1 {
		cfg.TokenAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Reads == nil {
		cfg.Reads = NewReadRetrier(retry.DefaultPolicy(), cfg.Logger)
	}
	token := retry.New(retry.Policy{
		MaxRetries:   cfg.TokenAttempts,
		InitialDelay: cfg.TokenPause,
		Multiplier:   1,
	}, retry.WithLogger(cfg.Logger, "csrf token"))
	return &Establisher{cfg: cfg, token: token}, nil
}

// NewReadRetrier retries only transient network failures.
func NewReadRetrier(p retry.Policy, logger *slog.Logger) *retry.Retrier {
	return retry.New(p, retry.RetryIf(isTransient), retry.WithLogger(logger, "qmatic read"))
}

// Open satisfies booking.SessionOpener.
func (e *Establisher) Open(ctx context.Context) (booking.Remote, error) {
	s, err := e.Establish(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Establish obtains a session cookie and an anti-forgery token. Every
// failure is marked internaltypes.ErrAuthentication.
func (e *Establisher) Establish(ctx context.Context) (*Session, error) {
	value, ok, err := e.cfg.Cookies.ExtractSessionCookie(ctx, e.cfg.SiteURL)
	if err != nil {
		return nil, internaltypes.Mark(errors.Wrapf(err, "extract %s cookie", e.cfg.CookieName), internaltypes.ErrAuthentication)
	}
	if !ok {
		return nil, internaltypes.Markf(internaltypes.ErrAuthentication, "%s cookie not found at %s", e.cfg.CookieName, e.cfg.SiteURL)
	}

	s := &Session{
		hc:      e.cfg.HTTPClient,
		baseURL: e.cfg.BaseURL,
		siteURL: e.cfg.SiteURL,
		cookie:  e.cfg.CookieName + "=" + value,
		reads:   e.cfg.Reads,
		logger:  e.cfg.Logger,
	}

	token, err := retry.Value(ctx, e.token, func() (string, error) { return s.fetchToken(ctx) })
	if err != nil {
		return nil, internaltypes.Mark(errors.Wrap(err, "anti-forgery token"), internaltypes.ErrAuthentication)
	}
	s.token = token
	e.cfg.Logger.Info("session established", "cookie", e.cfg.CookieName)
	return s, nil
}

func (s *Session) fetchToken(ctx context.Context) (string, error) {
	status, body, err := s.do(ctx, http.MethodGet, "/configuration", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", statusError(status, "configuration")
	}
	var cfg configurationResponse
	if err := decodeJSON(body, &cfg); err != nil {
		return "", err
	}
	if cfg.Token == "" {
		return "", errors.New("configuration response carries no token")
	}
	return cfg.Token, nil
}
