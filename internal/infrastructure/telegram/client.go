// Package telegram talks to the Telegram Bot API: visit and error
// notifications go out through Notifier, and the "mark used" button presses
// come back through Dispatcher.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/retry"
)

const DefaultBaseURL = "https://api.telegram.org"

type ClientConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	Token   string
	// HTTPClient must allow requests longer than the long-poll timeout.
	// If nil, a client with a 30 s timeout is used.
	HTTPClient *http.Client
	// Retrier is applied to every call except getUpdates. If nil, transient
	// failures are retried three times.
	Retrier *retry.Retrier
	// Limiter paces outbound calls. If nil, 30 calls per second are allowed.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

type Client struct {
	baseURL string
	hc      *http.Client
	retrier *retry.Retrier
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, internaltypes.Markf(internaltypes.ErrConfiguration, "telegram: bot token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, internaltypes.Mark(errors.Wrapf(err, "telegram: invalid base URL %q", base), internaltypes.ErrConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	r := cfg.Retrier
	if r == nil {
		r = NewRetrier(retry.Policy{MaxRetries: 3, InitialDelay: time.Second, Multiplier: 2, MaxJitter: time.Second}, logger)
	}
	lim := cfg.Limiter
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(time.Second/30), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/") + "/bot" + cfg.Token,
		hc:      hc,
		retrier: r,
		limiter: lim,
		logger:  logger,
	}, nil
}

// NewRetrier retries transport failures, 429 and 5xx responses.
func NewRetrier(p retry.Policy, logger *slog.Logger) *retry.Retrier {
	return retry.New(p, retry.RetryIf(isTransient), retry.WithLogger(logger, "telegram"))
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string                `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageTextRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

type answerCallbackQueryRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
}

type getUpdatesRequest struct {
	Offset  int64    `json:"offset"`
	Timeout int      `json:"timeout"`
	Allowed []string `json:"allowed_updates,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string, markup *InlineKeyboardMarkup) (Message, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup}, &msg)
	return msg, err
}

func (c *Client) EditMessageText(ctx context.Context, chatID string, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", editMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text}, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackQueryRequest{CallbackQueryID: id}, nil)
}

// GetUpdates long-polls for updates after offset-1. It is not retried; the
// caller owns the poll cadence.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	req := getUpdatesRequest{Offset: offset, Timeout: int(timeout / time.Second), Allowed: []string{"callback_query"}}
	if err := c.callOnce(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	return c.retrier.DoContext(ctx, func() error {
		return c.callOnce(ctx, method, payload, out)
	})
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *Client) callOnce(ctx context.Context, method string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "telegram: encode %s", method)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrapf(err, "telegram: build %s", method)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of the message.
		return internaltypes.Markf(internaltypes.ErrTransientNetwork, "telegram: %s failed: %s", method, redact(err))
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return internaltypes.Mark(errors.Wrapf(err, "telegram: read %s response", method), internaltypes.ErrTransientNetwork)
	}

	var env envelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr != nil {
		return statusKind(res.StatusCode, fmt.Errorf("telegram: unexpected %d response from %s: %s", res.StatusCode, method, body))
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description, StatusCode: res.StatusCode}
		return statusKind(res.StatusCode, apiErr)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.Wrapf(err, "telegram: decode %s result", method)
	}
	return nil
}

func statusKind(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return internaltypes.Mark(err, internaltypes.ErrTransientNetwork)
	case status == http.StatusUnauthorized:
		return internaltypes.Mark(err, internaltypes.ErrConfiguration)
	default:
		return internaltypes.Mark(err, internaltypes.ErrRemoteRejection)
	}
}

func redact(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err.Error()
	}
	return err.Error()
}

func isTransient(err error) bool {
	return errors.Is(err, internaltypes.ErrTransientNetwork)
}
