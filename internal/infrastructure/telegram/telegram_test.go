package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/retry"
)

const token = "123:abc"

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:    srv.URL,
		Token:      token,
		HTTPClient: srv.Client(),
		Retrier:    retry.New(retry.Policy{MaxRetries: 3, Multiplier: 1}, retry.RetryIf(isTransient)),
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

var visit = booking.VisitEvent{
	ServiceName: "Paszport",
	SlotLength:  30,
	Date:        "2024-03-02",
	Time:        "09:00",
	Phone:       "48668123456",
	ChannelName: "Kraków",
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrConfiguration))
}

func TestVisitRegistered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "-100200", body["chat_id"])
		assert.Equal(t, "📣 Wizyta zarejestrowana\n✔️ Sprawa: Paszport\n⏩ Długość: 30 minut\n📅 Data: 2024-03-02\n🕗 Godzina: 09:00\n📞 Numer: 48668123456\n\nWizyta wykorzystana: ✅Nie", body["text"])
		markup := body["reply_markup"].(map[string]any)
		button := markup["inline_keyboard"].([]any)[0].([]any)[0].(map[string]any)
		assert.Equal(t, "Wykorzystać wizytę", button["text"])
		assert.Equal(t, "mark_used", button["callback_data"])
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77,"chat":{"id":-100200},"text":"x"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	n := NewNotifier(newTestClient(t, srv), discardLogger())
	h, err := n.VisitRegistered(context.Background(), "-100200", visit)
	require.NoError(t, err)
	assert.Equal(t, booking.MessageHandle{ChatID: "-100200", MessageID: 77}, h)
}

func TestErrorOccurred(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		got, _ = body["text"].(string)
		_, hasMarkup := body["reply_markup"]
		assert.False(t, hasMarkup)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	n := NewNotifier(newTestClient(t, srv), discardLogger())
	require.NoError(t, n.ErrorOccurred(context.Background(), "1", "session refused"))
	assert.Equal(t, "⚠️ Błąd w systemie rejestracji:\nsession refused", got)
}

func TestAPIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv).SendMessage(context.Background(), "1", "hi", nil)
	require.Error(t, err)
	assert.True(t, IsAPIError(err, 400))
	assert.False(t, IsAPIError(err, 429))
	assert.True(t, errors.Is(err, internaltypes.ErrRemoteRejection))
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransientFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/editMessageText", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "bad gateway")
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv).EditMessageText(context.Background(), "1", 5, "text"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcherMarksVisitUsed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		offsets []float64
		edits   []map[string]any
		polls   atomic.Int32
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		mu.Lock()
		offsets = append(offsets, body["offset"].(float64))
		mu.Unlock()
		switch polls.Add(1) {
		case 1:
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":41,"callback_query":{"id":"cb-1","data":"mark_used",
				"message":{"message_id":77,"chat":{"id":-100200},"text":"📣 Wizyta zarejestrowana\n✔️ Sprawa: Paszport\n\nWizyta wykorzystana: ✅Nie"}}}]}`)
		case 2:
			cancel()
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		}
	})
	mux.HandleFunc("/bot"+token+"/answerCallbackQuery", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cb-1", decodeBody(t, r)["callback_query_id"])
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	})
	mux.HandleFunc("/bot"+token+"/editMessageText", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		mu.Lock()
		edits = append(edits, body)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{
		Client:     newTestClient(t, srv),
		Workers:    2,
		PollPause:  time.Millisecond,
		ErrorPause: time.Millisecond,
		Logger:     discardLogger(),
	})
	require.NoError(t, d.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, edits, 1)
	assert.Equal(t, "-100200", edits[0]["chat_id"])
	assert.Equal(t, float64(77), edits[0]["message_id"])
	assert.Equal(t, "📣 Wizyta zarejestrowana\n✔️ Sprawa: Paszport\n\nWizyta wykorzystana: ❌Tak", edits[0]["text"])
	require.GreaterOrEqual(t, len(offsets), 2)
	assert.Equal(t, float64(1), offsets[0])
	assert.Equal(t, float64(42), offsets[1])
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+token+"/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d := NewDispatcher(DispatcherConfig{Client: newTestClient(t, srv), Logger: discardLogger()})

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}
