package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
)

const (
	markUsedData   = "mark_used"
	markUsedButton = "Wykorzystać wizytę"
	unusedTrailer  = "\n\nWizyta wykorzystana: ✅Nie"
	usedTrailer    = "\n\nWizyta wykorzystana: ❌Tak"
	errorPrefix    = "⚠️ Błąd w systemie rejestracji:\n"
)

// FormatVisit renders the body of a visit notification without the usage
// trailer.
func FormatVisit(ev booking.VisitEvent) string {
	return fmt.Sprintf("📣 Wizyta zarejestrowana\n✔️ Sprawa: %s\n⏩ Długość: %d minut\n📅 Data: %s\n🕗 Godzina: %s\n📞 Numer: %s",
		ev.ServiceName, ev.SlotLength, ev.Date, ev.Time, ev.Phone)
}

// bodyOf strips the usage trailer from a message previously sent by
// VisitRegistered.
func bodyOf(text string) string {
	body, _, _ := strings.Cut(text, "\n\n")
	return body
}

type Notifier struct {
	client *Client
	logger *slog.Logger
}

var _ booking.Notifier = (*Notifier)(nil)

func NewNotifier(c *Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: c, logger: logger}
}

func (n *Notifier) VisitRegistered(ctx context.Context, chatID string, ev booking.VisitEvent) (booking.MessageHandle, error) {
	markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: markUsedButton, CallbackData: markUsedData},
	}}}
	msg, err := n.client.SendMessage(ctx, chatID, FormatVisit(ev)+unusedTrailer, markup)
	if err != nil {
		return booking.MessageHandle{}, err
	}
	n.logger.Info("visit notification sent", "chat_id", chatID, "message_id", msg.MessageID, "channel", ev.ChannelName)
	return booking.MessageHandle{ChatID: chatID, MessageID: msg.MessageID}, nil
}

func (n *Notifier) ErrorOccurred(ctx context.Context, chatID string, message string) error {
	if _, err := n.client.SendMessage(ctx, chatID, errorPrefix+message, nil); err != nil {
		return err
	}
	n.logger.Info("error notification sent", "chat_id", chatID)
	return nil
}
