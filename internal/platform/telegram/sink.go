package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

var _ types.NotificationSink = (*Sink)(nil)

// Sink delivers coordinator notifications through the Telegram Bot API.
type Sink struct {
	logger *slog.Logger
	api    *tgbotapi.BotAPI
}

func NewSink(api *tgbotapi.BotAPI, logger *slog.Logger) *Sink {
	return &Sink{logger: logger, api: api}
}

// Deliver sends one message, optionally with a single URL button.
func (s *Sink) Deliver(ctx context.Context, chatID int64, text string, actionURL string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if actionURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("📢 Join the channel", actionURL),
			),
		)
	}

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message to %d: %w", chatID, err)
	}
	s.logger.DebugContext(ctx, "notification delivered", slog.Int64("chatID", chatID))
	return nil
}
