// Package notifier delivers scheduled notifications (§4.12) through a
// narrow send-only capability, so the scheduler never depends on a
// concrete bot implementation.
package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/instarelay/instacore/internal/logger"
)

// Notifier is the capability the C12 delivery loop needs (§6).
type Notifier interface {
	Send(ctx context.Context, chatID int64, message, buttonText, buttonURL string) error
}

// TelegramNotifier sends notifications through a Telegram bot. It is the
// only Notifier implementation wired in production; tests use a hand
// rolled fake implementing the same interface.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramNotifier builds a TelegramNotifier from an already
// authenticated bot instance.
func NewTelegramNotifier(bot *tgbotapi.BotAPI) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

// Send delivers one message, attaching an inline button when buttonText
// and buttonURL are both set.
func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, message, buttonText, buttonURL string) error {
	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = "html"

	if buttonText != "" && buttonURL != "" {
		button := tgbotapi.NewInlineKeyboardButtonURL(buttonText, buttonURL)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button))
	}

	if _, err := n.bot.Send(msg); err != nil {
		logger.Warn("failed to send notification", map[string]interface{}{"chat_id": chatID, "error": err.Error()})
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
