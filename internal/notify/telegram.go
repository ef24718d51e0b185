// Package notify delivers operational events to an alert channel.
// Delivery is best-effort: the pipeline never blocks or fails because a
// notification could not be sent.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/newspulse/internal/types"
)

const maxTelegramMessage = 4096

// Telegram sends pipeline alerts to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Publish(_ context.Context, event types.NotifyEvent) error {
	text := formatEvent(event)
	if len(text) > maxTelegramMessage {
		text = text[:maxTelegramMessage-3] + "..."
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return types.E(types.KindTransientIO, "send telegram message", err)
	}
	return nil
}

func formatEvent(event types.NotifyEvent) string {
	header := "⚠️ " + event.Kind
	if event.Subject != "" {
		header += " [" + event.Subject + "]"
	}
	return fmt.Sprintf("%s\n%s\n%s", header, event.Message, event.At.Format("2006-01-02 15:04:05 UTC"))
}
