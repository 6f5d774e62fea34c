// internal/notify/telegram.go
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/sessionrelay/internal/types"
)

const maxTelegramMessage = 4096

// Telegram posts permission announcements to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Notify implements Notifier.
func (t *Telegram) Notify(id types.SessionID, perm *types.Permission) error {
	text := fmt.Sprintf("*Approval requested*\n%s\nSession: `%s`", perm.Title, id)
	if perm.CallID != "" {
		text += fmt.Sprintf("\nTool call: `%s`", perm.CallID)
	}
	return t.send(text)
}

func (t *Telegram) send(text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := t.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				slog.Error("telegram send failed", "error", err)
				return err
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
