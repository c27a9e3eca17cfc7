package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// maxAlertLen keeps alerts under Telegram's message size limit with headroom
// for the HTML markup.
const maxAlertLen = 3800

// TelegramAlerter forwards edit, deletion, and failure events to an operator
// chat. Routine events (channel ready, messages persisted) are not alerted.
type TelegramAlerter struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegramAlerter(b *bot.Bot, chatID int64) *TelegramAlerter {
	return &TelegramAlerter{bot: b, chatID: chatID}
}

// Run consumes hub events until ctx is done. Send failures are logged and
// dropped; alerting never blocks or retries.
func (a *TelegramAlerter) Run(ctx context.Context, hub *Hub) {
	events, cancel := hub.Subscribe()
	defer cancel()

	slog.Info("telegram alerter started", slog.Int64("chat_id", a.chatID))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if text := a.format(ev); text != "" {
				a.send(ctx, text)
			}
		}
	}
}

func (a *TelegramAlerter) format(ev Event) string {
	switch ev.Kind {
	case KindMessageEdited:
		return fmt.Sprintf("✏️ <b>%s</b> · %s\n%s",
			escapeHTML(ev.Channel.String()), escapeHTML(ev.MessageID),
			RenderEditHTML(ev.OldContent, ev.NewContent))
	case KindMessageDeleted:
		return fmt.Sprintf("🗑 <b>%s</b> · %s\n<s>%s</s>",
			escapeHTML(ev.Channel.String()), escapeHTML(ev.MessageID),
			escapeHTML(ev.Content))
	case KindSyncFailed:
		return fmt.Sprintf("⚠️ <b>%s</b>\nsync failed: <code>%s</code>",
			escapeHTML(ev.Channel.String()), escapeHTML(ev.Error))
	default:
		return ""
	}
}

// send splits oversized alerts on line boundaries the way a human would
// paste them.
func (a *TelegramAlerter) send(ctx context.Context, text string) {
	for _, chunk := range splitAlert(text) {
		a.sendOne(ctx, chunk)
	}
}

func splitAlert(text string) []string {
	if len(text) <= maxAlertLen {
		return []string{text}
	}

	var chunks []string
	var chunk strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if chunk.Len() > 0 && chunk.Len()+1+len(line) > maxAlertLen {
			chunks = append(chunks, chunk.String())
			chunk.Reset()
		}
		if chunk.Len() > 0 {
			chunk.WriteByte('\n')
		}
		chunk.WriteString(line)
	}
	if chunk.Len() > 0 {
		chunks = append(chunks, chunk.String())
	}
	return chunks
}

func (a *TelegramAlerter) sendOne(ctx context.Context, text string) {
	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    a.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		slog.Warn("failed to send telegram alert", slog.Int64("chat_id", a.chatID), slog.Any("err", err))
	}
}
