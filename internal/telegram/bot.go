// Package telegram sends seller payment alerts through a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot *bot.Bot
	api messenger
	log *slog.Logger
}

// New creates a new telegram bot
func New(token string, log *slog.Logger) (*Bot, error) {
	b := &Bot{log: log}

	tgBot, err := bot.New(token, bot.WithDefaultHandler(b.defaultHandler))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	b.api = tgBot

	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)

	return b, nil
}

// Serve polls for updates until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context) error {
	b.log.Info("telegram bot polling started")
	b.bot.Start(ctx)
	return ctx.Err()
}

func (b *Bot) String() string { return "telegram-bot" }

// --- Handlers ---

// startHandler replies with the chat id to put in TELEGRAM_ALERT_CHAT_ID.
func (b *Bot) startHandler(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text := fmt.Sprintf(
		"👋 <b>PayLink Relay</b>\n\n"+
			"Settled payments are reported to the chat set in <code>TELEGRAM_ALERT_CHAT_ID</code>.\n\n"+
			"This chat id: <code>%d</code>",
		chatID,
	)

	if err := b.send(ctx, chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) defaultHandler(_ context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.log.Debug("ignoring telegram message", "chat_id", update.Message.Chat.ID)
}

// SendNotification sends an HTML message to a chat
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string) error {
	return b.send(ctx, chatID, text)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
