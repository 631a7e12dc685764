package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel posts and edits progress messages through the Telegram Bot API.
type TelegramChannel struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramChannel(token string) (*TelegramChannel, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot client: %w", err)
	}

	return &TelegramChannel{bot: bot}, nil
}

func (c *TelegramChannel) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send telegram message: %w", err)
	}

	return sent.MessageID, nil
}

func (c *TelegramChannel) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("failed to edit telegram message: %w", err)
	}

	return nil
}
