package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/conductor/internal/observability"
)

const telegramLimit = 4096

type TelegramGateway struct {
	Bot      *tgbotapi.BotAPI
	stopOnce sync.Once
}

func NewTelegramGateway(token string) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}

	observability.Info().
		Add(observability.Str("gateway", "telegram")).
		Add(observability.Str("account", bot.Self.UserName)).
		Msg("authorized")

	return &TelegramGateway{Bot: bot}, nil
}

func (tg *TelegramGateway) Name() string { return "telegram" }

func (tg *TelegramGateway) Start(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return tg.Stop()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}

			user := ""
			if update.Message.From != nil {
				user = update.Message.From.UserName
			}
			observability.Debug().
				Add(observability.Str("gateway", "telegram")).
				Add(observability.Str("user", user)).
				Msg(update.Message.Text)

			h(ctx, tg, Message{
				Gateway: tg.Name(),
				ChatID:  strconv.FormatInt(update.Message.Chat.ID, 10),
				User:    user,
				Text:    update.Message.Text,
			})
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	// Plain text: model output is not guaranteed to be valid Markdown.
	for _, part := range chunks(text, telegramLimit) {
		if _, err := tg.Bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// Stop may be called more than once.
func (tg *TelegramGateway) Stop() error {
	tg.stopOnce.Do(tg.Bot.StopReceivingUpdates)
	return nil
}
