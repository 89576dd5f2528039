package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"edu-billing/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*TelegramAlerter)(nil)

// TelegramAlerter posts operator alerts to a fixed ops chat. Delivery is best
// effort; failures are logged and swallowed by callers.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger
}

func NewTelegramAlerter(token string, chatID int64, logger *zerolog.Logger) (*TelegramAlerter, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram alerter needs a token and chat id")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram alerter: %w", err)
	}
	lg := logger.With().Str("component", "TelegramAlerter").Logger()
	return &TelegramAlerter{bot: bot, chatID: chatID, log: &lg}, nil
}

func (a *TelegramAlerter) Notify(ctx context.Context, subject, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(a.chatID, subject+"\n"+text)
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Warn().Err(err).Str("subject", subject).Msg("alert delivery failed")
		return err
	}
	return nil
}
