// Package tgbot sends operational alerts to Telegram chats.
package tgbot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const alertPrefix = "⚠️ cinema-payments\n"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Alerter struct {
	bot     sender
	chatIDs []int64
}

func NewAlerter(token string, chatIDs []int64) (*Alerter, error) {
	if len(chatIDs) == 0 {
		return nil, fmt.Errorf("no alert chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newAlerter(bot, chatIDs), nil
}

func newAlerter(bot sender, chatIDs []int64) *Alerter {
	ids := make([]int64, len(chatIDs))
	copy(ids, chatIDs)
	return &Alerter{bot: bot, chatIDs: ids}
}

// Alert delivers message to every configured chat and reports all failures.
func (a *Alerter) Alert(ctx context.Context, message string) error {
	var errs []error
	for _, id := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := tgbotapi.NewMessage(id, alertPrefix+message)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
