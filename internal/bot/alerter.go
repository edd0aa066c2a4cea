package bot

import (
	"context"
	"log/slog"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/core/telegram/sender"
	"github.com/etokosmo/pizza-shop/internal/shop"
)

// Alerter forwards operational alerts to the admin chat through the async sender.
type Alerter struct {
	adminID    int64
	chat       *Chat
	dispatcher *sender.Dispatcher
}

var _ shop.Alerter = (*Alerter)(nil)

// NewAlerter returns an alerter that writes to adminID. With adminID zero alerts are only logged.
func NewAlerter(adminID int64, chat *Chat, dispatcher *sender.Dispatcher) *Alerter {
	return &Alerter{adminID: adminID, chat: chat, dispatcher: dispatcher}
}

// Alert queues text for the admin. It never blocks on the Telegram call.
func (a *Alerter) Alert(ctx context.Context, text string) {
	logger.Warn(ctx, "app", "alert.raised", slog.String("payload", logger.SanitizeLimit(text, 256)))
	if a.adminID == 0 || a.chat == nil {
		return
	}
	send := func(ctx context.Context) error { return a.chat.SendText(ctx, a.adminID, text) }
	if a.dispatcher == nil {
		if err := send(context.WithoutCancel(ctx)); err != nil {
			logger.Error(ctx, "app", "alert.sent", slog.String("status", "fail"), slog.String("err", err.Error()))
		}
		return
	}
	job := sender.Job{Action: "alert", Method: "sendMessage", ChatID: a.adminID, Run: send}
	if err := a.dispatcher.Enqueue(ctx, job); err != nil {
		logger.Error(ctx, "app", "alert.sent", slog.String("status", "fail"), slog.String("err", err.Error()))
	}
}
