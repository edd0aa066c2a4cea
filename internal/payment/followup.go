package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/etokosmo/pizza-shop/core/logger"
)

const (
	defaultFollowupText = "Enjoy your meal! If your pizza has not arrived, just reply to this chat and we will sort it out."
	thanksText          = "Thank you for your payment!"
	orderCreatedText    = "Your order has been created."
	declineText         = "Something went wrong with this payment, please try again."
)

// Messenger sends plain text to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Followup thanks the payer and schedules a single deferred message.
// Scheduled messages are fire-and-forget: failures are logged, never retried.
type Followup struct {
	cfg       Config
	builder   *Builder
	messenger Messenger
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewFollowup wires a follow-up scheduler.
func NewFollowup(cfg Config, builder *Builder, messenger Messenger) *Followup {
	return &Followup{
		cfg:       cfg,
		builder:   builder,
		messenger: messenger,
		afterFunc: time.AfterFunc,
		timers:    make(map[*time.Timer]struct{}),
	}
}

// PreCheckout validates the invoice payload. The returned message is shown on decline.
func (f *Followup) PreCheckout(ctx context.Context, payload string) (ok bool, declineMessage string) {
	if err := f.builder.ValidatePreCheckout(payload); err != nil {
		logger.Warn(ctx, "payment", "precheckout.declined",
			slog.String("status", "declined"),
			slog.String("err", err.Error()),
		)
		return false, declineText
	}
	logger.Info(ctx, "payment", "precheckout.approved", slog.String("status", "ok"))
	return true, ""
}

// Paid handles a completed payment for chatID.
func (f *Followup) Paid(ctx context.Context, chatID int64, payload string, total int64, currency string) error {
	orderID, perr := f.builder.OrderID(payload)
	ctx = logger.WithOrderID(ctx, orderID)
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Int64("total", total),
		slog.String("currency", currency),
	}
	if perr != nil {
		attrs = append(attrs, slog.String("payload_err", perr.Error()))
		logger.Warn(ctx, "payment", "payment.succeeded", attrs...)
	} else {
		logger.Info(ctx, "payment", "payment.succeeded", attrs...)
	}
	for _, text := range []string{thanksText, orderCreatedText} {
		if err := f.messenger.SendText(ctx, chatID, text); err != nil {
			return err
		}
	}
	f.Schedule(chatID, orderID)
	return nil
}

// Schedule arms the deferred message for chatID.
func (f *Followup) Schedule(chatID int64, orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	var t *time.Timer
	t = f.afterFunc(f.cfg.FollowupDelay, func() {
		f.mu.Lock()
		delete(f.timers, t)
		f.mu.Unlock()

		ctx, cancel := context.WithTimeout(logger.WithOrderID(context.Background(), orderID), 30*time.Second)
		defer cancel()
		if err := f.messenger.SendText(ctx, chatID, f.cfg.FollowupText); err != nil {
			logger.Warn(ctx, "payment", "followup.sent",
				slog.String("status", "fail"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
			return
		}
		logger.Info(ctx, "payment", "followup.sent",
			slog.String("status", "ok"),
			slog.Int64("chat_id", chatID),
		)
	})
	f.timers[t] = struct{}{}
}

// Pending returns the number of armed follow-ups.
func (f *Followup) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Stop cancels every pending follow-up and rejects new ones.
func (f *Followup) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	for t := range f.timers {
		t.Stop()
		delete(f.timers, t)
	}
}
