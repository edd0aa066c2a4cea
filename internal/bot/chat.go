// Package bot connects the ordering machine to Telegram: it turns updates into
// shop events and carries the machine's replies, invoices and courier orders back.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/etokosmo/pizza-shop/core/telegram/keyboard"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/payment"
	"github.com/etokosmo/pizza-shop/internal/shop"

	tele "gopkg.in/telebot.v4"
)

// Chat sends through a telebot Bot. It implements shop.Chat and payment.Messenger.
// Telebot calls are bounded by the bot's HTTP client; ctx is checked before each call.
type Chat struct {
	bot *tele.Bot
}

var (
	_ shop.Chat         = (*Chat)(nil)
	_ payment.Messenger = (*Chat)(nil)
)

// NewChat wraps bot.
func NewChat(bot *tele.Bot) *Chat {
	return &Chat{bot: bot}
}

// SendMessage sends text with an optional inline keyboard.
func (c *Chat) SendMessage(ctx context.Context, chatID int64, text string, kb shop.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.send_message", err)
	}
	_, err := c.bot.Send(tele.ChatID(chatID), text, sendOptions(kb))
	return wrap("tg.send_message", err)
}

// SendText implements payment.Messenger.
func (c *Chat) SendText(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, chatID, text, nil)
}

// SendPhoto sends an image by URL with a caption.
func (c *Chat) SendPhoto(ctx context.Context, chatID int64, url, caption string, kb shop.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.send_photo", err)
	}
	photo := &tele.Photo{File: tele.FromURL(url), Caption: caption}
	_, err := c.bot.Send(tele.ChatID(chatID), photo, sendOptions(kb))
	return wrap("tg.send_photo", err)
}

// DeleteMessage removes a message previously sent to chatID.
func (c *Chat) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.delete_message", err)
	}
	msg := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	return wrap("tg.delete_message", c.bot.Delete(msg))
}

// AnswerButton acknowledges a button press, showing text as a toast when set.
func (c *Chat) AnswerButton(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.answer_callback", err)
	}
	resp := &tele.CallbackResponse{Text: text}
	return wrap("tg.answer_callback", c.bot.Respond(&tele.Callback{ID: callbackID}, resp))
}

// NotifyFulfiller sends the order text and then the delivery location to a courier.
func (c *Chat) NotifyFulfiller(ctx context.Context, contact, text string, at geo.Point) error {
	to, err := ParseContact(contact)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.notify_fulfiller", err)
	}
	if _, err := c.bot.Send(to, text); err != nil {
		return wrap("tg.notify_fulfiller", err)
	}
	loc := &tele.Location{Lat: float32(at.Lat), Lng: float32(at.Lon)}
	_, err = c.bot.Send(to, loc)
	return wrap("tg.notify_fulfiller", err)
}

// SendInvoice sends a payable invoice.
func (c *Chat) SendInvoice(ctx context.Context, chatID int64, inv payment.Invoice) error {
	if err := ctx.Err(); err != nil {
		return errx.Transport("tg.send_invoice", err)
	}
	_, err := c.bot.Send(tele.ChatID(chatID), toInvoice(inv))
	return wrap("tg.send_invoice", err)
}

func toInvoice(inv payment.Invoice) *tele.Invoice {
	prices := make([]tele.Price, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		prices = append(prices, tele.Price{Label: l.Label, Amount: int(l.Amount)})
	}
	return &tele.Invoice{
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    inv.Currency,
		Token:       inv.ProviderToken,
		Start:       inv.StartParameter,
		Prices:      prices,
		Total:       int(inv.Total()),
	}
}

// Markup converts a shop keyboard into an inline reply markup. Button actions
// become the callback unique and arguments the payload.
func Markup(kb shop.Keyboard) *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(kb))
	for _, row := range kb {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Arg})
		}
		rows = append(rows, r)
	}
	return keyboard.InlineButtonsRows(rows...)
}

func sendOptions(kb shop.Keyboard) *tele.SendOptions {
	return &tele.SendOptions{ReplyMarkup: Markup(kb)}
}

// contactRecipient addresses a chat by @username.
type contactRecipient string

func (r contactRecipient) Recipient() string { return string(r) }

// ParseContact turns a courier contact (numeric chat id or @username) into a recipient.
func ParseContact(contact string) (tele.Recipient, error) {
	contact = strings.TrimSpace(contact)
	if id, err := strconv.ParseInt(contact, 10, 64); err == nil {
		if id == 0 {
			return nil, errx.Invalid("tg.parse_contact", fmt.Errorf("zero chat id"))
		}
		return tele.ChatID(id), nil
	}
	if name := strings.TrimPrefix(contact, "@"); name != "" && !strings.ContainsAny(name, " /") {
		return contactRecipient("@" + name), nil
	}
	return nil, errx.Invalid("tg.parse_contact", fmt.Errorf("bad courier contact %q", contact))
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errx.Transport(op, err)
}
