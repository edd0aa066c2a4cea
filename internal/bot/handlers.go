package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/etokosmo/pizza-shop/core/logger"
	tg "github.com/etokosmo/pizza-shop/core/telegram"
	"github.com/etokosmo/pizza-shop/core/telegram/callbacks"
	"github.com/etokosmo/pizza-shop/core/telegram/commands"
	tghelpers "github.com/etokosmo/pizza-shop/core/telegram/helpers"
	"github.com/etokosmo/pizza-shop/core/telegram/middleware"
	"github.com/etokosmo/pizza-shop/core/telegram/router"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/shop"

	tele "gopkg.in/telebot.v4"
)

// Dispatcher handles shop events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev shop.Event) error
}

// Payments approves pre-checkout queries and completes paid orders.
type Payments interface {
	PreCheckout(ctx context.Context, payload string) (ok bool, declineMessage string)
	Paid(ctx context.Context, chatID int64, payload string, total int64, currency string) error
}

// PointLister lists the pizzerias of a flow.
type PointLister interface {
	ListDeliveryPoints(ctx context.Context, flow string) ([]catalog.DeliveryPoint, error)
}

// Options wires Handlers.
type Options struct {
	Machine  Dispatcher
	Payments Payments
	Points   PointLister
	Flow     string
	Policy   delivery.Policy
	AdminID  int64
}

// Handlers are the telebot handlers of the ordering bot.
type Handlers struct {
	opts Options
}

// NewHandlers validates opts.
func NewHandlers(opts Options) (*Handlers, error) {
	if opts.Machine == nil {
		return nil, errors.New("bot: machine is required")
	}
	if opts.Payments == nil {
		return nil, errors.New("bot: payments are required")
	}
	return &Handlers{opts: opts}, nil
}

// Register adds the bot's commands and button callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	if err := reg.RegisterCommand("/start", commands.Command{
		Handler:     h.OnEvent,
		Description: "Show the menu",
	}); err != nil {
		return err
	}
	if h.opts.Points != nil {
		if err := reg.RegisterCommand("/points", commands.Command{
			Handler:     h.OnPoints,
			Description: "List pizzerias and courier contacts",
			AdminOnly:   true,
		}); err != nil {
			return err
		}
	}
	for _, action := range shop.Actions {
		if err := reg.RegisterCallback(action, h.OnEvent); err != nil {
			return err
		}
	}
	return nil
}

// Routes returns every telebot route of the bot, registering commands and callbacks into reg first.
func (h *Handlers) Routes(reg *tg.Registry) ([]tg.Route, error) {
	if err := h.Register(reg); err != nil {
		return nil, err
	}
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: h.opts.AdminID})
	routes = append(routes, router.CallbackRoute(reg))
	routes = append(routes, router.MessageRoutes(reg, router.MessageOptions{
		Text:     h.OnEvent,
		Location: h.OnEvent,
	})...)
	return append(routes,
		tg.Route{Endpoint: tele.OnCheckout, Handler: guard(h.OnCheckout)},
		tg.Route{Endpoint: tele.OnPayment, Handler: guard(h.OnPayment)},
	), nil
}

// OnEvent feeds a command, button, text or location update to the machine.
func (h *Handlers) OnEvent(c tele.Context) error {
	ev, ok := EventFrom(c)
	if !ok {
		return nil
	}
	return h.opts.Machine.Dispatch(tghelpers.BuildContext(c), ev)
}

// OnCheckout answers a pre-checkout query.
func (h *Handlers) OnCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	ok, msg := h.opts.Payments.PreCheckout(tghelpers.BuildContext(c), q.Payload)
	if ok {
		return c.Accept()
	}
	return c.Accept(msg)
}

// OnPayment completes a successful payment.
func (h *Handlers) OnPayment(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Payment == nil || c.Chat() == nil {
		return nil
	}
	p := msg.Payment
	return h.opts.Payments.Paid(tghelpers.BuildContext(c), c.Chat().ID, p.Payload, int64(p.Total), p.Currency)
}

// OnPoints replies with the configured pizzerias.
func (h *Handlers) OnPoints(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	points, err := h.opts.Points.ListDeliveryPoints(ctx, h.opts.Flow)
	if err != nil {
		logger.Error(ctx, "tg", "points.listed", slog.String("status", "fail"), slog.String("err", err.Error()))
		return c.Send("Could not load pizzerias: " + err.Error())
	}
	text := FormatPoints(points)
	if limit := h.opts.Policy.MaxDeliveryMeters(); limit > 0 {
		text += fmt.Sprintf("\nDelivery radius: %d m", limit)
	}
	return c.Send(text)
}

// FormatPoints renders pizzerias one per line.
func FormatPoints(points []catalog.DeliveryPoint) string {
	if len(points) == 0 {
		return "No pizzerias are configured."
	}
	var b strings.Builder
	for i, p := range points {
		contact := p.Contact
		if contact == "" {
			contact = "no courier"
		}
		fmt.Fprintf(&b, "%d. %s (%.6f, %.6f) courier: %s\n", i+1, p.Address, p.Point.Lat, p.Point.Lon, contact)
	}
	return strings.TrimRight(b.String(), "\n")
}

// EventFrom converts a telebot update into a shop event.
func EventFrom(c tele.Context) (shop.Event, bool) {
	chat, user := c.Chat(), c.Sender()
	if chat == nil || user == nil {
		return shop.Event{}, false
	}
	ev := shop.Event{
		UpdateID:  c.Update().ID,
		ChatID:    chat.ID,
		UserID:    user.ID,
		FirstName: user.FirstName,
	}

	if cb := c.Callback(); cb != nil {
		ev.Kind = shop.EventButton
		ev.Action, ev.Arg = callbacks.ParseCallbackData(cb)
		ev.CallbackID = cb.ID
		if cb.Message != nil {
			ev.MessageID = cb.Message.ID
		}
		return ev, ev.Action != ""
	}

	msg := c.Message()
	if msg == nil {
		return shop.Event{}, false
	}
	ev.MessageID = msg.ID
	switch {
	case msg.Location != nil:
		ev.Kind = shop.EventLocation
		ev.Location = &geo.Point{Lat: float64(msg.Location.Lat), Lon: float64(msg.Location.Lng)}
	case strings.HasPrefix(msg.Text, "/"):
		ev.Kind = shop.EventCommand
		cmd, _, _ := strings.Cut(strings.TrimPrefix(msg.Text, "/"), " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		ev.Command = strings.ToLower(cmd)
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = shop.EventText
		ev.Text = strings.TrimSpace(msg.Text)
	default:
		return shop.Event{}, false
	}
	return ev, true
}

func guard(h tele.HandlerFunc) tele.HandlerFunc {
	return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
}

// OnLimited answers rate-limited button presses so the client stops its spinner.
func OnLimited(c tele.Context) error {
	if c.Callback() == nil {
		return nil
	}
	return c.Respond(&tele.CallbackResponse{Text: "Too many requests, please wait a second"})
}
