package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/session"
)

func (m *Machine) handleStart(ctx context.Context, t *turn) (session.State, error) {
	return m.showMenu(ctx, t, false)
}

func (m *Machine) handleBrowsingMenu(ctx context.Context, t *turn) (session.State, error) {
	if t.ev.Kind == EventButton {
		switch t.ev.Action {
		case ActionCart:
			return m.showCart(ctx, t)
		case ActionProduct:
			if t.ev.Arg != "" {
				return m.showProduct(ctx, t, t.ev.Arg)
			}
		}
	}
	return m.showMenu(ctx, t, false)
}

func (m *Machine) handleViewingItem(ctx context.Context, t *turn) (session.State, error) {
	if t.ev.Kind == EventButton {
		switch t.ev.Action {
		case ActionBack, ActionMenu:
			return m.showMenu(ctx, t, true)
		case ActionCart:
			return m.showCart(ctx, t)
		case ActionProduct:
			if t.ev.Arg != "" {
				return m.showProduct(ctx, t, t.ev.Arg)
			}
		case ActionAdd:
			if qty, productID, ok := parseAddArg(t.ev.Arg); ok {
				return m.addToCart(ctx, t, productID, qty)
			}
		}
	}
	if t.sc.ProductID != "" {
		return m.showProduct(ctx, t, t.sc.ProductID)
	}
	return m.showMenu(ctx, t, false)
}

func (m *Machine) handleViewingCart(ctx context.Context, t *turn) (session.State, error) {
	if t.ev.Kind == EventButton {
		switch t.ev.Action {
		case ActionMenu:
			return m.showMenu(ctx, t, true)
		case ActionEmail:
			return m.prompt(ctx, t, textEmailPrompt, nil, session.AwaitingEmail)
		case ActionAddress:
			return m.promptAddress(ctx, t)
		case ActionRemove:
			if t.ev.Arg != "" {
				if err := m.catalog.RemoveCartItem(ctx, t.ev.CartID(), t.ev.Arg); err != nil {
					return "", err
				}
				logger.Info(ctx, "shop", "cart.removed", slog.String("product_id", t.ev.Arg))
			}
		}
	}
	return m.showCart(ctx, t)
}

func (m *Machine) handleAwaitingEmail(ctx context.Context, t *turn) (session.State, error) {
	switch t.ev.Kind {
	case EventButton:
		switch t.ev.Action {
		case ActionMenu:
			return m.showMenu(ctx, t, true)
		case ActionAddress:
			return m.promptAddress(ctx, t)
		case ActionCart:
			return m.showCart(ctx, t)
		}
	case EventText:
		email, ok := parseEmail(t.ev.Text)
		if !ok {
			return m.prompt(ctx, t, textEmailInvalid, nil, session.AwaitingEmail)
		}
		name := fmt.Sprintf("%s_tgid-%d", t.ev.FirstName, t.ev.UserID)
		id, err := m.catalog.CreateCustomer(ctx, name, email)
		if err != nil {
			return "", err
		}
		t.sc.CustomerID = id
		return m.prompt(ctx, t, formatEmailSaved(email), navKeyboard(), session.AwaitingEmail)
	}
	return m.prompt(ctx, t, textEmailPrompt, nil, session.AwaitingEmail)
}

func (m *Machine) handleAwaitingAddress(ctx context.Context, t *turn) (session.State, error) {
	switch t.ev.Kind {
	case EventButton:
		switch t.ev.Action {
		case ActionMenu:
			return m.showMenu(ctx, t, true)
		case ActionCart:
			return m.showCart(ctx, t)
		}
	case EventLocation:
		if t.ev.Location != nil {
			return m.offerDelivery(ctx, t, *t.ev.Location)
		}
	case EventText:
		at, err := m.geocoder.Resolve(ctx, t.ev.Text)
		if errors.Is(err, errx.ErrGeocodeUnresolved) {
			return m.prompt(ctx, t, textAddressUnresolved, navKeyboard(), session.AwaitingAddress)
		}
		if err != nil {
			return "", err
		}
		return m.offerDelivery(ctx, t, at)
	}
	return m.promptAddress(ctx, t)
}

func (m *Machine) handleAwaitingDeliveryChoice(ctx context.Context, t *turn) (session.State, error) {
	if t.ev.Kind == EventButton {
		switch t.ev.Action {
		case ActionMenu:
			return m.showMenu(ctx, t, true)
		case ActionAddress:
			return m.promptAddress(ctx, t)
		case ActionDelivery:
			if t.sc.UserPoint != nil && t.sc.Tier.DeliveryAvailable() {
				return m.checkout(ctx, t)
			}
		case ActionPickup:
			if t.sc.NearestAddress != "" {
				return m.prompt(ctx, t, formatPickup(t.sc.NearestAddress), nil, session.BrowsingMenu)
			}
		}
	}
	return m.showOffer(ctx, t)
}

// showMenu renders the catalog. deleteOrigin removes the message the pressed button was on.
func (m *Machine) showMenu(ctx context.Context, t *turn, deleteOrigin bool) (session.State, error) {
	products, err := m.catalog.ListProducts(ctx)
	if err != nil {
		return "", err
	}
	text := textMenuPrompt
	if len(products) == 0 {
		text = textEmptyMenu
	}
	if err := m.chat.SendMessage(ctx, t.ev.ChatID, text, menuKeyboard(products)); err != nil {
		return "", err
	}
	if deleteOrigin {
		m.deleteOrigin(ctx, t)
	}
	return session.BrowsingMenu, nil
}

func (m *Machine) showProduct(ctx context.Context, t *turn, productID string) (session.State, error) {
	p, err := m.catalog.GetProduct(ctx, productID)
	if err != nil {
		return "", err
	}
	caption, kb := formatProduct(p), productKeyboard(p.ID)

	sent := false
	if p.ImageID != "" {
		url, err := m.catalog.GetProductImage(ctx, p.ImageID)
		switch {
		case err == nil:
			if err := m.chat.SendPhoto(ctx, t.ev.ChatID, url, caption, kb); err != nil {
				return "", err
			}
			sent = true
		case errors.Is(err, errx.ErrNotFound):
			logger.Debug(ctx, "shop", "product.image", slog.String("status", "skip"), slog.String("product_id", p.ID))
		default:
			return "", err
		}
	}
	if !sent {
		if err := m.chat.SendMessage(ctx, t.ev.ChatID, caption, kb); err != nil {
			return "", err
		}
	}
	m.deleteOrigin(ctx, t)
	t.sc.ProductID = p.ID
	return session.ViewingItem, nil
}

func (m *Machine) addToCart(ctx context.Context, t *turn, productID string, qty int) (session.State, error) {
	if err := m.catalog.AddCartItem(ctx, t.ev.CartID(), productID, qty); err != nil {
		return "", err
	}
	m.answer(ctx, t, textAddedToCart)
	logger.Info(ctx, "shop", "cart.added",
		slog.String("product_id", productID),
		slog.Int("quantity", qty),
	)
	t.sc.ProductID = productID
	return session.ViewingItem, nil
}

// showCart fetches the cart fresh and remembers its total for checkout.
func (m *Machine) showCart(ctx context.Context, t *turn) (session.State, error) {
	cart, err := m.catalog.GetCart(ctx, t.ev.CartID())
	if err != nil {
		return "", err
	}
	t.sc.TotalAmount = cart.Total
	t.sc.TotalFormatted = cart.TotalFormatted
	t.sc.Currency = cart.Currency
	if err := m.chat.SendMessage(ctx, t.ev.ChatID, formatCart(cart), cartKeyboard(cart)); err != nil {
		return "", err
	}
	return session.ViewingCart, nil
}

func (m *Machine) promptAddress(ctx context.Context, t *turn) (session.State, error) {
	return m.prompt(ctx, t, textAddressPrompt, nil, session.AwaitingAddress)
}

func (m *Machine) prompt(ctx context.Context, t *turn, text string, kb Keyboard, next session.State) (session.State, error) {
	if err := m.chat.SendMessage(ctx, t.ev.ChatID, text, kb); err != nil {
		return "", err
	}
	return next, nil
}

// offerDelivery finds the nearest pizzeria for at and offers the matching delivery options.
func (m *Machine) offerDelivery(ctx context.Context, t *turn, at geo.Point) (session.State, error) {
	d, err := m.locator.Resolve(ctx, at)
	if err != nil {
		return "", err
	}
	t.sc.UserPoint = &at
	t.sc.NearestAddress = d.Point.Address
	t.sc.DeliveryContact = d.Point.Contact
	t.sc.Meters = d.Meters
	t.sc.Tier = d.Tier

	if err := m.chat.SendMessage(ctx, t.ev.ChatID, formatTier(d, m.currency), tierKeyboard(d.Tier)); err != nil {
		return "", err
	}
	logger.Info(ctx, "shop", "delivery.offered",
		slog.String("point", d.Point.ID),
		slog.Int("meters", d.Meters),
		slog.String("tier", d.Tier.Kind.String()),
		slog.Int64("fee", d.Tier.Fee),
	)
	return session.AwaitingDeliveryChoice, nil
}

// showOffer repeats the last delivery offer, or asks for the address again when it is gone.
func (m *Machine) showOffer(ctx context.Context, t *turn) (session.State, error) {
	if t.sc.UserPoint == nil {
		return m.promptAddress(ctx, t)
	}
	d := delivery.Decision{
		Point:  catalog.DeliveryPoint{Address: t.sc.NearestAddress, Contact: t.sc.DeliveryContact},
		Meters: t.sc.Meters,
		Tier:   t.sc.Tier,
	}
	return m.prompt(ctx, t, formatTier(d, m.currency), tierKeyboard(d.Tier), session.AwaitingDeliveryChoice)
}

// checkout records the delivery address, hands the order to the courier and sends the invoice.
func (m *Machine) checkout(ctx context.Context, t *turn) (session.State, error) {
	at := *t.sc.UserPoint
	if t.sc.DeliveryContact == "" {
		m.alert(ctx, fmt.Sprintf("Pizzeria at %q has no courier contact; delivery for chat %d was refused.", t.sc.NearestAddress, t.ev.ChatID))
		return "", errx.Invalid("shop.checkout", errors.New("delivery point has no courier contact"))
	}

	cart, err := m.catalog.GetCart(ctx, t.ev.CartID())
	if err != nil {
		return "", err
	}
	if len(cart.Items) == 0 || cart.Total <= 0 {
		if err := m.chat.SendMessage(ctx, t.ev.ChatID, textEmptyCart, nil); err != nil {
			return "", err
		}
		return m.showMenu(ctx, t, false)
	}
	inv, err := m.invoices.Build(cart.Total, t.sc.Tier)
	if err != nil {
		return "", err
	}
	if err := m.catalog.CreateCustomerAddress(ctx, t.ev.UserID, at); err != nil {
		return "", err
	}

	customer := strings.TrimSpace(t.ev.FirstName)
	if customer == "" {
		customer = fmt.Sprintf("user %d", t.ev.UserID)
	}
	if err := m.chat.NotifyFulfiller(ctx, t.sc.DeliveryContact, formatFulfillerOrder(cart, customer), at); err != nil {
		return "", err
	}
	if err := m.chat.SendMessage(ctx, t.ev.ChatID, textPayPrompt, nil); err != nil {
		return "", err
	}
	if err := m.chat.SendInvoice(ctx, t.ev.ChatID, inv); err != nil {
		return "", err
	}
	logger.Info(ctx, "shop", "order.checkout",
		slog.String("order_id", inv.OrderID),
		slog.Int64("total", inv.Total()),
		slog.String("currency", inv.Currency),
		slog.Int64("fee", t.sc.Tier.Fee),
		slog.Int("meters", t.sc.Meters),
	)
	return session.Start, nil
}

func (m *Machine) deleteOrigin(ctx context.Context, t *turn) {
	if t.ev.Kind != EventButton || t.ev.MessageID == 0 {
		return
	}
	if err := m.chat.DeleteMessage(ctx, t.ev.ChatID, t.ev.MessageID); err != nil {
		logger.Debug(ctx, "shop", "message.deleted",
			slog.String("status", "skip"),
			slog.String("err", err.Error()),
		)
	}
}

func parseEmail(text string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(text))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", false
	}
	return addr.Address, true
}
