package shop

import (
	"fmt"
	"strings"

	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
)

const (
	textMenuPrompt        = "Please choose:"
	textEmptyMenu         = "The menu is empty right now, please come back later."
	textAddedToCart       = "Added to cart"
	textEmailPrompt       = "Send us your email"
	textEmailInvalid      = "That does not look like an email address, please try again."
	textAddressPrompt     = "Send your address as text or share your location"
	textAddressUnresolved = "We could not recognise your address, please try again."
	textPayPrompt         = "Please pay for your order"
	textNoticeFailure     = "Something went wrong, please try again in a minute."
	textNoticeNotFound    = "We could not find that item, please try again."
	textEmptyCart         = "Your cart is empty."

	btnCart     = "Cart"
	btnMenu     = "Menu"
	btnBack     = "Back"
	btnEmail    = "Send email"
	btnAddress  = "Enter address"
	btnDelivery = "Delivery"
	btnPickup   = "Pickup"
)

func formatMoney(amount int64, currency string) string {
	return strings.TrimSpace(fmt.Sprintf("%d %s", amount, currency))
}

func formatEmailSaved(email string) string {
	return fmt.Sprintf("You sent me this email: %s", email)
}

func formatPickup(address string) string {
	return fmt.Sprintf("We are waiting for you at: %s", address)
}

func formatProduct(p catalog.Product) string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Description != "" {
		b.WriteString("\n")
		b.WriteString(p.Description)
	}
	b.WriteString("\n\nPrice: ")
	b.WriteString(formatMoney(p.Price, p.Currency))
	return b.String()
}

func formatCart(cart catalog.Cart) string {
	if len(cart.Items) == 0 {
		return textEmptyCart
	}
	var b strings.Builder
	for _, it := range cart.Items {
		fmt.Fprintf(&b, "Product: %s\n", it.Name)
		if it.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", it.Description)
		}
		fmt.Fprintf(&b, "Quantity: %d\n", it.Quantity)
		fmt.Fprintf(&b, "Price: %s\n\n", formatMoney(it.LineTotal(), it.Currency))
	}
	total := cart.TotalFormatted
	if total == "" {
		total = formatMoney(cart.Total, cart.Currency)
	}
	fmt.Fprintf(&b, "Total: %s", total)
	return b.String()
}

func formatTier(d delivery.Decision, currency string) string {
	switch d.Tier.Kind {
	case delivery.FreeDeliveryOrPickup:
		return fmt.Sprintf("Maybe pick up your pizza from our pizzeria nearby? "+
			"It is only %d meters away! Here is the address: %s. "+
			"Or we can deliver it for free, no trouble at all :)", d.Meters, d.Point.Address)
	case delivery.PaidDeliveryOrPickup:
		return fmt.Sprintf("Our courier will come to you. Delivery costs %s. "+
			"Delivery or pickup?", formatMoney(d.Tier.Fee, currency))
	case delivery.PickupOnly:
		return fmt.Sprintf("Sorry, we do not deliver that far. "+
			"Maybe pick up your pizza from our pizzeria? "+
			"The nearest one is %d meters away. Here is the address: %s.", d.Meters, d.Point.Address)
	}
	return textAddressPrompt
}

// formatFulfillerOrder is the order summary sent to the courier.
func formatFulfillerOrder(cart catalog.Cart, customer string) string {
	return fmt.Sprintf("New delivery order for %s\n\n%s", customer, formatCart(cart))
}
