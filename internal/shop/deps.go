package shop

import (
	"context"

	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/payment"
)

// Catalog is the product, cart and customer backend.
type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	GetProduct(ctx context.Context, id string) (catalog.Product, error)
	GetProductImage(ctx context.Context, imageID string) (string, error)
	AddCartItem(ctx context.Context, cartID, productID string, quantity int) error
	RemoveCartItem(ctx context.Context, cartID, itemID string) error
	GetCart(ctx context.Context, cartID string) (catalog.Cart, error)
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	CreateCustomerAddress(ctx context.Context, userID int64, at geo.Point) error
}

// Geocoder maps address text to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (geo.Point, error)
}

// Locator picks the nearest pizzeria and the delivery offer for a point.
type Locator interface {
	Resolve(ctx context.Context, target geo.Point) (delivery.Decision, error)
}

// Invoicer prices an order.
type Invoicer interface {
	Build(cartTotal int64, tier delivery.Tier) (payment.Invoice, error)
}

// Chat is the outbound side of the chat transport.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string, kb Keyboard) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerButton(ctx context.Context, callbackID, text string) error
	// NotifyFulfiller sends the order text and the customer location to a courier contact.
	NotifyFulfiller(ctx context.Context, contact, text string, at geo.Point) error
	SendInvoice(ctx context.Context, chatID int64, inv payment.Invoice) error
}

// Alerter reports operational problems to the operators.
type Alerter interface {
	Alert(ctx context.Context, text string)
}
