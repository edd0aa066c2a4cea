package shop

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/payment"
)

type fakeCatalog struct {
	mu        sync.Mutex
	products  []catalog.Product
	images    map[string]string
	carts     map[string][]catalog.CartItem
	points    []catalog.DeliveryPoint
	customers []string
	addresses []geo.Point
	seq       int
	failCart  error
	failList  error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: []catalog.Product{
			{ID: "p1", Name: "Margherita", Description: "Tomato and mozzarella", ImageID: "img1", Price: 500, Currency: "RUB"},
			{ID: "p2", Name: "Pepperoni", Price: 650, Currency: "RUB"},
		},
		images: map[string]string{"img1": "https://cdn.example/img1.png"},
		carts:  map[string][]catalog.CartItem{},
		points: []catalog.DeliveryPoint{
			{ID: "center", Address: "Tverskaya 1", Point: geo.Point{Lat: 55.7570, Lon: 37.6150}, Contact: "111"},
			{ID: "north", Address: "Leningradka 80", Point: geo.Point{Lat: 55.8100, Lon: 37.5000}, Contact: "222"},
		},
	}
}

func (f *fakeCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	return append([]catalog.Product(nil), f.products...), nil
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Product{}, errx.NotFound("fake.get_product", errors.New(id))
}

func (f *fakeCatalog) GetProductImage(_ context.Context, imageID string) (string, error) {
	if href, ok := f.images[imageID]; ok {
		return href, nil
	}
	return "", errx.NotFound("fake.get_image", errors.New(imageID))
}

func (f *fakeCatalog) AddCartItem(ctx context.Context, cartID, productID string, qty int) error {
	p, err := f.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.carts[cartID] = append(f.carts[cartID], catalog.CartItem{
		ID:        "line-" + strconv.Itoa(f.seq),
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Currency:  p.Currency,
		Quantity:  qty,
	})
	return nil
}

func (f *fakeCatalog) RemoveCartItem(_ context.Context, cartID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[cartID]
	for i, it := range items {
		if it.ID == itemID {
			f.carts[cartID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return errx.NotFound("fake.remove", errors.New(itemID))
}

func (f *fakeCatalog) GetCart(_ context.Context, cartID string) (catalog.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCart != nil {
		return catalog.Cart{}, f.failCart
	}
	cart := catalog.Cart{Items: append([]catalog.CartItem(nil), f.carts[cartID]...), Currency: "RUB"}
	for _, it := range cart.Items {
		cart.Total += it.LineTotal()
	}
	return cart, nil
}

func (f *fakeCatalog) CreateCustomer(_ context.Context, name, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, name+" "+email)
	return "cust-" + strconv.Itoa(len(f.customers)), nil
}

func (f *fakeCatalog) CreateCustomerAddress(_ context.Context, _ int64, at geo.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses = append(f.addresses, at)
	return nil
}

func (f *fakeCatalog) ListDeliveryPoints(context.Context, string) ([]catalog.DeliveryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]catalog.DeliveryPoint(nil), f.points...), nil
}

type fakeGeocoder map[string]geo.Point

func (g fakeGeocoder) Resolve(_ context.Context, text string) (geo.Point, error) {
	if p, ok := g[text]; ok {
		return p, nil
	}
	return geo.Point{}, errx.GeocodeUnresolved("fake.geocode", errors.New(text))
}

type sentMessage struct {
	ChatID int64
	Text   string
	Photo  string
	KB     Keyboard
}

type fulfillerMessage struct {
	Contact string
	Text    string
	At      geo.Point
}

type fakeChat struct {
	mu        sync.Mutex
	messages  []sentMessage
	deleted   []int
	answers   []string
	fulfiller []fulfillerMessage
	invoices  []payment.Invoice
	sendErr   error
}

func (c *fakeChat) SendMessage(_ context.Context, chatID int64, text string, kb Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.messages = append(c.messages, sentMessage{ChatID: chatID, Text: text, KB: kb})
	return nil
}

func (c *fakeChat) SendPhoto(_ context.Context, chatID int64, url, caption string, kb Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, sentMessage{ChatID: chatID, Text: caption, Photo: url, KB: kb})
	return nil
}

func (c *fakeChat) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, messageID)
	return nil
}

func (c *fakeChat) AnswerButton(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	return nil
}

func (c *fakeChat) NotifyFulfiller(_ context.Context, contact, text string, at geo.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fulfiller = append(c.fulfiller, fulfillerMessage{Contact: contact, Text: text, At: at})
	return nil
}

func (c *fakeChat) SendInvoice(_ context.Context, _ int64, inv payment.Invoice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoices = append(c.invoices, inv)
	return nil
}

func (c *fakeChat) last() sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return sentMessage{}
	}
	return c.messages[len(c.messages)-1]
}

func (c *fakeChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
}

// hasAction reports whether kb contains a button with action.
func hasAction(kb Keyboard, action string) bool {
	for _, row := range kb {
		for _, b := range row {
			if b.Action == action {
				return true
			}
		}
	}
	return false
}
