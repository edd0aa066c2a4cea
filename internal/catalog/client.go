// Package catalog talks to the Moltin (Elastic Path) commerce API: products,
// carts, customers and the flows holding pizzerias and customer addresses.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
)

const (
	// DefaultBaseURL is the public Moltin API endpoint.
	DefaultBaseURL = "https://api.moltin.com"
	// DefaultPointsFlow is the flow slug holding pizzerias.
	DefaultPointsFlow = "adres"
	// DefaultCustomerAddressFlow is the flow slug receiving customer coordinates.
	DefaultCustomerAddressFlow = "customer-address"
	// DefaultTimeout bounds a single API call including token refresh.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// Config configures the catalog client.
type Config struct {
	BaseURL             string        `yaml:"base_url" envconfig:"MOLTIN_BASE_URL"`
	ClientID            string        `yaml:"client_id" envconfig:"MOLTIN_CLIENT_ID"`
	ClientSecret        string        `yaml:"client_secret" envconfig:"MOLTIN_CLIENT_SECRET"`
	Currency            string        `yaml:"currency" envconfig:"MOLTIN_CURRENCY"`
	PointsFlow          string        `yaml:"points_flow" envconfig:"MOLTIN_POINTS_FLOW"`
	CustomerAddressFlow string        `yaml:"customer_address_flow" envconfig:"MOLTIN_CUSTOMER_ADDRESS_FLOW"`
	Timeout             time.Duration `yaml:"timeout" envconfig:"MOLTIN_TIMEOUT"`
}

// Normalize fills defaults and checks required fields.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("catalog.client_id is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Currency == "" {
		c.Currency = "RUB"
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.PointsFlow == "" {
		c.PointsFlow = DefaultPointsFlow
	}
	if c.CustomerAddressFlow == "" {
		c.CustomerAddressFlow = DefaultCustomerAddressFlow
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Client is a Moltin API client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	cred *Credential
}

// New builds a client from a normalized config.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		cred: NewCredential(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, httpClient),
	}
}

// ListProducts returns every product in catalog order.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out envelope[[]productDTO]
	if err := c.do(ctx, "catalog.list_products", http.MethodGet, "/v2/products", nil, &out); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(out.Data))
	for _, d := range out.Data {
		products = append(products, d.toProduct())
	}
	return products, nil
}

// GetProduct returns a single product.
func (c *Client) GetProduct(ctx context.Context, id string) (Product, error) {
	var out envelope[productDTO]
	if err := c.do(ctx, "catalog.get_product", http.MethodGet, "/v2/products/"+url.PathEscape(id), nil, &out); err != nil {
		return Product{}, err
	}
	return out.Data.toProduct(), nil
}

// GetProductImage resolves the public link of a product's main image.
func (c *Client) GetProductImage(ctx context.Context, imageID string) (string, error) {
	if imageID == "" {
		return "", errx.NotFound("catalog.get_image", errors.New("product has no image"))
	}
	var out envelope[fileDTO]
	if err := c.do(ctx, "catalog.get_image", http.MethodGet, "/v2/files/"+url.PathEscape(imageID), nil, &out); err != nil {
		return "", err
	}
	if out.Data.Link.Href == "" {
		return "", errx.NotFound("catalog.get_image", errors.New("empty file link"))
	}
	return out.Data.Link.Href, nil
}

// AddCartItem puts quantity units of productID into the cart.
func (c *Client) AddCartItem(ctx context.Context, cartID, productID string, quantity int) error {
	if quantity <= 0 {
		return errx.Invalid("catalog.add_cart_item", fmt.Errorf("quantity must be positive, got %d", quantity))
	}
	body := envelope[map[string]any]{Data: map[string]any{
		"id":       productID,
		"type":     "cart_item",
		"quantity": quantity,
	}}
	return c.do(ctx, "catalog.add_cart_item", http.MethodPost, c.cartPath(cartID), body, nil)
}

// RemoveCartItem deletes a cart line by its cart item id.
func (c *Client) RemoveCartItem(ctx context.Context, cartID, itemID string) error {
	return c.do(ctx, "catalog.remove_cart_item", http.MethodDelete, c.cartPath(cartID)+"/"+url.PathEscape(itemID), nil, nil)
}

// GetCart returns the cart lines and totals.
func (c *Client) GetCart(ctx context.Context, cartID string) (Cart, error) {
	var out cartItemsDTO
	if err := c.do(ctx, "catalog.get_cart", http.MethodGet, c.cartPath(cartID), nil, &out); err != nil {
		return Cart{}, err
	}
	total := out.Meta.DisplayPrice.WithTax
	cart := Cart{
		Items:          make([]CartItem, 0, len(out.Data)),
		Total:          total.Amount,
		TotalFormatted: total.Formatted,
		Currency:       total.Currency,
	}
	for _, d := range out.Data {
		cart.Items = append(cart.Items, CartItem{
			ID:          d.ID,
			ProductID:   d.ProductID,
			Name:        d.Name,
			Description: d.Description,
			UnitPrice:   d.UnitPrice.Amount,
			Currency:    d.UnitPrice.Currency,
			Quantity:    d.Quantity,
		})
	}
	if cart.Currency == "" {
		cart.Currency = c.cfg.Currency
	}
	return cart, nil
}

// CreateCustomer registers a customer and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	body := envelope[map[string]any]{Data: map[string]any{
		"type":  "customer",
		"name":  name,
		"email": email,
	}}
	var out envelope[createdDTO]
	if err := c.do(ctx, "catalog.create_customer", http.MethodPost, "/v2/customers", body, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// ListDeliveryPoints returns the entries of a pizzeria flow.
func (c *Client) ListDeliveryPoints(ctx context.Context, flowSlug string) ([]DeliveryPoint, error) {
	if flowSlug == "" {
		flowSlug = c.cfg.PointsFlow
	}
	var out envelope[[]entryDTO]
	if err := c.do(ctx, "catalog.list_points", http.MethodGet, "/v2/flows/"+url.PathEscape(flowSlug)+"/entries", nil, &out); err != nil {
		return nil, err
	}
	points := make([]DeliveryPoint, 0, len(out.Data))
	for _, d := range out.Data {
		points = append(points, DeliveryPoint{
			ID:      d.ID,
			Address: d.Address,
			Alias:   d.Alias,
			Point:   geo.Point{Lat: float64(d.Lat), Lon: float64(d.Lon)},
			Contact: string(d.Contact),
		})
	}
	return points, nil
}

// CreateCustomerAddress records the coordinates a user ordered delivery to.
func (c *Client) CreateCustomerAddress(ctx context.Context, userID int64, at geo.Point) error {
	body := envelope[map[string]any]{Data: map[string]any{
		"type":     "entry",
		"lat":      at.Lat,
		"lon":      at.Lon,
		"customer": strconv.FormatInt(userID, 10),
	}}
	path := "/v2/flows/" + url.PathEscape(c.cfg.CustomerAddressFlow) + "/entries"
	return c.do(ctx, "catalog.create_customer_address", http.MethodPost, path, body, nil)
}

func (c *Client) cartPath(cartID string) string {
	return "/v2/carts/" + url.PathEscape(cartID) + "/items"
}

// do performs an authorized call. A 401 drops the cached token and retries once.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	status, err := c.send(ctx, op, method, path, body, out)
	if status == http.StatusUnauthorized {
		c.cred.Invalidate()
		status, err = c.send(ctx, op, method, path, body, out)
	}

	attrs := []slog.Attr{
		slog.String("op", op),
		slog.Int("http_code", status),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		logger.Warn(ctx, "catalog", "api.call", attrs...)
		return err
	}
	if logger.ShouldSampleDebug() {
		attrs = append(attrs, slog.String("status", "ok"))
		logger.Debug(ctx, "catalog", "api.call", attrs...)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out any) (int, error) {
	token, err := c.cred.Token(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, errx.Invalid(op, fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, errx.Transport(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.HasPrefix(path, "/v2/carts/") {
		req.Header.Set("X-MOLTIN-CURRENCY", c.cfg.Currency)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errx.Transport(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, errx.NotFound(op, fmt.Errorf("%s %s: %s", method, path, readSnippet(resp.Body)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, errx.Transport(op, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, readSnippet(resp.Body)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errx.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}

func readSnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(raw))
}
