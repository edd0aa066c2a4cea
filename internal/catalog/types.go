package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/etokosmo/pizza-shop/internal/geo"
)

// Product is a catalog entry. Price is in whole currency units.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	ImageID     string
	Price       int64
	Currency    string
}

// CartItem is a line in a customer's cart. ID is the cart line id used for removal.
type CartItem struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	UnitPrice   int64
	Currency    string
	Quantity    int
}

// LineTotal returns UnitPrice * Quantity.
func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Cart is a snapshot of a cart taken at display time.
type Cart struct {
	Items          []CartItem
	Total          int64
	TotalFormatted string
	Currency       string
}

// DeliveryPoint is a pizzeria with the chat contact of its courier.
type DeliveryPoint struct {
	ID      string
	Address string
	Alias   string
	Point   geo.Point
	Contact string
}

// Location implements geo.Located.
func (p DeliveryPoint) Location() geo.Point {
	return p.Point
}

// wire types

type envelope[T any] struct {
	Data T `json:"data"`
}

type productDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description"`
	Price         []moneyDTO `json:"price"`
	Relationships struct {
		MainImage struct {
			Data *struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"main_image"`
	} `json:"relationships"`
}

func (d productDTO) toProduct() Product {
	p := Product{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		Description: d.Description,
	}
	if img := d.Relationships.MainImage.Data; img != nil {
		p.ImageID = img.ID
	}
	if len(d.Price) > 0 {
		p.Price = d.Price[0].Amount
		p.Currency = d.Price[0].Currency
	}
	return p
}

type moneyDTO struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted"`
}

type fileDTO struct {
	Link struct {
		Href string `json:"href"`
	} `json:"link"`
}

type cartItemDTO struct {
	ID          string   `json:"id"`
	ProductID   string   `json:"product_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Quantity    int      `json:"quantity"`
	UnitPrice   moneyDTO `json:"unit_price"`
}

type cartItemsDTO struct {
	Data []cartItemDTO `json:"data"`
	Meta struct {
		DisplayPrice struct {
			WithTax moneyDTO `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

type entryDTO struct {
	ID      string    `json:"id"`
	Address string    `json:"address"`
	Alias   string    `json:"alias"`
	Lat     flexFloat `json:"lat"`
	Lon     flexFloat `json:"lon"`
	Contact flexText  `json:"deliveryman_tg"`
}

type tokenDTO struct {
	AccessToken string `json:"access_token"`
	Expires     int64  `json:"expires"`
	ExpiresIn   int64  `json:"expires_in"`
}

type createdDTO struct {
	ID string `json:"id"`
}

// flexFloat accepts both JSON numbers and numeric strings; flow fields are stored as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return fmt.Errorf("catalog: bad coordinate %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexText accepts strings and numbers; courier chat ids are sometimes saved as integers.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = flexText(strings.TrimSpace(s))
		return nil
	}
	s := strings.TrimSpace(string(b))
	if s == "null" {
		s = ""
	}
	*t = flexText(s)
	return nil
}
