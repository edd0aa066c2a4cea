package shop

import (
	"strconv"
	"strings"

	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
)

// addQuantities are the add-to-cart amounts offered on a product card.
var addQuantities = []int{1, 3, 5}

func menuKeyboard(products []catalog.Product) Keyboard {
	kb := make(Keyboard, 0, len(products)+1)
	for _, p := range products {
		kb = append(kb, []Button{{Text: p.Name, Action: ActionProduct, Arg: p.ID}})
	}
	return append(kb, []Button{{Text: btnCart, Action: ActionCart}})
}

func productKeyboard(productID string) Keyboard {
	add := make([]Button, 0, len(addQuantities))
	for _, q := range addQuantities {
		add = append(add, Button{Text: "+" + strconv.Itoa(q), Action: ActionAdd, Arg: addArg(q, productID)})
	}
	return Keyboard{
		add,
		{{Text: btnBack, Action: ActionBack}},
		{{Text: btnCart, Action: ActionCart}},
	}
}

func cartKeyboard(cart catalog.Cart) Keyboard {
	kb := make(Keyboard, 0, len(cart.Items)+2)
	for _, it := range cart.Items {
		kb = append(kb, []Button{{Text: "Remove " + it.Name, Action: ActionRemove, Arg: it.ID}})
	}
	kb = append(kb, []Button{{Text: btnMenu, Action: ActionMenu}})
	if len(cart.Items) > 0 {
		kb = append(kb, []Button{
			{Text: btnEmail, Action: ActionEmail},
			{Text: btnAddress, Action: ActionAddress},
		})
	}
	return kb
}

func navKeyboard() Keyboard {
	return Keyboard{{
		{Text: btnMenu, Action: ActionMenu},
		{Text: btnAddress, Action: ActionAddress},
	}}
}

func tierKeyboard(t delivery.Tier) Keyboard {
	kb := navKeyboard()
	if t.DeliveryAvailable() {
		return append(kb, []Button{
			{Text: btnDelivery, Action: ActionDelivery},
			{Text: btnPickup, Action: ActionPickup},
		})
	}
	return append(kb, []Button{{Text: btnPickup, Action: ActionPickup}})
}

func addArg(qty int, productID string) string {
	return strconv.Itoa(qty) + ":" + productID
}

func parseAddArg(arg string) (int, string, bool) {
	raw, id, ok := strings.Cut(arg, ":")
	if !ok || id == "" {
		return 0, "", false
	}
	qty, err := strconv.Atoi(raw)
	if err != nil || qty <= 0 {
		return 0, "", false
	}
	return qty, id, true
}
