// Package session persists the conversation state of each chat and keeps the
// short-lived per-chat scratch data the ordering flow needs between steps.
package session

import (
	"context"
	"strings"

	"github.com/etokosmo/pizza-shop/internal/errx"
)

// State is a node of the ordering conversation.
type State string

// Persisted state names. They are stored verbatim by every backend.
const (
	Start                  State = "START"
	BrowsingMenu           State = "BROWSING_MENU"
	ViewingItem            State = "VIEWING_ITEM"
	ViewingCart            State = "VIEWING_CART"
	AwaitingEmail          State = "AWAITING_EMAIL"
	AwaitingAddress        State = "AWAITING_ADDRESS"
	AwaitingDeliveryChoice State = "AWAITING_DELIVERY_CHOICE"
)

// States lists every known state.
var States = []State{
	Start,
	BrowsingMenu,
	ViewingItem,
	ViewingCart,
	AwaitingEmail,
	AwaitingAddress,
	AwaitingDeliveryChoice,
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// ParseState converts a persisted value into a State. Unknown names yield an
// errx.KindUnknownState error carrying the raw value.
func ParseState(raw string) (State, error) {
	st := State(strings.TrimSpace(raw))
	if !st.Valid() {
		return "", errx.UnknownState("session.parse", raw)
	}
	return st, nil
}

// Store persists one state per chat id.
//
// Get returns an errx.KindNotFound error when nothing was stored and an
// errx.KindUnknownState error when the stored value is not a known state.
type Store interface {
	Get(ctx context.Context, chatID int64) (State, error)
	Set(ctx context.Context, chatID int64, st State) error
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}
