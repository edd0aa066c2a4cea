package shop

import (
	"strconv"

	"github.com/etokosmo/pizza-shop/internal/geo"
)

// EventKind discriminates inbound events.
type EventKind int

const (
	// EventCommand is a slash command such as /start.
	EventCommand EventKind = iota + 1
	// EventButton is an inline button press.
	EventButton
	// EventText is a free-text message.
	EventText
	// EventLocation is a shared location.
	EventLocation
)

// String returns the name used in logs and span attributes.
func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventButton:
		return "button"
	case EventText:
		return "text"
	case EventLocation:
		return "location"
	}
	return "event(" + strconv.Itoa(int(k)) + ")"
}

// Event is one inbound update from a chat.
type Event struct {
	Kind      EventKind
	UpdateID  int
	ChatID    int64
	UserID    int64
	FirstName string

	// Command is set for EventCommand, without the leading slash.
	Command string
	// Action and Arg are set for EventButton.
	Action string
	Arg    string
	// Text is set for EventText.
	Text string
	// Location is set for EventLocation.
	Location *geo.Point

	// MessageID is the message the event originated from (the one carrying the pressed button).
	MessageID  int
	CallbackID string
}

// CartID returns the cart reference of the user. Carts are keyed by user id.
func (e Event) CartID() string {
	id := e.UserID
	if id == 0 {
		id = e.ChatID
	}
	return strconv.FormatInt(id, 10)
}

// Button actions.
const (
	ActionCart     = "cart"
	ActionMenu     = "menu"
	ActionBack     = "back"
	ActionEmail    = "email"
	ActionAddress  = "address"
	ActionDelivery = "delivery"
	ActionPickup   = "pickup"
	ActionProduct  = "product"
	ActionRemove   = "remove"
	ActionAdd      = "add"
)

// Actions lists every button action the machine understands.
var Actions = []string{
	ActionCart, ActionMenu, ActionBack, ActionEmail, ActionAddress,
	ActionDelivery, ActionPickup, ActionProduct, ActionRemove, ActionAdd,
}

// CommandStart restarts the conversation.
const CommandStart = "start"

// Button is an inline keyboard button. Action and Arg come back in the button event.
type Button struct {
	Text   string
	Action string
	Arg    string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button
