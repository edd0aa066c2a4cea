package shop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/payment"
	"github.com/etokosmo/pizza-shop/internal/session"
)

const (
	chatID = int64(100)
	userID = int64(100)
)

type harness struct {
	m       *Machine
	store   *session.MemoryStore
	scratch *session.ScratchStore
	catalog *fakeCatalog
	chat    *fakeChat
	alerts  *fakeAlerter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   session.NewMemoryStore(),
		scratch: session.NewScratchStore(0),
		catalog: newFakeCatalog(),
		chat:    &fakeChat{},
		alerts:  &fakeAlerter{},
	}
	payCfg := payment.Config{ProviderToken: "provider"}
	if err := payCfg.Normalize(); err != nil {
		t.Fatalf("payment config: %v", err)
	}
	m, err := New(Deps{
		Store:    h.store,
		Scratch:  h.scratch,
		Catalog:  h.catalog,
		Geocoder: fakeGeocoder{"Tverskaya 3": {Lat: 55.7580, Lon: 37.6140}},
		Locator:  delivery.NewResolver(h.catalog, "adres", delivery.DefaultPolicy()),
		Chat:     h.chat,
		Invoices: payment.NewBuilder(payCfg),
		Alerter:  h.alerts,
		Currency: "RUB",
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	h.m = m
	return h
}

func (h *harness) state(t *testing.T) session.State {
	t.Helper()
	st, err := h.store.Get(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return st
}

func (h *harness) seed(t *testing.T, st session.State) {
	t.Helper()
	if err := h.store.Set(context.Background(), chatID, st); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (h *harness) dispatch(t *testing.T, ev Event) error {
	t.Helper()
	ev.ChatID, ev.UserID = chatID, userID
	if ev.FirstName == "" {
		ev.FirstName = "Ann"
	}
	return h.m.Dispatch(context.Background(), ev)
}

func (h *harness) mustDispatch(t *testing.T, ev Event) {
	t.Helper()
	if err := h.dispatch(t, ev); err != nil {
		t.Fatalf("dispatch %+v: %v", ev, err)
	}
}

func button(action, arg string) Event {
	return Event{Kind: EventButton, Action: action, Arg: arg, MessageID: 9, CallbackID: "cb"}
}

func text(s string) Event {
	return Event{Kind: EventText, Text: s}
}

func TestStartCommandOnFreshSession(t *testing.T) {
	h := newHarness(t)
	h.mustDispatch(t, Event{Kind: EventCommand, Command: CommandStart})

	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	msg := h.chat.last()
	if msg.Text != textMenuPrompt || !hasAction(msg.KB, ActionProduct) || !hasAction(msg.KB, ActionCart) {
		t.Fatalf("menu = %+v", msg)
	}
}

func TestAnyInputOnFreshSessionRendersMenu(t *testing.T) {
	h := newHarness(t)
	h.mustDispatch(t, text("hello"))
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
}

func TestStartCommandOverridesStoredState(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingDeliveryChoice)
	h.scratch.Update(chatID, func(s *session.Scratch) { s.NearestAddress = "old" })

	h.mustDispatch(t, Event{Kind: EventCommand, Command: CommandStart})
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	if sc := h.scratch.Get(chatID); sc.NearestAddress != "" {
		t.Fatalf("scratch kept across restart: %+v", sc)
	}
}

func TestFailedRestartKeepsStateAndScratch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingDeliveryChoice)
	h.scratch.Update(chatID, func(s *session.Scratch) {
		s.NearestAddress = "Tverskaya 1"
		s.DeliveryContact = "111"
	})
	h.catalog.failList = errx.Transport("fake.list_products", errors.New("timeout"))

	if err := h.dispatch(t, Event{Kind: EventCommand, Command: CommandStart}); !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if st := h.state(t); st != session.AwaitingDeliveryChoice {
		t.Fatalf("state = %s", st)
	}
	if sc := h.scratch.Get(chatID); sc.NearestAddress != "Tverskaya 1" || sc.DeliveryContact != "111" {
		t.Fatalf("scratch lost on failed restart: %+v", sc)
	}
}

func TestUnknownPersistedStateResetsToStart(t *testing.T) {
	h := newHarness(t)
	h.store.Put(chatID, "HANDLE_DESCRIPTION")

	h.mustDispatch(t, button(ActionCart, ""))
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s, want menu rendered from START", st)
	}
	if h.chat.last().Text != textMenuPrompt {
		t.Fatalf("last message = %+v", h.chat.last())
	}
}

func TestBrowseProductAndBack(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.BrowsingMenu)

	h.mustDispatch(t, button(ActionProduct, "p1"))
	if st := h.state(t); st != session.ViewingItem {
		t.Fatalf("state = %s", st)
	}
	msg := h.chat.last()
	if msg.Photo != "https://cdn.example/img1.png" || !strings.Contains(msg.Text, "Margherita") || !hasAction(msg.KB, ActionAdd) {
		t.Fatalf("product card = %+v", msg)
	}

	h.mustDispatch(t, button(ActionBack, ""))
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	if len(h.chat.deleted) != 2 {
		t.Fatalf("deleted = %v", h.chat.deleted)
	}
}

func TestProductWithoutImageFallsBackToText(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.BrowsingMenu)
	h.mustDispatch(t, button(ActionProduct, "p2"))
	if msg := h.chat.last(); msg.Photo != "" || !strings.Contains(msg.Text, "Pepperoni") {
		t.Fatalf("card = %+v", msg)
	}
}

func TestMissingProductKeepsStateAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.BrowsingMenu)

	err := h.dispatch(t, button(ActionProduct, "gone"))
	if !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	if h.chat.last().Text != textNoticeNotFound {
		t.Fatalf("notice = %q", h.chat.last().Text)
	}
}

func TestFailedHandlerLeavesStateUnchanged(t *testing.T) {
	for _, st := range []session.State{session.BrowsingMenu, session.ViewingItem} {
		h := newHarness(t)
		h.seed(t, st)
		h.catalog.failCart = errx.Transport("fake.get_cart", errors.New("timeout"))

		err := h.dispatch(t, button(ActionCart, ""))
		if !errors.Is(err, errx.ErrTransport) {
			t.Fatalf("%s: err = %v", st, err)
		}
		if got := h.state(t); got != st {
			t.Fatalf("state = %s, want %s", got, st)
		}
		if h.chat.last().Text != textNoticeFailure {
			t.Fatalf("%s: notice = %q", st, h.chat.last().Text)
		}
	}
}

func TestAddThenRemoveRestoresTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, session.BrowsingMenu)
	h.mustDispatch(t, button(ActionProduct, "p2"))
	h.mustDispatch(t, button(ActionAdd, addArg(1, "p2")))

	before, _ := h.catalog.GetCart(ctx, "100")

	h.mustDispatch(t, button(ActionProduct, "p1"))
	h.mustDispatch(t, button(ActionAdd, addArg(3, "p1")))
	if st := h.state(t); st != session.ViewingItem {
		t.Fatalf("state after add = %s", st)
	}
	if h.chat.answers[len(h.chat.answers)-1] != textAddedToCart {
		t.Fatalf("answers = %v", h.chat.answers)
	}

	h.mustDispatch(t, button(ActionCart, ""))
	if st := h.state(t); st != session.ViewingCart {
		t.Fatalf("state = %s", st)
	}
	during, _ := h.catalog.GetCart(ctx, "100")
	if during.Total != before.Total+1500 {
		t.Fatalf("total = %d", during.Total)
	}
	if sc := h.scratch.Get(chatID); sc.TotalAmount != during.Total {
		t.Fatalf("scratch total = %d", sc.TotalAmount)
	}

	lineID := during.Items[len(during.Items)-1].ID
	h.mustDispatch(t, button(ActionRemove, lineID))
	after, _ := h.catalog.GetCart(ctx, "100")
	if after.Total != before.Total {
		t.Fatalf("total after remove = %d, want %d", after.Total, before.Total)
	}
	if st := h.state(t); st != session.ViewingCart {
		t.Fatalf("state = %s", st)
	}
	if !strings.Contains(h.chat.last().Text, "Total: 650 RUB") {
		t.Fatalf("cart text = %q", h.chat.last().Text)
	}
}

func TestEmailFlow(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.ViewingCart)

	h.mustDispatch(t, button(ActionEmail, ""))
	if st := h.state(t); st != session.AwaitingEmail {
		t.Fatalf("state = %s", st)
	}
	h.mustDispatch(t, text("not an email"))
	if h.chat.last().Text != textEmailInvalid || len(h.catalog.customers) != 0 {
		t.Fatalf("invalid email accepted: %+v", h.chat.last())
	}
	h.mustDispatch(t, text("ann@example.com"))
	if st := h.state(t); st != session.AwaitingEmail {
		t.Fatalf("state = %s", st)
	}
	if len(h.catalog.customers) != 1 || h.catalog.customers[0] != "Ann_tgid-100 ann@example.com" {
		t.Fatalf("customers = %v", h.catalog.customers)
	}
	if !hasAction(h.chat.last().KB, ActionAddress) {
		t.Fatalf("keyboard = %+v", h.chat.last().KB)
	}
	h.mustDispatch(t, button(ActionAddress, ""))
	if st := h.state(t); st != session.AwaitingAddress {
		t.Fatalf("state = %s", st)
	}
}

func TestLocationNearPizzeriaOffersFreeDelivery(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)

	// about 300 m south of the center pizzeria
	at := geo.Point{Lat: 55.7543, Lon: 37.6150}
	h.mustDispatch(t, Event{Kind: EventLocation, Location: &at})

	if st := h.state(t); st != session.AwaitingDeliveryChoice {
		t.Fatalf("state = %s", st)
	}
	msg := h.chat.last()
	if !strings.Contains(msg.Text, "for free") || !strings.Contains(msg.Text, "Tverskaya 1") {
		t.Fatalf("offer = %q", msg.Text)
	}
	if !hasAction(msg.KB, ActionDelivery) || !hasAction(msg.KB, ActionPickup) {
		t.Fatalf("keyboard = %+v", msg.KB)
	}
	sc := h.scratch.Get(chatID)
	if sc.Tier.Kind != delivery.FreeDeliveryOrPickup || sc.DeliveryContact != "111" || *sc.UserPoint != at {
		t.Fatalf("scratch = %+v", sc)
	}
}

func TestTypedAddressIsGeocoded(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)
	h.mustDispatch(t, text("Tverskaya 3"))
	if st := h.state(t); st != session.AwaitingDeliveryChoice {
		t.Fatalf("state = %s", st)
	}
}

func TestUnresolvableAddressStaysAwaitingAddress(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)
	h.mustDispatch(t, text("somewhere over the rainbow"))

	if st := h.state(t); st != session.AwaitingAddress {
		t.Fatalf("state = %s", st)
	}
	if h.chat.last().Text != textAddressUnresolved {
		t.Fatalf("reply = %q", h.chat.last().Text)
	}
}

func TestFarAwayOffersPickupOnly(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)
	far := geo.Point{Lat: 59.9386, Lon: 30.3141}
	h.mustDispatch(t, Event{Kind: EventLocation, Location: &far})

	msg := h.chat.last()
	if hasAction(msg.KB, ActionDelivery) || !hasAction(msg.KB, ActionPickup) {
		t.Fatalf("keyboard = %+v", msg.KB)
	}
	// a stale delivery button re-renders the offer instead of checking out
	h.mustDispatch(t, button(ActionDelivery, ""))
	if st := h.state(t); st != session.AwaitingDeliveryChoice || len(h.chat.invoices) != 0 {
		t.Fatalf("state = %s invoices = %d", st, len(h.chat.invoices))
	}
}

func TestNoDeliveryPointsAlertsAndKeepsState(t *testing.T) {
	h := newHarness(t)
	h.catalog.points = nil
	h.seed(t, session.AwaitingAddress)

	at := geo.Point{Lat: 55.75, Lon: 37.61}
	err := h.dispatch(t, Event{Kind: EventLocation, Location: &at})
	if !errors.Is(err, errx.ErrNoCandidates) {
		t.Fatalf("err = %v", err)
	}
	if st := h.state(t); st != session.AwaitingAddress {
		t.Fatalf("state = %s", st)
	}
	if len(h.alerts.alerts) != 1 {
		t.Fatalf("alerts = %v", h.alerts.alerts)
	}
}

func TestDeliveryCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.catalog.AddCartItem(ctx, "100", "p1", 2); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	h.seed(t, session.AwaitingAddress)

	// about 2 km north of the center pizzeria: paid delivery
	at := geo.Point{Lat: 55.7750, Lon: 37.6150}
	h.mustDispatch(t, Event{Kind: EventLocation, Location: &at})
	if sc := h.scratch.Get(chatID); sc.Tier.Fee != 100 {
		t.Fatalf("tier = %+v", sc.Tier)
	}

	h.mustDispatch(t, button(ActionDelivery, ""))
	if st := h.state(t); st != session.Start {
		t.Fatalf("state = %s", st)
	}
	if len(h.catalog.addresses) != 1 || h.catalog.addresses[0] != at {
		t.Fatalf("addresses = %v", h.catalog.addresses)
	}
	if len(h.chat.fulfiller) != 1 || h.chat.fulfiller[0].At != at || !strings.Contains(h.chat.fulfiller[0].Text, "Margherita") {
		t.Fatalf("fulfiller = %+v", h.chat.fulfiller)
	}
	if len(h.chat.invoices) != 1 {
		t.Fatalf("invoices = %d", len(h.chat.invoices))
	}
	inv := h.chat.invoices[0]
	if inv.Total() != (1000+100)*100 || len(inv.Lines) != 2 {
		t.Fatalf("invoice = %+v", inv)
	}
	if sc := h.scratch.Get(chatID); sc.UserPoint != nil {
		t.Fatalf("scratch not cleared: %+v", sc)
	}

	// next event renders the menu from START
	h.mustDispatch(t, text("hi"))
	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
}

func TestDeliveryWithEmptyCartReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)
	at := geo.Point{Lat: 55.7543, Lon: 37.6150}
	h.mustDispatch(t, Event{Kind: EventLocation, Location: &at})
	h.mustDispatch(t, button(ActionDelivery, ""))

	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	if len(h.chat.invoices) != 0 || len(h.chat.fulfiller) != 0 {
		t.Fatal("empty cart was checked out")
	}
}

func TestPickupConfirmsAddress(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingAddress)
	at := geo.Point{Lat: 55.7543, Lon: 37.6150}
	h.mustDispatch(t, Event{Kind: EventLocation, Location: &at})
	h.mustDispatch(t, button(ActionPickup, ""))

	if st := h.state(t); st != session.BrowsingMenu {
		t.Fatalf("state = %s", st)
	}
	if h.chat.last().Text != formatPickup("Tverskaya 1") {
		t.Fatalf("reply = %q", h.chat.last().Text)
	}
}

func TestDeliveryChoiceWithoutScratchAsksForAddress(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.AwaitingDeliveryChoice)
	h.mustDispatch(t, button(ActionDelivery, ""))
	if st := h.state(t); st != session.AwaitingAddress {
		t.Fatalf("state = %s", st)
	}
}

func TestFreeTextReRendersCurrentPrompt(t *testing.T) {
	cases := []struct {
		state session.State
		want  session.State
		text  string
	}{
		{session.BrowsingMenu, session.BrowsingMenu, textMenuPrompt},
		{session.ViewingItem, session.BrowsingMenu, textMenuPrompt},
		{session.ViewingCart, session.ViewingCart, textEmptyCart},
		{session.AwaitingEmail, session.AwaitingEmail, textEmailInvalid},
		{session.AwaitingDeliveryChoice, session.AwaitingAddress, textAddressPrompt},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.seed(t, tc.state)
		h.mustDispatch(t, text("???"))
		if st := h.state(t); st != tc.want {
			t.Fatalf("%s: state = %s, want %s", tc.state, st, tc.want)
		}
		if got := h.chat.last().Text; got != tc.text {
			t.Fatalf("%s: reply = %q, want %q", tc.state, got, tc.text)
		}
	}
}

func TestButtonsAreAnsweredOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, session.BrowsingMenu)
	h.mustDispatch(t, button(ActionCart, ""))
	if len(h.chat.answers) != 1 {
		t.Fatalf("answers = %v", h.chat.answers)
	}
}

type failingStore struct{ session.Store }

func (failingStore) Get(context.Context, int64) (session.State, error) {
	return "", errx.Transport("fake.get", errors.New("redis down"))
}

func TestStoreReadFailureSendsNotice(t *testing.T) {
	h := newHarness(t)
	h.m.store = failingStore{}
	err := h.dispatch(t, text("hi"))
	if !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("err = %v", err)
	}
	if h.chat.count() != 1 || h.chat.last().Text != textNoticeFailure {
		t.Fatalf("messages = %+v", h.chat.messages)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseAddArg(t *testing.T) {
	if q, id, ok := parseAddArg("3:p1"); !ok || q != 3 || id != "p1" {
		t.Fatalf("parse = %d %q %v", q, id, ok)
	}
	for _, bad := range []string{"", "3", "x:p1", "0:p1", "3:"} {
		if _, _, ok := parseAddArg(bad); ok {
			t.Fatalf("parseAddArg(%q) accepted", bad)
		}
	}
}
