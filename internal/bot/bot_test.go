package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tg "github.com/etokosmo/pizza-shop/core/telegram"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/geo"
	"github.com/etokosmo/pizza-shop/internal/payment"
	"github.com/etokosmo/pizza-shop/internal/shop"

	tele "gopkg.in/telebot.v4"
)

type apiCall struct {
	Method string
	Params map[string]string
}

// fakeAPI is a Bot API stand-in that records every call.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	fail  map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&raw)
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = fmt.Sprint(v)
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Params: params})
	desc, failing := f.fail[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, desc)
		return
	}
	media := ""
	if method == "sendPhoto" {
		media = `,"photo":[{"file_id":"ph-1","file_unique_id":"u-1","width":320,"height":320}]`
	}
	_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":100,"type":"private"}%s}}`, media)
}

func (f *fakeAPI) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestBot(t *testing.T) (*tele.Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{fail: map[string]string{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	b, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: "123:test", Offline: true})
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return b, api
}

func TestChatSendMessageWithKeyboard(t *testing.T) {
	b, api := newTestBot(t)
	chat := NewChat(b)
	kb := shop.Keyboard{{{Text: "Cart", Action: shop.ActionCart}}, {{Text: "Add", Action: shop.ActionAdd, Arg: "p1"}}}
	if err := chat.SendMessage(context.Background(), 100, "Menu", kb); err != nil {
		t.Fatalf("send: %v", err)
	}
	calls := api.byMethod("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected 1 sendMessage, got %d", len(calls))
	}
	p := calls[0].Params
	if p["chat_id"] != "100" || p["text"] != "Menu" {
		t.Fatalf("unexpected params: %v", p)
	}
	if !strings.Contains(p["reply_markup"], "add|p1") {
		t.Fatalf("callback data not encoded: %s", p["reply_markup"])
	}
}

func TestChatHonoursCancelledContext(t *testing.T) {
	b, api := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewChat(b).SendText(ctx, 100, "hi")
	if !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if n := len(api.byMethod("sendMessage")); n != 0 {
		t.Fatalf("no call expected, got %d", n)
	}
}

func TestChatWrapsAPIErrors(t *testing.T) {
	b, api := newTestBot(t)
	api.fail["sendMessage"] = "Bad Request: chat not found"
	err := NewChat(b).SendText(context.Background(), 100, "hi")
	if !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestChatPhotoDeleteAndAnswer(t *testing.T) {
	b, api := newTestBot(t)
	chat := NewChat(b)
	ctx := context.Background()
	if err := chat.SendPhoto(ctx, 100, "https://cdn.example/p.png", "Margherita", nil); err != nil {
		t.Fatalf("photo: %v", err)
	}
	if err := chat.DeleteMessage(ctx, 100, 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := chat.AnswerButton(ctx, "cb-1", "Added"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if p := api.byMethod("sendPhoto"); len(p) != 1 || p[0].Params["photo"] != "https://cdn.example/p.png" {
		t.Fatalf("unexpected sendPhoto: %v", p)
	}
	if d := api.byMethod("deleteMessage"); len(d) != 1 || d[0].Params["message_id"] != "42" {
		t.Fatalf("unexpected deleteMessage: %v", d)
	}
	if a := api.byMethod("answerCallbackQuery"); len(a) != 1 || a[0].Params["callback_query_id"] != "cb-1" {
		t.Fatalf("unexpected answerCallbackQuery: %v", a)
	}
}

func TestChatNotifyFulfiller(t *testing.T) {
	b, api := newTestBot(t)
	at := geo.Point{Lat: 55.75, Lon: 37.61}
	if err := NewChat(b).NotifyFulfiller(context.Background(), "555", "Order #1", at); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if m := api.byMethod("sendMessage"); len(m) != 1 || m[0].Params["chat_id"] != "555" {
		t.Fatalf("unexpected order text: %v", m)
	}
	if l := api.byMethod("sendLocation"); len(l) != 1 || l[0].Params["chat_id"] != "555" {
		t.Fatalf("unexpected location: %v", l)
	}

	err := NewChat(b).NotifyFulfiller(context.Background(), "not a contact", "x", at)
	if !errors.Is(err, errx.ErrInvalid) {
		t.Fatalf("expected invalid contact, got %v", err)
	}
}

func TestChatSendInvoice(t *testing.T) {
	b, api := newTestBot(t)
	inv := payment.Invoice{
		Title: "Pay", Description: "Pizza", Payload: "pizza-order:abc",
		ProviderToken: "prov", Currency: "RUB", StartParameter: "pizza-payment",
		Lines: []payment.Line{{Label: "Order", Amount: 100000}, {Label: "Delivery", Amount: 10000}},
	}
	if err := NewChat(b).SendInvoice(context.Background(), 100, inv); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	calls := api.byMethod("sendInvoice")
	if len(calls) != 1 {
		t.Fatalf("expected 1 sendInvoice, got %d", len(calls))
	}
	p := calls[0].Params
	if p["payload"] != "pizza-order:abc" || p["currency"] != "RUB" || p["provider_token"] != "prov" {
		t.Fatalf("unexpected invoice params: %v", p)
	}
	if !strings.Contains(p["prices"], "100000") || !strings.Contains(p["prices"], "Delivery") {
		t.Fatalf("unexpected prices: %s", p["prices"])
	}
}

func TestParseContact(t *testing.T) {
	cases := map[string]string{
		"123":          "123",
		" -100500 ":    "-100500",
		"@courier_bob": "@courier_bob",
		"courier_bob":  "@courier_bob",
	}
	for in, want := range cases {
		r, err := ParseContact(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if r.Recipient() != want {
			t.Fatalf("%q: got %q want %q", in, r.Recipient(), want)
		}
	}
	for _, bad := range []string{"", "@", "0", "two words"} {
		if _, err := ParseContact(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestMarkupEmpty(t *testing.T) {
	if m := Markup(nil); m != nil {
		t.Fatalf("expected nil markup, got %+v", m)
	}
}

func TestEventFromUpdates(t *testing.T) {
	b, _ := newTestBot(t)
	user := &tele.User{ID: 100, FirstName: "Ann"}
	chat := &tele.Chat{ID: 100}

	cases := []struct {
		name string
		upd  tele.Update
		want shop.Event
		ok   bool
	}{
		{
			name: "command",
			upd:  tele.Update{ID: 1, Message: &tele.Message{ID: 5, Sender: user, Chat: chat, Text: "/Start@pizzabot now"}},
			want: shop.Event{Kind: shop.EventCommand, UpdateID: 1, ChatID: 100, UserID: 100, FirstName: "Ann", Command: "start", MessageID: 5},
			ok:   true,
		},
		{
			name: "text",
			upd:  tele.Update{ID: 2, Message: &tele.Message{ID: 6, Sender: user, Chat: chat, Text: "  Tverskaya 1 "}},
			want: shop.Event{Kind: shop.EventText, UpdateID: 2, ChatID: 100, UserID: 100, FirstName: "Ann", Text: "Tverskaya 1", MessageID: 6},
			ok:   true,
		},
		{
			name: "button",
			upd: tele.Update{ID: 3, Callback: &tele.Callback{
				ID: "cb", Sender: user, Data: "\fadd|p1",
				Message: &tele.Message{ID: 9, Chat: chat},
			}},
			want: shop.Event{Kind: shop.EventButton, UpdateID: 3, ChatID: 100, UserID: 100, FirstName: "Ann", Action: "add", Arg: "p1", MessageID: 9, CallbackID: "cb"},
			ok:   true,
		},
		{
			name: "blank",
			upd:  tele.Update{ID: 4, Message: &tele.Message{ID: 7, Sender: user, Chat: chat, Text: "   "}},
		},
		{
			name: "no sender",
			upd:  tele.Update{ID: 5, Message: &tele.Message{ID: 8, Chat: chat, Text: "hi"}},
		},
	}
	for _, tc := range cases {
		got, ok := EventFrom(b.NewContext(tc.upd))
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.ok)
		}
		if ok && !equalEvents(got, tc.want) {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestEventFromLocation(t *testing.T) {
	b, _ := newTestBot(t)
	upd := tele.Update{ID: 1, Message: &tele.Message{
		ID: 3, Sender: &tele.User{ID: 100}, Chat: &tele.Chat{ID: 100},
		Location: &tele.Location{Lat: 55.5, Lng: 37.25},
	}}
	ev, ok := EventFrom(b.NewContext(upd))
	if !ok || ev.Kind != shop.EventLocation || ev.Location == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Location.Lat != 55.5 || ev.Location.Lon != 37.25 {
		t.Fatalf("unexpected location: %+v", ev.Location)
	}
}

func equalEvents(a, b shop.Event) bool {
	if (a.Location == nil) != (b.Location == nil) {
		return false
	}
	a.Location, b.Location = nil, nil
	return a == b
}

type fakeMachine struct {
	events []shop.Event
	err    error
}

func (m *fakeMachine) Dispatch(_ context.Context, ev shop.Event) error {
	m.events = append(m.events, ev)
	return m.err
}

type fakePayments struct {
	ok       bool
	paid     []string
	payloads []string
}

func (p *fakePayments) PreCheckout(_ context.Context, payload string) (bool, string) {
	p.payloads = append(p.payloads, payload)
	if p.ok {
		return true, ""
	}
	return false, "declined"
}

func (p *fakePayments) Paid(_ context.Context, chatID int64, payload string, total int64, currency string) error {
	p.paid = append(p.paid, fmt.Sprintf("%d %s %d %s", chatID, payload, total, currency))
	return nil
}

type fakePoints struct{ points []catalog.DeliveryPoint }

func (f fakePoints) ListDeliveryPoints(context.Context, string) ([]catalog.DeliveryPoint, error) {
	return f.points, nil
}

func TestNewHandlersRequiresCollaborators(t *testing.T) {
	if _, err := NewHandlers(Options{}); err == nil {
		t.Fatalf("expected error without machine")
	}
	if _, err := NewHandlers(Options{Machine: &fakeMachine{}}); err == nil {
		t.Fatalf("expected error without payments")
	}
}

func TestRoutesRegisterEveryAction(t *testing.T) {
	h, err := NewHandlers(Options{Machine: &fakeMachine{}, Payments: &fakePayments{}, Points: fakePoints{}, AdminID: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	reg := tg.NewRegistry()
	routes, err := h.Routes(reg)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	for _, a := range shop.Actions {
		if _, ok := reg.GetCallback(a); !ok {
			t.Fatalf("action %q not registered", a)
		}
	}
	if _, cmd, ok := reg.LookupCommand("/points"); !ok || !cmd.AdminOnly {
		t.Fatalf("/points must be admin only")
	}
	endpoints := map[any]bool{}
	for _, r := range routes {
		endpoints[r.Endpoint] = true
	}
	for _, e := range []any{"/start", tele.OnCallback, tele.OnText, tele.OnLocation, tele.OnCheckout, tele.OnPayment} {
		if !endpoints[e] {
			t.Fatalf("missing route %v", e)
		}
	}
	if _, err := h.Routes(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestOnEventDispatches(t *testing.T) {
	b, _ := newTestBot(t)
	m := &fakeMachine{err: errors.New("boom")}
	h, _ := NewHandlers(Options{Machine: m, Payments: &fakePayments{}})
	upd := tele.Update{ID: 1, Message: &tele.Message{Sender: &tele.User{ID: 100}, Chat: &tele.Chat{ID: 100}, Text: "hello"}}
	if err := h.OnEvent(b.NewContext(upd)); err == nil {
		t.Fatalf("expected machine error to surface")
	}
	if len(m.events) != 1 || m.events[0].Text != "hello" {
		t.Fatalf("unexpected events: %+v", m.events)
	}

	empty := tele.Update{ID: 2, Message: &tele.Message{Sender: &tele.User{ID: 100}, Chat: &tele.Chat{ID: 100}}}
	if err := h.OnEvent(b.NewContext(empty)); err != nil {
		t.Fatalf("empty message: %v", err)
	}
	if len(m.events) != 1 {
		t.Fatalf("empty message must not dispatch")
	}
}

func TestOnCheckout(t *testing.T) {
	for _, ok := range []bool{true, false} {
		b, api := newTestBot(t)
		pay := &fakePayments{ok: ok}
		h, _ := NewHandlers(Options{Machine: &fakeMachine{}, Payments: pay})
		upd := tele.Update{ID: 1, PreCheckoutQuery: &tele.PreCheckoutQuery{ID: "q1", Sender: &tele.User{ID: 100}, Payload: "pizza-order:x"}}
		if err := h.OnCheckout(b.NewContext(upd)); err != nil {
			t.Fatalf("checkout: %v", err)
		}
		calls := api.byMethod("answerPreCheckoutQuery")
		if len(calls) != 1 {
			t.Fatalf("expected one answer, got %d", len(calls))
		}
		p := calls[0].Params
		if p["pre_checkout_query_id"] != "q1" {
			t.Fatalf("unexpected params: %v", p)
		}
		if ok && !strings.EqualFold(p["ok"], "true") {
			t.Fatalf("expected approval: %v", p)
		}
		if !ok && (!strings.EqualFold(p["ok"], "false") || p["error_message"] != "declined") {
			t.Fatalf("expected decline: %v", p)
		}
		if len(pay.payloads) != 1 || pay.payloads[0] != "pizza-order:x" {
			t.Fatalf("unexpected payloads: %v", pay.payloads)
		}
	}
}

func TestOnPayment(t *testing.T) {
	b, _ := newTestBot(t)
	pay := &fakePayments{}
	h, _ := NewHandlers(Options{Machine: &fakeMachine{}, Payments: pay})
	upd := tele.Update{ID: 1, Message: &tele.Message{
		Sender: &tele.User{ID: 100}, Chat: &tele.Chat{ID: 100},
		Payment: &tele.Payment{Payload: "pizza-order:x", Total: 110000, Currency: "RUB"},
	}}
	if err := h.OnPayment(b.NewContext(upd)); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if len(pay.paid) != 1 || pay.paid[0] != "100 pizza-order:x 110000 RUB" {
		t.Fatalf("unexpected paid: %v", pay.paid)
	}
}

func TestOnPointsAndFormat(t *testing.T) {
	b, api := newTestBot(t)
	points := []catalog.DeliveryPoint{
		{Address: "Tverskaya 1", Point: geo.Point{Lat: 55.757, Lon: 37.615}, Contact: "111"},
		{Address: "Arbat 2"},
	}
	h, _ := NewHandlers(Options{Machine: &fakeMachine{}, Payments: &fakePayments{}, Points: fakePoints{points: points}, Policy: delivery.DefaultPolicy()})
	upd := tele.Update{ID: 1, Message: &tele.Message{Sender: &tele.User{ID: 1}, Chat: &tele.Chat{ID: 1}, Text: "/points"}}
	if err := h.OnPoints(b.NewContext(upd)); err != nil {
		t.Fatalf("points: %v", err)
	}
	calls := api.byMethod("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected one reply, got %d", len(calls))
	}
	text := calls[0].Params["text"]
	if !strings.Contains(text, "1. Tverskaya 1") || !strings.Contains(text, "courier: 111") || !strings.Contains(text, "courier: no courier") || !strings.HasSuffix(text, "Delivery radius: 20000 m") {
		t.Fatalf("unexpected text: %q", text)
	}
	if got := FormatPoints(nil); got != "No pizzerias are configured." {
		t.Fatalf("unexpected empty text: %q", got)
	}
}

func TestAlerterWithoutAdminOnlyLogs(t *testing.T) {
	b, api := newTestBot(t)
	NewAlerter(0, NewChat(b), nil).Alert(context.Background(), "no points")
	if n := len(api.byMethod("sendMessage")); n != 0 {
		t.Fatalf("expected no sends, got %d", n)
	}
}

func TestAlerterSendsToAdmin(t *testing.T) {
	b, api := newTestBot(t)
	NewAlerter(42, NewChat(b), nil).Alert(context.Background(), "no points")
	calls := api.byMethod("sendMessage")
	if len(calls) != 1 || calls[0].Params["chat_id"] != "42" || calls[0].Params["text"] != "no points" {
		t.Fatalf("unexpected alert: %v", calls)
	}
}
