// Package shop is the ordering conversation: it turns chat events into
// catalog, cart, delivery and payment actions and persists where each chat is.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/session"
)

const (
	tracerName = "github.com/etokosmo/pizza-shop/internal/shop"

	// DefaultTimeout bounds the handling of one event, including every outbound call.
	DefaultTimeout = 30 * time.Second

	noticeTimeout = 5 * time.Second
)

// Deps are the collaborators of a Machine. Alerter and Tracer are optional.
type Deps struct {
	Store    session.Store
	Scratch  *session.ScratchStore
	Locker   *session.Locker
	Catalog  Catalog
	Geocoder Geocoder
	Locator  Locator
	Chat     Chat
	Invoices Invoicer
	Alerter  Alerter
	Tracer   trace.Tracer

	// Currency labels delivery fees in messages.
	Currency string
	Timeout  time.Duration
}

// Machine dispatches chat events to the handler of the chat's current state.
type Machine struct {
	store    session.Store
	scratch  *session.ScratchStore
	locker   *session.Locker
	catalog  Catalog
	geocoder Geocoder
	locator  Locator
	chat     Chat
	invoices Invoicer
	alerter  Alerter
	tracer   trace.Tracer
	currency string
	timeout  time.Duration
}

// turn carries one event and the chat's scratch through a handler.
type turn struct {
	ev       Event
	sc       *session.Scratch
	answered bool
}

type handlerFunc func(ctx context.Context, t *turn) (session.State, error)

// New validates deps and returns a Machine.
func New(d Deps) (*Machine, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("shop: session store is required")
	case d.Catalog == nil:
		return nil, errors.New("shop: catalog is required")
	case d.Geocoder == nil:
		return nil, errors.New("shop: geocoder is required")
	case d.Locator == nil:
		return nil, errors.New("shop: locator is required")
	case d.Chat == nil:
		return nil, errors.New("shop: chat is required")
	case d.Invoices == nil:
		return nil, errors.New("shop: invoicer is required")
	}
	m := &Machine{
		store:    d.Store,
		scratch:  d.Scratch,
		locker:   d.Locker,
		catalog:  d.Catalog,
		geocoder: d.Geocoder,
		locator:  d.Locator,
		chat:     d.Chat,
		invoices: d.Invoices,
		alerter:  d.Alerter,
		tracer:   d.Tracer,
		currency: d.Currency,
		timeout:  d.Timeout,
	}
	if m.scratch == nil {
		m.scratch = session.NewScratchStore(0)
	}
	if m.locker == nil {
		m.locker = session.NewLocker()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	for _, st := range session.States {
		if m.handlerFor(st) == nil {
			return nil, fmt.Errorf("shop: no handler for state %s", st)
		}
	}
	return m, nil
}

// handlerFor is the dispatch table. Every session.State must have a case.
func (m *Machine) handlerFor(st session.State) handlerFunc {
	switch st {
	case session.Start:
		return m.handleStart
	case session.BrowsingMenu:
		return m.handleBrowsingMenu
	case session.ViewingItem:
		return m.handleViewingItem
	case session.ViewingCart:
		return m.handleViewingCart
	case session.AwaitingEmail:
		return m.handleAwaitingEmail
	case session.AwaitingAddress:
		return m.handleAwaitingAddress
	case session.AwaitingDeliveryChoice:
		return m.handleAwaitingDeliveryChoice
	}
	return nil
}

// Dispatch handles one event. Events of the same chat are serialized.
// The next state is stored only when the handler succeeds; on failure the
// stored state is left untouched and the user gets a best-effort notice.
// The returned error has already been logged.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	unlock := m.locker.Lock(ev.ChatID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "shop.dispatch", trace.WithAttributes(
		attribute.Int64("chat.id", ev.ChatID),
		attribute.String("event.kind", ev.Kind.String()),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = logger.WithTrace(ctx, sc.TraceID().String(), sc.SpanID().String())
	}

	t := &turn{ev: ev}
	current, err := m.currentState(ctx, ev)
	if err != nil {
		m.fail(ctx, span, t, "", err, start)
		return err
	}
	span.SetAttributes(attribute.String("session.state", current.String()))
	ctx = logger.WithHandler(ctx, "shop."+strings.ToLower(current.String()))
	ctx = logger.WithState(ctx, current.String())

	// A restarted conversation works on a fresh scratch. The stored one is
	// replaced only when the turn succeeds.
	var sc session.Scratch
	if current != session.Start {
		sc = m.scratch.Get(ev.ChatID)
	}
	t.sc = &sc
	next, err := m.handlerFor(current)(ctx, t)
	if err == nil {
		err = m.store.Set(ctx, ev.ChatID, next)
	}
	if err != nil {
		m.fail(ctx, span, t, current, err, start)
		return err
	}

	if next == session.Start {
		m.scratch.Clear(ev.ChatID)
	} else {
		m.scratch.Update(ev.ChatID, func(s *session.Scratch) { *s = sc })
	}
	m.answer(ctx, t, "")

	span.SetAttributes(attribute.String("session.next_state", next.String()))
	span.SetStatus(codes.Ok, "")
	logger.Info(ctx, "shop", "dispatch.handled",
		slog.String("status", "ok"),
		slog.String("input", ev.Kind.String()),
		slog.String("next_state", next.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// currentState resolves the state the event is handled in.
func (m *Machine) currentState(ctx context.Context, ev Event) (session.State, error) {
	if ev.Kind == EventCommand && ev.Command == CommandStart {
		return session.Start, nil
	}
	st, err := m.store.Get(ctx, ev.ChatID)
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, errx.ErrNotFound):
		return session.Start, nil
	case errors.Is(err, errx.ErrUnknownState):
		logger.Warn(ctx, "session", "session.corrupted",
			slog.String("status", "retry"),
			slog.String("err", err.Error()),
		)
		return session.Start, nil
	}
	return "", err
}

func (m *Machine) fail(ctx context.Context, span trace.Span, t *turn, st session.State, err error, start time.Time) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	kind := errx.KindOf(err)
	attrs := []slog.Attr{
		slog.String("status", "fail"),
		slog.String("input", t.ev.Kind.String()),
		slog.String("state", st.String()),
		slog.String("err", err.Error()),
		slog.Duration("duration", logger.Took(start)),
	}
	var xe *errx.Error
	if errors.As(err, &xe) {
		attrs = append(attrs, slog.String("err_code", xe.Code()))
	}
	logger.Error(ctx, "shop", "dispatch.failed", attrs...)

	// The dispatch context may have expired; the notice gets its own budget.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()

	if kind == errx.KindNoCandidates {
		m.alert(nctx, fmt.Sprintf("No delivery points are configured; chat %d could not get a delivery offer.", t.ev.ChatID))
	}
	notice := textNoticeFailure
	if kind == errx.KindNotFound {
		notice = textNoticeNotFound
	}
	m.answer(nctx, t, "")
	if sendErr := m.chat.SendMessage(nctx, t.ev.ChatID, notice, nil); sendErr != nil {
		logger.Warn(nctx, "shop", "notice.sent",
			slog.String("status", "fail"),
			slog.String("err", sendErr.Error()),
		)
	}
}

func (m *Machine) alert(ctx context.Context, text string) {
	if m.alerter == nil {
		return
	}
	m.alerter.Alert(ctx, text)
}

// answer acknowledges the pressed button once per event.
func (m *Machine) answer(ctx context.Context, t *turn, text string) {
	if t.ev.CallbackID == "" || t.answered {
		return
	}
	t.answered = true
	if err := m.chat.AnswerButton(ctx, t.ev.CallbackID, text); err != nil {
		logger.Debug(ctx, "shop", "button.answered",
			slog.String("status", "skip"),
			slog.String("err", err.Error()),
		)
	}
}
