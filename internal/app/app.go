package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/etokosmo/pizza-shop/core/bootstrap"
	"github.com/etokosmo/pizza-shop/core/httpx"
	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/core/redisx"
	coretelegram "github.com/etokosmo/pizza-shop/core/telegram"
	"github.com/etokosmo/pizza-shop/core/telegram/sender"
	"github.com/etokosmo/pizza-shop/internal/bot"
	"github.com/etokosmo/pizza-shop/internal/catalog"
	"github.com/etokosmo/pizza-shop/internal/delivery"
	"github.com/etokosmo/pizza-shop/internal/geocode"
	"github.com/etokosmo/pizza-shop/internal/opsapi"
	"github.com/etokosmo/pizza-shop/internal/payment"
	"github.com/etokosmo/pizza-shop/internal/session"
	"github.com/etokosmo/pizza-shop/internal/shop"
	"github.com/etokosmo/pizza-shop/migrations"

	tele "gopkg.in/telebot.v4"
)

const opsShutdownTimeout = 5 * time.Second

// Infra carries already opened connections. Nil fields are opened from the config.
type Infra struct {
	DB    *sqlx.DB
	Redis redis.Cmdable
	Bot   *tele.Bot
	// HTTP is used by the catalog and geocoder clients.
	HTTP *http.Client
}

// App is a fully wired bot ready to run.
type App struct {
	cfg        *Config
	bot        *tele.Bot
	registry   *coretelegram.Registry
	dispatcher *sender.Dispatcher
	routes     []coretelegram.Route
	machine    *shop.Machine
	followup   *payment.Followup
	sessions   session.Store
	pinger     session.Pinger
	ops        *http.Server

	closers []func() error
}

// Bootstrap initializes logging, connects the SQL backend when selected and wires the app.
func Bootstrap(ctx context.Context, cfg *Config) (*App, error) {
	opts := bootstrap.Options{Config: &cfg.Config}
	if cfg.Session.Backend == BackendPostgres {
		opts.Database = &cfg.Database
		opts.Migrations = migrations.FS
	}
	res, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, Infra{DB: res.DB})
	if err != nil {
		if res.DB != nil {
			_ = res.DB.Close()
		}
		return nil, err
	}
	if res.DB != nil {
		a.closers = append(a.closers, res.DB.Close)
	}
	return a, nil
}

// New wires every component from a normalized config.
func New(ctx context.Context, cfg *Config, infra Infra) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{cfg: cfg, registry: coretelegram.NewRegistry()}
	if err := a.openSessions(ctx, infra); err != nil {
		return nil, err
	}

	httpClient := infra.HTTP
	if httpClient == nil {
		httpClient = httpx.New(httpx.Options{})
	}
	catalogClient := catalog.New(cfg.Catalog, httpClient)
	geocoder := geocode.NewYandex(cfg.Geocoder, httpClient)
	resolver := delivery.NewResolver(catalogClient, cfg.Catalog.PointsFlow, cfg.Delivery)
	invoices := payment.NewBuilder(cfg.Payment)

	a.bot = infra.Bot
	if a.bot == nil {
		b, err := coretelegram.NewBot(&cfg.Config, coretelegram.BotOptions{})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.bot = b
	}
	chat := bot.NewChat(a.bot)
	a.dispatcher = sender.NewDispatcher(sender.Options{})
	a.closers = append(a.closers, func() error { a.dispatcher.Close(); return nil })
	a.followup = payment.NewFollowup(cfg.Payment, invoices, chat)

	scratch := session.NewScratchStore(cfg.Session.ScratchIdle)
	stopSweep := scratch.StartSweeper(0, func(removed int) {
		logger.Info(context.Background(), "session", "scratch.evicted", slog.Int("count", removed))
	})
	a.closers = append(a.closers, func() error { stopSweep(); return nil })

	machine, err := shop.New(shop.Deps{
		Store:    a.sessions,
		Scratch:  scratch,
		Locker:   session.NewLocker(),
		Catalog:  catalogClient,
		Geocoder: geocoder,
		Locator:  resolver,
		Chat:     chat,
		Invoices: invoices,
		Alerter:  bot.NewAlerter(cfg.Telegram.AdminID, chat, a.dispatcher),
		Currency: cfg.Payment.Currency,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.machine = machine

	handlers, err := bot.NewHandlers(bot.Options{
		Machine:  machine,
		Payments: a.followup,
		Points:   catalogClient,
		Flow:     cfg.Catalog.PointsFlow,
		Policy:   cfg.Delivery,
		AdminID:  cfg.Telegram.AdminID,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.routes, err = handlers.Routes(a.registry); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Ops.Listen != "" {
		a.ops = &http.Server{
			Addr: cfg.Ops.Listen,
			Handler: opsapi.NewRouter(opsapi.Options{
				Sessions: a.sessions,
				Pinger:   a.pinger,
				Backend:  cfg.Session.Backend,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	logger.Info(ctx, "app", "app.wired",
		slog.String("status", "ok"),
		slog.String("backend", cfg.Session.Backend),
		slog.Int("routes", len(a.routes)),
		slog.Bool("ops", a.ops != nil),
	)
	return a, nil
}

func (a *App) openSessions(ctx context.Context, infra Infra) error {
	switch a.cfg.Session.Backend {
	case BackendMemory, "":
		a.sessions = session.NewMemoryStore()
	case BackendRedis:
		client := infra.Redis
		if client == nil {
			c, err := redisx.Connect(ctx, a.cfg.Redis)
			if err != nil {
				return fmt.Errorf("app: session redis: %w", err)
			}
			a.closers = append(a.closers, c.Close)
			client = c
		}
		store := session.NewRedisStore(client, a.cfg.Session.Prefix, a.cfg.Session.TTL)
		a.sessions, a.pinger = store, store
	case BackendPostgres:
		if infra.DB == nil {
			return errors.New("app: postgres session backend needs a database connection")
		}
		store := session.NewPostgresStore(infra.DB)
		a.sessions, a.pinger = store, store
	default:
		return fmt.Errorf("app: unknown session backend %q", a.cfg.Session.Backend)
	}
	return nil
}

// Handler returns the ops HTTP handler, or nil when the ops server is disabled.
func (a *App) Handler() http.Handler {
	if a.ops == nil {
		return nil
	}
	return a.ops.Handler
}

// TelegramRunOptions implements the runner's TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config:      &a.cfg.Config,
		Bot:         a.bot,
		Registry:    a.registry,
		Dispatcher:  a.dispatcher,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Config, bot.OnLimited),
		Routes:      a.routes,
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, _ coretelegram.Runtime) error {
	if a.ops == nil {
		return nil
	}
	srv := a.ops
	go func() {
		logger.Info(ctx, "ops", "server.started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "ops", "server.stopped",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	return nil
}

func (a *App) stop(ctx context.Context, _ coretelegram.Runtime) error {
	var errs []error
	if a.ops != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, opsShutdownTimeout)
		if err := a.ops.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops shutdown: %w", err))
		}
		cancel()
	}
	logger.Info(ctx, "payment", "followup.stopped", slog.Int("count", a.followup.Pending()))
	st := a.dispatcher.Stats()
	logger.Info(ctx, "tg.sender", "sender.stats",
		slog.Int("pending_count", st.Queued),
		slog.Uint64("sent", st.Sent),
		slog.Uint64("retried", st.Retried),
		slog.Uint64("failed", st.Failed),
	)
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close cancels pending follow-ups and releases connections opened by New.
func (a *App) Close() error {
	if a.followup != nil {
		a.followup.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
