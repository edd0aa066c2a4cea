package router

import (
	"time"

	tg "github.com/etokosmo/pizza-shop/core/telegram"
	"github.com/etokosmo/pizza-shop/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// MessageOptions holds the handlers for non-command messages.
type MessageOptions struct {
	Text     tele.HandlerFunc
	Location tele.HandlerFunc
}

// MessageRoutes builds handlers for free text and shared locations.
// Text that names a registered command or alias is routed to that command.
func MessageRoutes(reg *tg.Registry, opts MessageOptions) []tg.Route {
	text := func(c tele.Context) error {
		start := time.Now()
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
		}
		if opts.Text == nil {
			logHandlerSummary(c, "unknown_text", start, "skip", nil)
			return nil
		}
		return handleWithSummary(c, "text", start, func() error { return opts.Text(c) })
	}

	routes := []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(text)),
	}}
	if opts.Location != nil {
		location := func(c tele.Context) error {
			return handleWithSummary(c, "location", time.Now(), func() error { return opts.Location(c) })
		}
		routes = append(routes, tg.Route{
			Endpoint: tele.OnLocation,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(location)),
		})
	}
	return routes
}
