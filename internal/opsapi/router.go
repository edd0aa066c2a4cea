// Package opsapi serves the operator HTTP surface: liveness, readiness and
// session inspection.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
	"github.com/etokosmo/pizza-shop/internal/session"
)

const readyTimeout = 2 * time.Second

// Options wires the router.
type Options struct {
	Sessions session.Store
	// Pinger is checked by /readyz. Nil means the backend has nothing to ping.
	Pinger session.Pinger
	// Backend names the session backend in responses.
	Backend string
}

// NewRouter returns the ops handler.
func NewRouter(opts Options) http.Handler {
	h := &handler{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/sessions/{chatID}", h.getSession)
	return r
}

type handler struct {
	opts Options
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.opts.Pinger == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": h.opts.Backend})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := h.opts.Pinger.Ping(ctx); err != nil {
		logger.Warn(ctx, "ops", "ready.checked",
			slog.String("status", "fail"),
			slog.String("backend", h.opts.Backend),
			slog.String("err", err.Error()),
		)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "backend": h.opts.Backend, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": h.opts.Backend})
}

type sessionView struct {
	ChatID int64  `json:"chat_id"`
	State  string `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "chat id must be an integer")
		return
	}
	st, err := h.opts.Sessions.Get(r.Context(), chatID)
	switch {
	case errors.Is(err, errx.ErrNotFound):
		respondError(w, http.StatusNotFound, "no session for chat")
		return
	case errors.Is(err, errx.ErrUnknownState):
		// The next update from this chat restarts the conversation.
		respondJSON(w, http.StatusOK, sessionView{ChatID: chatID, Error: err.Error()})
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sessionView{ChatID: chatID, State: st.String()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		ctx := logger.WithRID(r.Context(), middleware.GetReqID(r.Context()))
		logger.Info(ctx, "ops", "http.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_code", ww.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
