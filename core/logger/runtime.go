package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type contextKey string

const (
	ctxRID      contextKey = "rid"
	ctxUpdateID contextKey = "update_id"
	ctxUserID   contextKey = "user_id"
	ctxChatID   contextKey = "chat_id"
	ctxLogger   contextKey = "logger"
	ctxHandler  contextKey = "handler"
	ctxTraceID  contextKey = "trace_id"
	ctxSpanID   contextKey = "span_id"
	ctxState    contextKey = "state"
	ctxOrderID  contextKey = "order_id"
)

func with(ctx context.Context, key contextKey, v any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func from[T any](ctx context.Context, key contextKey) T {
	var zero T
	if ctx == nil {
		return zero
	}
	v, _ := ctx.Value(key).(T)
	return v
}

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if log == nil {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return with(ctx, ctxLogger, log)
}

// WithAttrs derives the context logger with args attached to every line.
// Before InitLogger it returns ctx unchanged.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	l := FromContext(ctx)
	if l == nil || len(args) == 0 {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return WithLogger(ctx, l.With(args...))
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if l := from[*slog.Logger](ctx, ctxLogger); l != nil {
		return l
	}
	return L
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	return with(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string { return from[string](ctx, ctxRID) }

// WithUpdateMeta attaches the update, user and chat ids to context.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	ctx = with(ctx, ctxUpdateID, updateID)
	ctx = with(ctx, ctxUserID, userID)
	return with(ctx, ctxChatID, chatID)
}

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		return with(ctx, ctxHandler, HandlerFrom(ctx))
	}
	return with(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string { return from[string](ctx, ctxHandler) }

// WithState records the conversation state an update is handled in.
func WithState(ctx context.Context, state string) context.Context {
	return with(ctx, ctxState, state)
}

// StateFrom returns the conversation state stored by WithState.
func StateFrom(ctx context.Context) string { return from[string](ctx, ctxState) }

// WithOrderID tags every log line of a payment flow with its order id.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return with(ctx, ctxOrderID, orderID)
}

// OrderIDFrom returns the order id stored by WithOrderID.
func OrderIDFrom(ctx context.Context) string { return from[string](ctx, ctxOrderID) }

// WithTrace attaches trace and span identifiers to context.
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	if traceID != "" {
		ctx = with(ctx, ctxTraceID, traceID)
	}
	if spanID != "" {
		ctx = with(ctx, ctxSpanID, spanID)
	}
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// TraceIDFrom extracts trace id from context.
func TraceIDFrom(ctx context.Context) string { return from[string](ctx, ctxTraceID) }

// SpanIDFrom extracts span id from context.
func SpanIDFrom(ctx context.Context) string { return from[string](ctx, ctxSpanID) }

// UserIDFrom extracts the Telegram user id from context.
func UserIDFrom(ctx context.Context) int64 { return from[int64](ctx, ctxUserID) }

// ChatIDFrom extracts the chat id from context.
func ChatIDFrom(ctx context.Context) int64 { return from[int64](ctx, ctxChatID) }

// UpdateIDFrom extracts the update id from context.
func UpdateIDFrom(ctx context.Context) int { return from[int](ctx, ctxUpdateID) }

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// BuildRID returns a correlation identifier in the format updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID shortens colon-separated RID into base36 segments for readability.
// When the input does not match the expected format it is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
