package logger

import "strings"

// Canonical level names.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

// vocabulary lists the accepted values of an enumerated field.
type vocabulary map[string]struct{}

func vocab(values ...string) vocabulary {
	v := make(vocabulary, len(values))
	for _, s := range values {
		v[s] = struct{}{}
	}
	return v
}

// lookup lowercases s and reports whether it belongs to v.
func (v vocabulary) lookup(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	_, ok := v[s]
	return s, ok
}

var (
	// statusValues is what dashboards group the status field by.
	// declined covers refused pre-checkout queries.
	statusValues  = vocab("ok", "fail", "skip", "retry", "rate_limited", "cancelled", "declined")
	cacheValues   = vocab("hit", "miss", "refresh")
	outcomeValues = vocab("ok", "fail", "cancelled", "rate_limited")
)

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return strings.ToUpper(level)
}

// normalizeStatus lowercases status; unknown values are kept but reported.
func normalizeStatus(status string) (string, bool) { return statusValues.lookup(status) }

func normalizeCache(cache string) (string, bool) { return cacheValues.lookup(cache) }

func normalizeOutcome(outcome string) (string, bool) { return outcomeValues.lookup(outcome) }

// defaultKeyOrder puts correlation ids first, then the conversation and
// order fields, then errors. Keys not listed follow alphabetically.
var defaultKeyOrder = []string{
	// envelope
	"ts", "level", "component", "event", "status",
	// correlation
	"rid", "rid_full", "trace_id", "span_id", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler",
	// operation
	"operation", "op", "action", "cb_key", "outcome", "duration_ms", "http_code",
	// conversation
	"state", "next_state", "input", "backend", "product_id", "quantity",
	// delivery and payment
	"point", "meters", "tier", "fee", "order_id", "total", "currency",
	// transport and storage
	"mode", "listen", "public_url", "db", "host", "port", "cache", "count",
	"payload", "lang", "username",
	// failures
	"err", "err_code", "cause", "retryable", "attempts", "backoff_ms",
	"rate_limited", "collapsed", "repeats", "pending_count",
}
