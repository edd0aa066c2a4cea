package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/etokosmo/pizza-shop/core/logger"
	"github.com/etokosmo/pizza-shop/internal/errx"
)

// RedisStore keeps the state name under "<prefix><chat_id>".
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a store. A zero ttl keeps keys forever.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(chatID int64) string {
	return r.prefix + strconv.FormatInt(chatID, 10)
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, chatID int64) (State, error) {
	raw, err := r.client.Get(ctx, r.key(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errx.NotFound("session.get", nil)
	}
	if err != nil {
		logger.Warn(ctx, "session", "redis.get",
			slog.String("status", "fail"),
			slog.String("backend", "redis"),
			slog.String("err", err.Error()),
		)
		return "", errx.Transport("session.get", err)
	}
	return ParseState(raw)
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, chatID int64, st State) error {
	if !st.Valid() {
		return errx.Invalid("session.set", errx.UnknownState("session.set", string(st)))
	}
	if err := r.client.Set(ctx, r.key(chatID), string(st), r.ttl).Err(); err != nil {
		logger.Warn(ctx, "session", "redis.set",
			slog.String("status", "fail"),
			slog.String("backend", "redis"),
			slog.String("err", err.Error()),
		)
		return errx.Transport("session.set", err)
	}
	return nil
}

// Ping implements Pinger.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errx.Transport("session.ping", err)
	}
	return nil
}
