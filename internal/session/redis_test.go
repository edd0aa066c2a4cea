package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/etokosmo/pizza-shop/internal/errx"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreContract(t *testing.T) {
	_, client := newMiniredis(t)
	storeContract(t, NewRedisStore(client, "pizza:state:", 0))
}

func TestRedisStoreKeyLayoutAndTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client, "", time.Hour)

	if err := s.Set(context.Background(), 42, AwaitingAddress); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := mr.Get("42")
	if err != nil || got != "AWAITING_ADDRESS" {
		t.Fatalf("raw value = %q, %v", got, err)
	}
	if ttl := mr.TTL("42"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("expired key: err = %v", err)
	}
}

func TestRedisStoreUnknownValue(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client, "", 0)
	if err := mr.Set("7", "HANDLE_CART"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Get(context.Background(), 7); !errors.Is(err, errx.ErrUnknownState) {
		t.Fatalf("err = %v, want unknown state", err)
	}
}

func TestRedisStoreTransportError(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedisStore(client, "", 0)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	if _, err := s.Get(context.Background(), 1); !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("err = %v, want transport", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, errx.ErrTransport) {
		t.Fatalf("ping err = %v, want transport", err)
	}
}
