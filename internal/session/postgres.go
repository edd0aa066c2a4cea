package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/etokosmo/pizza-shop/internal/errx"
)

const (
	selectStateSQL = `SELECT state FROM chat_sessions WHERE chat_id = $1`
	upsertStateSQL = `INSERT INTO chat_sessions (chat_id, state, updated_at) VALUES ($1, $2, now())
ON CONFLICT (chat_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
)

// PostgresStore keeps states in the chat_sessions table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection. The schema comes from the embedded migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, chatID int64) (State, error) {
	var raw string
	err := p.db.GetContext(ctx, &raw, selectStateSQL, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errx.NotFound("session.get", nil)
	}
	if err != nil {
		return "", errx.Transport("session.get", err)
	}
	return ParseState(raw)
}

// Set implements Store.
func (p *PostgresStore) Set(ctx context.Context, chatID int64, st State) error {
	if !st.Valid() {
		return errx.Invalid("session.set", errx.UnknownState("session.set", string(st)))
	}
	if _, err := p.db.ExecContext(ctx, upsertStateSQL, chatID, string(st)); err != nil {
		return errx.Transport("session.set", err)
	}
	return nil
}

// Ping implements Pinger.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return errx.Transport("session.ping", err)
	}
	return nil
}
