package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/etokosmo/pizza-shop/core/logger"
)

const (
	readyTimeout   = 30 * time.Second
	previewEntries = 6
)

// RunMigrations waits for the server and applies every up migration at the root of fsys.
func RunMigrations(ctx context.Context, cfg Config, fsys fs.FS) error {
	dsn := cfg.URL()
	if err := WaitForPostgres(ctx, cfg.DSN(), readyTimeout); err != nil {
		return migrateFailed(ctx, "ready", fmt.Errorf("database not ready: %w", err))
	}

	files := migrationFiles(fsys)
	logger.Debug(ctx, "db.migrate", "migrate.resolve",
		append([]slog.Attr{slog.Int("count", len(files))}, preview(files)...)...)

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return migrateFailed(ctx, "source", fmt.Errorf("open migration source: %w", err))
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return migrateFailed(ctx, "init", fmt.Errorf("init migrations: %w", err))
	}
	defer func() { _, _ = m.Close() }()

	from := version(m)
	start := time.Now()
	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		err = nil
	case err != nil:
		return migrateFailed(ctx, "up", fmt.Errorf("apply migrations: %w", err))
	}
	to := version(m)

	applied := appliedBetween(files, from, to)
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("count", len(applied)),
		slog.Duration("duration", logger.Took(start)),
	}
	logger.Info(ctx, "db.migrate", "migrate.summary", append(attrs, preview(applied)...)...)
	return nil
}

func migrateFailed(ctx context.Context, step string, err error) error {
	logger.Error(ctx, "db.migrate", "migrate."+step,
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
	return err
}

func version(m *migrate.Migrate) uint64 {
	v, _, err := m.Version()
	if err != nil {
		return 0
	}
	return uint64(v)
}

func preview(files []string) []slog.Attr {
	if len(files) == 0 {
		return nil
	}
	shown, truncated := logger.SummarizeStrings(files, previewEntries)
	attrs := []slog.Attr{slog.String("files", shown)}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

// migrationFiles lists the up scripts at the root of fsys in version order.
func migrationFiles(fsys fs.FS) []string {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		if va, vb := fileVersion(a), fileVersion(b); va != vb {
			return int(va) - int(vb)
		}
		return strings.Compare(a, b)
	})
	return names
}

func fileVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// appliedBetween returns the files with versions in (from, to].
func appliedBetween(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := fileVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
