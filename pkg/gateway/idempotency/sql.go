package idempotency

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQL is a Store backed by SQLite or Postgres. Timestamps are stored as
// unix nanoseconds so both dialects compare them the same way.
type SQL struct {
	db      *sql.DB
	dialect string
	ttl     time.Duration
	now     func() time.Time

	claimSQL  string
	expireSQL string
	sweepSQL  string
}

// OpenSQL opens driver ("sqlite" or "postgres"), applies migrations and
// returns a ready store.
func OpenSQL(ctx context.Context, driver, dsn string, ttl time.Duration) (*SQL, error) {
	var (
		sqlDriver string
		dialect   goose.Dialect
	)
	switch driver {
	case "sqlite":
		sqlDriver, dialect = "sqlite", goose.DialectSQLite3
	case "postgres":
		sqlDriver, dialect = "pgx", goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported idempotency driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQL(db, driver, ttl), nil
}

// NewSQL wraps an already-migrated database.
func NewSQL(db *sql.DB, driver string, ttl time.Duration) *SQL {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &SQL{db: db, dialect: driver, ttl: ttl, now: time.Now}
	s.claimSQL = s.rebind(`INSERT INTO idempotency_keys (idem_key, claimed_at, expires_at) VALUES (?, ?, ?) ON CONFLICT (idem_key) DO NOTHING`)
	s.expireSQL = s.rebind(`DELETE FROM idempotency_keys WHERE idem_key = ? AND expires_at <= ?`)
	s.sweepSQL = s.rebind(`DELETE FROM idempotency_keys WHERE expires_at <= ?`)
	return s
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQL) Claim(ctx context.Context, key string) (bool, error) {
	now := s.now().UnixNano()
	if _, err := s.db.ExecContext(ctx, s.expireSQL, key, now); err != nil {
		return false, fmt.Errorf("expire idempotency key: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.claimSQL, key, now, now+s.ttl.Nanoseconds())
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return n == 1, nil
}

func (s *SQL) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.sweepSQL, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep idempotency keys: %w", err)
	}
	return int(n), nil
}

// Ping reports whether the database is reachable.
func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
