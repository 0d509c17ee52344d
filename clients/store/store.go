package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"liqradar/config"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Open when no DSN is configured.
var ErrDisabled = errors.New("whale store disabled: no DSN configured")

// Whale is one persisted address with its accumulated stream volume.
type Whale struct {
	Address   string
	Volume    float64
	FirstSeen time.Time
	LastSeen  time.Time
}

// WhaleStore persists discovered addresses so a restart does not begin from
// an empty registry. The same SQL runs on postgres, pgx and sqlite3.
type WhaleStore struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to the configured database and ensures the schema exists.
func Open(ctx context.Context, logger *zap.Logger, cfg config.StoreConfig) (*WhaleStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrDisabled
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	s := New(db, cfg.Driver, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("whale store opened", zap.String("driver", cfg.Driver))
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string, logger *zap.Logger) *WhaleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhaleStore{
		db:     db,
		driver: driver,
		logger: logger,
		now:    time.Now,
	}
}

// Migrate creates the whales table if it does not exist.
func (s *WhaleStore) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS whales (
			address    TEXT PRIMARY KEY,
			volume     DOUBLE PRECISION NOT NULL DEFAULT 0,
			first_seen TIMESTAMP NOT NULL,
			last_seen  TIMESTAMP NOT NULL
		)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate whales: %w", err)
	}
	return nil
}

// Upsert records volumeDelta of new activity for address, creating the row
// on first sight.
func (s *WhaleStore) Upsert(ctx context.Context, address string, volumeDelta float64) error {
	query := `
		INSERT INTO whales (address, volume, first_seen, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE
		SET volume = whales.volume + excluded.volume,
		    last_seen = excluded.last_seen`

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, query, strings.ToLower(address), volumeDelta, now); err != nil {
		return fmt.Errorf("upsert whale: %w", err)
	}
	return nil
}

// LoadTopAddresses returns up to limit addresses ordered by volume, highest
// first.
func (s *WhaleStore) LoadTopAddresses(ctx context.Context, limit int) ([]Whale, error) {
	query := `
		SELECT address, volume, first_seen, last_seen
		FROM whales
		ORDER BY volume DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("load whales: %w", err)
	}
	defer rows.Close()

	var whales []Whale
	for rows.Next() {
		var w Whale
		if err := rows.Scan(&w.Address, &w.Volume, &w.FirstSeen, &w.LastSeen); err != nil {
			return nil, fmt.Errorf("scan whale: %w", err)
		}
		whales = append(whales, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whales: %w", err)
	}

	return whales, nil
}

// Count returns the number of stored addresses.
func (s *WhaleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whales`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count whales: %w", err)
	}
	return n, nil
}

// Close closes the underlying connection pool.
func (s *WhaleStore) Close() error {
	return s.db.Close()
}
