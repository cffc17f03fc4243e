// Package store persists settled orders and oracle price ticks in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			id BIGINT PRIMARY KEY CHECK (id = 1),
			last_signature TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			signature TEXT PRIMARY KEY,
			slot BIGINT NOT NULL,
			user_pubkey TEXT NOT NULL,
			ticker TEXT NOT NULL,
			side TEXT NOT NULL,
			usdc_amount TEXT NOT NULL,
			asset_amount TEXT NOT NULL,
			price TEXT NOT NULL,
			oracle_timestamp BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			fulfillment_signature TEXT,
			fulfilled_at BIGINT,
			updated_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_time ON orders(user_pubkey, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_ticker_status ON orders(ticker, status);`,
		`CREATE TABLE IF NOT EXISTS price_ticks (
			id BIGSERIAL PRIMARY KEY,
			source TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			slot BIGINT NOT NULL,
			publish_time BIGINT NOT NULL,
			price TEXT NOT NULL,
			conf TEXT NOT NULL,
			expo INTEGER NOT NULL,
			push_signature TEXT NOT NULL DEFAULT '',
			received_at BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_price_ticks_dedupe ON price_ticks(source, feed_id, publish_time, slot);`,
		`CREATE INDEX IF NOT EXISTS idx_price_ticks_feed_time ON price_ticks(feed_id, publish_time DESC, slot DESC, id DESC);`,
	}

	for _, query := range ddl {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// OrderRecord is one settled order as observed from the program's event log.
type OrderRecord struct {
	Signature       string
	Slot            uint64
	User            string
	Ticker          string
	Side            string
	UsdcAmount      uint64
	AssetAmount     uint64
	Price           uint64
	OracleTimestamp int64
	Status          string
	CreatedAt       int64
}

func (s *Store) UpsertOrderTx(ctx context.Context, tx *Tx, order OrderRecord) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			signature, slot, user_pubkey, ticker, side, usdc_amount,
			asset_amount, price, oracle_timestamp, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			slot = excluded.slot,
			user_pubkey = excluded.user_pubkey,
			ticker = excluded.ticker,
			side = excluded.side,
			usdc_amount = excluded.usdc_amount,
			asset_amount = excluded.asset_amount,
			price = excluded.price,
			oracle_timestamp = excluded.oracle_timestamp,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`,
		order.Signature,
		int64(order.Slot),
		order.User,
		order.Ticker,
		order.Side,
		strconv.FormatUint(order.UsdcAmount, 10),
		strconv.FormatUint(order.AssetAmount, 10),
		strconv.FormatUint(order.Price, 10),
		order.OracleTimestamp,
		order.Status,
		order.CreatedAt,
		now,
	)
	return err
}

// MarkOrderFulfilledTx records the mint/burn transaction that completed an
// order and flips its status.
func (s *Store) MarkOrderFulfilledTx(ctx context.Context, tx *Tx, signature string, fulfillmentSignature string) error {
	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = 'filled',
			fulfillment_signature = ?,
			fulfilled_at = ?,
			updated_at = ?
		WHERE signature = ?
	`, fulfillmentSignature, now, now, signature)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("order %s not found", signature)
	}
	return nil
}

func (s *Store) UpsertSyncStateTx(ctx context.Context, tx *Tx, lastSignature string) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_signature, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_signature = excluded.last_signature,
			updated_at = excluded.updated_at
	`, lastSignature, now)
	return err
}

func (s *Store) GetLastSignature(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT last_signature FROM sync_state WHERE id = 1`)
	var signature string
	err := row.Scan(&signature)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return signature, nil
}

// PriceTickInput is one raw oracle observation, pre-normalization.
type PriceTickInput struct {
	Source        string
	FeedID        string
	Slot          int64
	PublishTime   int64
	Price         uint64
	Conf          uint64
	Expo          int32
	PushSignature string
	ReceivedAt    int64
}

func (s *Store) InsertPriceTick(ctx context.Context, tick PriceTickInput) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO price_ticks (
			source, feed_id, slot, publish_time, price, conf, expo, push_signature, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, feed_id, publish_time, slot) DO UPDATE SET
			price = excluded.price,
			conf = excluded.conf,
			expo = excluded.expo,
			push_signature = excluded.push_signature,
			received_at = excluded.received_at
		RETURNING id
	`,
		tick.Source,
		tick.FeedID,
		tick.Slot,
		tick.PublishTime,
		strconv.FormatUint(tick.Price, 10),
		strconv.FormatUint(tick.Conf, 10),
		tick.Expo,
		tick.PushSignature,
		tick.ReceivedAt,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert price tick: %w", err)
	}
	return id, nil
}
