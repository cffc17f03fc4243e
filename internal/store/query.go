package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OrderView is the read-side shape of one order row.
type OrderView struct {
	Signature            string `json:"signature"`
	Slot                 uint64 `json:"slot"`
	User                 string `json:"user"`
	Ticker               string `json:"ticker"`
	Side                 string `json:"side"`
	UsdcAmount           uint64 `json:"usdcAmount"`
	AssetAmount          uint64 `json:"assetAmount"`
	Price                uint64 `json:"price"`
	OracleTimestamp      int64  `json:"oracleTimestamp"`
	Status               string `json:"status"`
	CreatedAt            int64  `json:"createdAt"`
	FulfillmentSignature string `json:"fulfillmentSignature,omitempty"`
	FulfilledAt          int64  `json:"fulfilledAt,omitempty"`
}

// OrderFilter narrows ListOrders. Zero values mean no constraint.
type OrderFilter struct {
	User   string
	Ticker string
	Status string
	Limit  int
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]OrderView, error) {
	var conditions []string
	var args []any
	if filter.User != "" {
		conditions = append(conditions, "user_pubkey = ?")
		args = append(args, filter.User)
	}
	if filter.Ticker != "" {
		conditions = append(conditions, "ticker = ?")
		args = append(args, filter.Ticker)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `
		SELECT signature, slot, user_pubkey, ticker, side, usdc_amount,
		       asset_amount, price, oracle_timestamp, status, created_at,
		       fulfillment_signature, fulfilled_at
		FROM orders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, signature DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []OrderView
	for rows.Next() {
		view, err := scanOrderView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, signature string) (*OrderView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature, slot, user_pubkey, ticker, side, usdc_amount,
		       asset_amount, price, oracle_timestamp, status, created_at,
		       fulfillment_signature, fulfilled_at
		FROM orders
		WHERE signature = ?
	`, signature)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	view, err := scanOrderView(rows)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListPendingOrders returns orders awaiting fulfillment, oldest first, for the
// listener's mint/burn pass.
func (s *Store) ListPendingOrders(ctx context.Context, limit int) ([]OrderView, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature, slot, user_pubkey, ticker, side, usdc_amount,
		       asset_amount, price, oracle_timestamp, status, created_at,
		       fulfillment_signature, fulfilled_at
		FROM orders
		WHERE status = 'pending'
		ORDER BY created_at ASC, signature ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()

	var out []OrderView
	for rows.Next() {
		view, err := scanOrderView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

// PriceTickView is the read-side shape of one stored oracle tick.
type PriceTickView struct {
	Source      string `json:"source"`
	FeedID      string `json:"feedId"`
	Slot        int64  `json:"slot"`
	PublishTime int64  `json:"publishTime"`
	Price       uint64 `json:"price"`
	Conf        uint64 `json:"conf"`
	Expo        int32  `json:"expo"`
	ReceivedAt  int64  `json:"receivedAt"`
}

func (s *Store) LatestPriceTick(ctx context.Context, feedID string) (*PriceTickView, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source, feed_id, slot, publish_time, price, conf, expo, received_at
		FROM price_ticks
		WHERE feed_id = ?
		ORDER BY publish_time DESC, slot DESC, id DESC
		LIMIT 1
	`, feedID)

	var view PriceTickView
	var priceText, confText string
	err := row.Scan(
		&view.Source,
		&view.FeedID,
		&view.Slot,
		&view.PublishTime,
		&priceText,
		&confText,
		&view.Expo,
		&view.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest price tick: %w", err)
	}
	if view.Price, err = strconv.ParseUint(priceText, 10, 64); err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", priceText, err)
	}
	if view.Conf, err = strconv.ParseUint(confText, 10, 64); err != nil {
		return nil, fmt.Errorf("parse stored conf %q: %w", confText, err)
	}
	return &view, nil
}

func scanOrderView(rows *sql.Rows) (OrderView, error) {
	var view OrderView
	var usdcText, assetText, priceText string
	var fulfillmentSignature sql.NullString
	var fulfilledAt sql.NullInt64

	err := rows.Scan(
		&view.Signature,
		&view.Slot,
		&view.User,
		&view.Ticker,
		&view.Side,
		&usdcText,
		&assetText,
		&priceText,
		&view.OracleTimestamp,
		&view.Status,
		&view.CreatedAt,
		&fulfillmentSignature,
		&fulfilledAt,
	)
	if err != nil {
		return OrderView{}, fmt.Errorf("scan order row: %w", err)
	}

	if view.UsdcAmount, err = strconv.ParseUint(usdcText, 10, 64); err != nil {
		return OrderView{}, fmt.Errorf("parse stored usdc amount %q: %w", usdcText, err)
	}
	if view.AssetAmount, err = strconv.ParseUint(assetText, 10, 64); err != nil {
		return OrderView{}, fmt.Errorf("parse stored asset amount %q: %w", assetText, err)
	}
	if view.Price, err = strconv.ParseUint(priceText, 10, 64); err != nil {
		return OrderView{}, fmt.Errorf("parse stored price %q: %w", priceText, err)
	}
	if fulfillmentSignature.Valid {
		view.FulfillmentSignature = fulfillmentSignature.String
	}
	if fulfilledAt.Valid {
		view.FulfilledAt = fulfilledAt.Int64
	}
	return view, nil
}
