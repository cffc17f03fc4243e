// Package listener follows the program's transaction log, records settled
// orders, and fulfills them by minting or burning the asset token.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/engine"
	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/spout"
	"github.com/spoutfi/rwa/backend/internal/store"
)

// transactionLog is the slice of the RPC surface the listener reads:
// signature pages for the program and the transactions behind them.
type transactionLog interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type orderStore interface {
	GetLastSignature(ctx context.Context) (string, error)
	WithTx(ctx context.Context, fn func(*store.Tx) error) error
	UpsertOrderTx(ctx context.Context, tx *store.Tx, order store.OrderRecord) error
	UpsertSyncStateTx(ctx context.Context, tx *store.Tx, lastSignature string) error
	ListPendingOrders(ctx context.Context, limit int) ([]store.OrderView, error)
	MarkOrderFulfilledTx(ctx context.Context, tx *store.Tx, signature string, fulfillmentSignature string) error
}

type Service struct {
	cfg    config.ListenerConfig
	rpc    transactionLog
	admin  *engine.Admin
	store  orderStore
	logger *slog.Logger
}

func New(cfg config.ListenerConfig, st *store.Store, logger *slog.Logger) (*Service, error) {
	issuer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.IssuerKeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.IssuerKeypairPath, err)
	}

	chain := engine.NewRPCChain(engine.ChainConfig{
		RPCURL:                        cfg.RPCURL,
		Commitment:                    cfg.Commitment,
		TxTimeout:                     cfg.TxTimeout,
		SkipPreflight:                 cfg.SkipPreflight,
		MaxRetries:                    cfg.MaxRetries,
		ComputeUnitLimit:              cfg.ComputeUnitLimit,
		ComputeUnitPriceMicroLamports: cfg.ComputeUnitPriceMicroLamports,
	}, logger)

	return &Service{
		cfg:    cfg,
		rpc:    rpc.New(cfg.RPCURL),
		admin:  engine.NewAdmin(cfg.ProgramID, cfg.SASProgramID, chain, issuer, logger),
		store:  st,
		logger: logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("order listener started",
		"rpc", s.cfg.RPCURL,
		"program", s.cfg.ProgramID,
		"mint", s.cfg.Mint,
		"poll_interval", s.cfg.PollInterval.String(),
	)

	if err := s.tick(ctx); err != nil {
		s.logger.Error("listener tick failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("order listener stopped")
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("listener tick failed", "err", err)
			}
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	if err := s.ingestSignatures(ctx); err != nil {
		return err
	}
	return s.fulfillPending(ctx)
}

// ingestSignatures walks new program transactions since the last recorded
// signature and stores every order event they emitted.
func (s *Service) ingestSignatures(ctx context.Context) error {
	lastSignature, err := s.store.GetLastSignature(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{Commitment: s.cfg.Commitment}
	if s.cfg.SignatureBatchLimit > 0 {
		limit := s.cfg.SignatureBatchLimit
		opts.Limit = &limit
	}
	if lastSignature != "" {
		until, err := solana.SignatureFromBase58(lastSignature)
		if err != nil {
			return fmt.Errorf("parse stored signature %q: %w", lastSignature, err)
		}
		opts.Until = until
	}

	signatures, err := s.rpc.GetSignaturesForAddressWithOpts(ctx, s.cfg.ProgramID, opts)
	if err != nil {
		return fmt.Errorf("getSignaturesForAddress: %w", err)
	}
	if len(signatures) == 0 {
		return nil
	}

	ingested := 0
	// Newest first from the RPC; process oldest first so the cursor only
	// advances past transactions that are already stored.
	for i := len(signatures) - 1; i >= 0; i-- {
		item := signatures[i]
		if item == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Err != nil {
			if err := s.advanceCursor(ctx, item.Signature.String()); err != nil {
				return err
			}
			continue
		}

		events, blockTime, err := s.fetchOrderEvents(ctx, item.Signature)
		if err != nil {
			// Abort the whole batch: upserting a later signature would move
			// the cursor past this transaction and its events would never be
			// fetched again.
			return fmt.Errorf("read transaction %s: %w", item.Signature, err)
		}

		err = s.store.WithTx(ctx, func(tx *store.Tx) error {
			for idx, event := range events {
				record := orderRecordFromEvent(item.Signature.String(), idx, item.Slot, blockTime, event)
				if err := s.store.UpsertOrderTx(ctx, tx, record); err != nil {
					return fmt.Errorf("upsert order %s: %w", record.Signature, err)
				}
				ingested++
			}
			return s.store.UpsertSyncStateTx(ctx, tx, item.Signature.String())
		})
		if err != nil {
			return err
		}
	}

	if ingested > 0 {
		s.logger.Info("order events ingested", "count", ingested, "scanned", len(signatures))
	}
	return nil
}

func (s *Service) advanceCursor(ctx context.Context, signature string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		return s.store.UpsertSyncStateTx(ctx, tx, signature)
	})
}

func (s *Service) fetchOrderEvents(ctx context.Context, signature solana.Signature) ([]spout.OrderEvent, int64, error) {
	version := uint64(0)
	tx, err := s.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Commitment:                     s.cfg.Commitment,
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if tx == nil || tx.Meta == nil {
		return nil, 0, fmt.Errorf("transaction %s has no metadata", signature)
	}

	events, err := spout.ParseOrderEvents(tx.Meta.LogMessages)
	if err != nil {
		return nil, 0, fmt.Errorf("parse events in %s: %w", signature, err)
	}

	blockTime := time.Now().Unix()
	if tx.BlockTime != nil {
		blockTime = int64(*tx.BlockTime)
	}
	return events, blockTime, nil
}

// orderRecordFromEvent keys each event by settlement signature; the rare
// transaction with several order events gets an index suffix past the first.
func orderRecordFromEvent(signature string, index int, slot uint64, blockTime int64, event spout.OrderEvent) store.OrderRecord {
	key := signature
	if index > 0 {
		key = fmt.Sprintf("%s:%d", signature, index)
	}
	return store.OrderRecord{
		Signature:       key,
		Slot:            slot,
		User:            event.User.String(),
		Ticker:          event.Ticker,
		Side:            event.Side.String(),
		UsdcAmount:      event.UsdcAmount,
		AssetAmount:     event.AssetAmount,
		Price:           event.Price,
		OracleTimestamp: event.OracleTimestamp,
		Status:          spout.OrderStatusPending.String(),
		CreatedAt:       blockTime,
	}
}

// fulfillPending completes stored orders: buys mint asset units to the buyer,
// sells burn them from the seller. A denied attestation leaves the order
// pending and is retried on later ticks.
func (s *Service) fulfillPending(ctx context.Context) error {
	pending, err := s.store.ListPendingOrders(ctx, s.cfg.MaxFulfillmentsPerTick)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	fulfilled := 0
	skipped := 0
	for _, order := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		user, err := solana.PublicKeyFromBase58(order.User)
		if err != nil {
			skipped++
			s.logger.Warn("stored order has invalid user key", "signature", order.Signature, "err", err)
			continue
		}

		var fulfillmentSig solana.Signature
		switch order.Side {
		case spout.OrderSideBuy.String():
			fulfillmentSig, err = s.admin.MintToKycUser(ctx, s.cfg.Mint, user, order.AssetAmount)
		case spout.OrderSideSell.String():
			fulfillmentSig, err = s.admin.BurnFromKycUser(ctx, s.cfg.Mint, user, order.AssetAmount)
		default:
			skipped++
			s.logger.Warn("stored order has unknown side", "signature", order.Signature, "side", order.Side)
			continue
		}
		if err != nil {
			skipped++
			if kyc.Denied(err) {
				s.logger.Warn("fulfillment blocked by attestation check", "signature", order.Signature, "user", order.User, "reason", err)
			} else {
				s.logger.Warn("fulfillment failed", "signature", order.Signature, "err", err)
			}
			continue
		}

		err = s.store.WithTx(ctx, func(tx *store.Tx) error {
			return s.store.MarkOrderFulfilledTx(ctx, tx, order.Signature, fulfillmentSig.String())
		})
		if err != nil {
			return fmt.Errorf("mark order %s fulfilled: %w", order.Signature, err)
		}
		fulfilled++
	}

	if fulfilled > 0 || skipped > 0 {
		s.logger.Info("fulfillment pass complete", "pending", len(pending), "fulfilled", fulfilled, "skipped", skipped)
	}
	return nil
}
