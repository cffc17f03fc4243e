// Package pricepusher relays Hermes oracle updates into the program's
// on-chain price feed and journals every pushed tick.
package pricepusher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/engine"
	"github.com/spoutfi/rwa/backend/internal/pricing"
	"github.com/spoutfi/rwa/backend/internal/store"
)

type Service struct {
	cfg      config.PricePusherConfig
	admin    *engine.Admin
	stream   *pricing.HermesStream
	store    *store.Store
	logger   *slog.Logger
	lastPush time.Time
}

func New(cfg config.PricePusherConfig, st *store.Store, logger *slog.Logger) (*Service, error) {
	authority, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.AuthorityKeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.AuthorityKeypairPath, err)
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

	stream, err := pricing.NewHermesStream(cfg.StreamURL, cfg.FeedID, cfg.ReconnectInterval, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:    cfg,
		admin:  engine.NewAdmin(cfg.ProgramID, solana.PublicKey{}, chain, authority, logger),
		stream: stream,
		store:  st,
		logger: logger,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("price pusher started",
		"rpc", s.cfg.RPCURL,
		"program", s.cfg.ProgramID,
		"feed_id", s.cfg.FeedID,
		"min_push_interval", s.cfg.MinPushInterval.String(),
	)
	return s.stream.Run(ctx, s.handleUpdate)
}

// handleUpdate pushes at most one update per MinPushInterval. Throttled ticks
// are still journaled so the API can serve the freshest observation.
func (s *Service) handleUpdate(ctx context.Context, update pricing.HermesUpdate) error {
	pushSignature := ""
	if s.lastPush.IsZero() || time.Since(s.lastPush) >= s.cfg.MinPushInterval {
		sig, err := s.admin.UpdatePrice(ctx, update.Price, update.Confidence, update.Expo)
		if err != nil {
			s.logger.Warn("price push failed",
				"feed_id", update.FeedID,
				"publish_time", update.PublishTime,
				"err", err,
			)
		} else {
			s.lastPush = time.Now()
			pushSignature = sig.String()
			s.logger.Info("price pushed",
				"feed_id", update.FeedID,
				"price", update.Price,
				"conf", update.Confidence,
				"expo", update.Expo,
				"signature", pushSignature,
			)
		}
	}

	if s.store != nil {
		_, err := s.store.InsertPriceTick(ctx, store.PriceTickInput{
			Source:        "hermes",
			FeedID:        update.FeedID,
			Slot:          update.Slot,
			PublishTime:   update.PublishTime,
			Price:         update.Price,
			Conf:          update.Confidence,
			Expo:          update.Expo,
			PushSignature: pushSignature,
			ReceivedAt:    time.Now().Unix(),
		})
		if err != nil {
			s.logger.Warn("failed to journal price tick", "feed_id", update.FeedID, "err", err)
		}
	}
	return nil
}
