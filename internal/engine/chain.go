package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/spoutfi/rwa/backend/internal/kyc"
)

// Chain is the narrow RPC surface the engine needs. Tests substitute an
// in-memory implementation.
type Chain interface {
	// FetchAccount returns the account at key. A missing account comes back
	// with empty Data, not an error.
	FetchAccount(ctx context.Context, key solana.PublicKey) (kyc.Account, error)
	// FetchAccounts batch-fetches several accounts in key order.
	FetchAccounts(ctx context.Context, keys ...solana.PublicKey) ([]kyc.Account, error)
	// SendAndConfirm signs with the given keys, submits, and polls until the
	// transaction confirms or ctx expires.
	SendAndConfirm(ctx context.Context, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error)
	// Now returns the cluster unix time, falling back to the local clock.
	Now(ctx context.Context) int64
}

// ChainConfig tunes the RPC-backed Chain implementation.
type ChainConfig struct {
	RPCURL                        string
	Commitment                    rpc.CommitmentType
	TxTimeout                     time.Duration
	SkipPreflight                 bool
	MaxRetries                    *uint
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
}

type rpcChain struct {
	cfg    ChainConfig
	rpc    *rpc.Client
	logger *slog.Logger
}

func NewRPCChain(cfg ChainConfig, logger *slog.Logger) Chain {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 45 * time.Second
	}
	return &rpcChain{
		cfg:    cfg,
		rpc:    rpc.New(cfg.RPCURL),
		logger: logger,
	}
}

func (c *rpcChain) FetchAccount(ctx context.Context, key solana.PublicKey) (kyc.Account, error) {
	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: c.cfg.Commitment})
	if err != nil {
		if err == rpc.ErrNotFound {
			return kyc.Account{Address: key}, nil
		}
		return kyc.Account{}, fmt.Errorf("fetch account %s: %w", key, err)
	}
	if resp == nil || resp.Value == nil {
		return kyc.Account{Address: key}, nil
	}
	return kyc.Account{
		Address: key,
		Owner:   resp.Value.Owner,
		Data:    resp.Value.Data.GetBinary(),
	}, nil
}

func (c *rpcChain) FetchAccounts(ctx context.Context, keys ...solana.PublicKey) ([]kyc.Account, error) {
	resp, err := c.rpc.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{Commitment: c.cfg.Commitment})
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}
	if len(resp.Value) != len(keys) {
		return nil, fmt.Errorf("unexpected account count: got %d, want %d", len(resp.Value), len(keys))
	}
	out := make([]kyc.Account, len(keys))
	for i, acc := range resp.Value {
		out[i] = kyc.Account{Address: keys[i]}
		if acc != nil {
			out[i].Owner = acc.Owner
			out[i].Data = acc.Data.GetBinary()
		}
	}
	return out, nil
}

func (c *rpcChain) SendAndConfirm(ctx context.Context, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	if len(signers) == 0 {
		return solana.Signature{}, fmt.Errorf("no signers")
	}

	withBudget := make([]solana.Instruction, 0, len(instructions)+2)
	if c.cfg.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(c.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		withBudget = append(withBudget, cuLimitIx)
	}
	if c.cfg.ComputeUnitPriceMicroLamports > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(c.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		withBudget = append(withBudget, cuPriceIx)
	}
	withBudget = append(withBudget, instructions...)

	txCtx, cancel := context.WithTimeout(ctx, c.cfg.TxTimeout)
	defer cancel()

	recent, err := c.rpc.GetLatestBlockhash(txCtx, c.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		withBudget,
		recent.Value.Blockhash,
		solana.TransactionPayer(signers[0].PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.cfg.SkipPreflight,
		PreflightCommitment: c.cfg.Commitment,
	}
	if c.cfg.MaxRetries != nil {
		retries := *c.cfg.MaxRetries
		opts.MaxRetries = &retries
	}

	sig, err := c.rpc.SendTransactionWithOpts(txCtx, tx, opts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	if err := c.waitForConfirmation(txCtx, sig); err != nil {
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}
	return sig, nil
}

func (c *rpcChain) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

func (c *rpcChain) Now(ctx context.Context) int64 {
	slot, err := c.rpc.GetSlot(ctx, c.cfg.Commitment)
	if err != nil {
		c.logger.Warn("using local clock because getSlot failed", "err", err)
		return time.Now().Unix()
	}

	blockTime, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		c.logger.Warn("using local clock because getBlockTime unavailable", "slot", slot, "err", err)
		return time.Now().Unix()
	}

	return int64(*blockTime)
}
