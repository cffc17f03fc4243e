package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/pricing"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

var (
	ErrAssetNotFound     = errors.New("asset account not found")
	ErrPriceFeedNotFound = errors.New("price feed account not found")
	ErrKycRequired       = errors.New("asset requires kyc but carries no schema id")
)

// Engine settles orders for one deployed program and one USDC mint.
type Engine struct {
	programID solana.PublicKey
	usdcMint  solana.PublicKey
	chain     Chain
	verifier  *kyc.Verifier
	resolver  *pricing.Resolver
	logger    *slog.Logger
}

func New(programID, usdcMint solana.PublicKey, chain Chain, verifier *kyc.Verifier, resolver *pricing.Resolver, logger *slog.Logger) *Engine {
	return &Engine{
		programID: programID,
		usdcMint:  usdcMint,
		chain:     chain,
		verifier:  verifier,
		resolver:  resolver,
		logger:    logger,
	}
}

// OrderRequest describes one buy or sell to settle. Amount is USDC base units
// for buys and asset base units for sells, both with 6 decimals. A non-zero
// ManualPrice bypasses the on-chain feed and settles at that price.
type OrderRequest struct {
	User        solana.PrivateKey
	Mint        solana.PublicKey
	Ticker      string
	Amount      uint64
	ManualPrice uint64
}

// OrderReceipt reports a confirmed settlement. Both amount legs are filled in
// regardless of side.
type OrderReceipt struct {
	Signature   solana.Signature
	Side        spout.OrderSide
	Ticker      string
	UsdcAmount  uint64
	AssetAmount uint64
	Quote       pricing.Quote
}

// Buy settles a USDC-denominated purchase: verify the buyer, resolve the
// price, compute the asset units, submit buy_asset (or the manual variant).
func (e *Engine) Buy(ctx context.Context, req OrderRequest) (*OrderReceipt, error) {
	return e.settle(ctx, req, spout.OrderSideBuy)
}

// Sell settles an asset-denominated sale into USDC.
func (e *Engine) Sell(ctx context.Context, req OrderRequest) (*OrderReceipt, error) {
	return e.settle(ctx, req, spout.OrderSideSell)
}

func (e *Engine) settle(ctx context.Context, req OrderRequest, side spout.OrderSide) (*OrderReceipt, error) {
	if req.Amount == 0 {
		return nil, ErrZeroAmount
	}

	asset, err := e.fetchAsset(ctx, req.Mint)
	if err != nil {
		return nil, err
	}

	user := req.User.PublicKey()
	kycAccounts, err := e.verifyHolder(ctx, user, asset)
	if err != nil {
		return nil, err
	}

	quote, err := e.resolvePrice(ctx, req.ManualPrice)
	if err != nil {
		return nil, err
	}

	var usdcAmount, assetAmount uint64
	switch side {
	case spout.OrderSideBuy:
		usdcAmount = req.Amount
		assetAmount, err = ComputeBuyAssetAmount(usdcAmount, quote.Price)
	case spout.OrderSideSell:
		assetAmount = req.Amount
		usdcAmount, err = ComputeSellUsdcAmount(assetAmount, quote.Price)
	default:
		return nil, fmt.Errorf("unknown order side %d", side)
	}
	if err != nil {
		return nil, err
	}

	accounts, err := e.orderAccounts(ctx, user)
	if err != nil {
		return nil, err
	}

	var ix solana.Instruction
	switch {
	case side == spout.OrderSideBuy && req.ManualPrice == 0:
		ix, err = spout.NewBuyAssetInstruction(e.programID, req.Ticker, req.Amount, accounts, kycAccounts)
	case side == spout.OrderSideBuy:
		ix, err = spout.NewBuyAssetManualInstruction(e.programID, req.Ticker, req.Amount, req.ManualPrice, accounts, kycAccounts)
	case req.ManualPrice == 0:
		ix, err = spout.NewSellAssetInstruction(e.programID, req.Ticker, req.Amount, accounts, kycAccounts)
	default:
		ix, err = spout.NewSellAssetManualInstruction(e.programID, req.Ticker, req.Amount, req.ManualPrice, accounts, kycAccounts)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s instruction: %w", side, err)
	}

	signature, err := e.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, req.User)
	if err != nil {
		return nil, err
	}

	e.logger.Info("order settled",
		"side", side.String(),
		"ticker", req.Ticker,
		"user", user,
		"usdc_amount", usdcAmount,
		"asset_amount", assetAmount,
		"price", quote.Price,
		"signature", signature,
	)

	return &OrderReceipt{
		Signature:   signature,
		Side:        side,
		Ticker:      req.Ticker,
		UsdcAmount:  usdcAmount,
		AssetAmount: assetAmount,
		Quote:       quote,
	}, nil
}

func (e *Engine) fetchAsset(ctx context.Context, mint solana.PublicKey) (*spout.Asset, error) {
	assetKey, _, err := spout.DeriveAssetPDA(e.programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive asset PDA: %w", err)
	}
	account, err := e.chain.FetchAccount(ctx, assetKey)
	if err != nil {
		return nil, err
	}
	if len(account.Data) == 0 {
		return nil, fmt.Errorf("%w: %s (mint %s)", ErrAssetNotFound, assetKey, mint)
	}
	asset, err := spout.ParseAsset(account.Data)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", assetKey, err)
	}
	return asset, nil
}

// verifyHolder runs the attestation check when the asset demands it and
// returns the record addresses for the settlement instruction.
func (e *Engine) verifyHolder(ctx context.Context, holder solana.PublicKey, asset *spout.Asset) (spout.KycAccounts, error) {
	if !asset.KycRequired {
		return spout.KycAccounts{SasProgram: e.verifier.Program()}, nil
	}
	if asset.KycSchemaID == nil || *asset.KycSchemaID == "" {
		return spout.KycAccounts{}, ErrKycRequired
	}
	schemaID := *asset.KycSchemaID

	records, err := FetchKycAccounts(ctx, e.chain, e.verifier.Program(), holder, schemaID)
	if err != nil {
		return spout.KycAccounts{}, err
	}

	_, err = e.verifier.Verify(kyc.Request{
		Holder:           holder,
		RequiredSchemaID: schemaID,
		Attestation:      records.Attestation,
		Credential:       records.Credential,
		Schema:           records.Schema,
		Now:              e.chain.Now(ctx),
	})
	if err != nil {
		return spout.KycAccounts{}, err
	}
	return records.Keys, nil
}

func (e *Engine) resolvePrice(ctx context.Context, manualPrice uint64) (pricing.Quote, error) {
	if manualPrice != 0 {
		return e.resolver.ResolveManual(manualPrice)
	}

	feedKey, _, err := spout.DerivePriceFeedPDA(e.programID)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("derive price feed PDA: %w", err)
	}
	account, err := e.chain.FetchAccount(ctx, feedKey)
	if err != nil {
		return pricing.Quote{}, err
	}
	if len(account.Data) == 0 {
		return pricing.Quote{}, fmt.Errorf("%w: %s", ErrPriceFeedNotFound, feedKey)
	}
	feed, err := spout.ParsePriceFeed(account.Data)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("decode price feed %s: %w", feedKey, err)
	}
	return e.resolver.ResolveFeed(feed)
}

func (e *Engine) orderAccounts(ctx context.Context, user solana.PublicKey) (spout.OrderAccounts, error) {
	userUsdc, _, err := solana.FindAssociatedTokenAddress(user, e.usdcMint)
	if err != nil {
		return spout.OrderAccounts{}, fmt.Errorf("derive user usdc account: %w", err)
	}
	ordersAuthority, _, err := spout.DeriveOrdersAuthorityPDA(e.programID)
	if err != nil {
		return spout.OrderAccounts{}, fmt.Errorf("derive orders authority PDA: %w", err)
	}
	orderUsdc, _, err := solana.FindAssociatedTokenAddress(ordersAuthority, e.usdcMint)
	if err != nil {
		return spout.OrderAccounts{}, fmt.Errorf("derive order usdc account: %w", err)
	}
	return spout.OrderAccounts{
		User:             user,
		UserUsdcAccount:  userUsdc,
		OrderUsdcAccount: orderUsdc,
	}, nil
}
