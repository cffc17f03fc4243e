// spout-admin is the operator CLI: deployment bootstrap, asset registration,
// attestation issuance, oracle pushes, issuer token operations, and order
// settlement against a deployed program.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	_ "github.com/joho/godotenv/autoload"

	"github.com/spoutfi/rwa/backend/internal/config"
	"github.com/spoutfi/rwa/backend/internal/engine"
	"github.com/spoutfi/rwa/backend/internal/logging"
	"github.com/spoutfi/rwa/backend/internal/pricing"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

const usage = `Usage: spout-admin <command> [flags]

Deployment:
  initialize              create the config account
  create-asset            register a token mint in the asset registry
  init-price-feed         create the oracle price feed account

Attestations:
  create-schema           register an attestation schema
  create-credential       issue a credential to a holder
  verify-kyc              run the attestation check for a holder

Oracle:
  update-price            push a price to the on-chain feed

Issuer token operations:
  mint                    mint asset units to a verified holder
  burn                    burn asset units from a verified holder
  force-transfer          move units between accounts (recovery path)
  permissioned-transfer   transfer with both sides verified

Orders:
  buy                     settle a USDC-denominated purchase
  sell                    settle an asset-denominated sale
  order-events            print the on-chain order event log

Run 'spout-admin <command> -h' for command flags.
`

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.LoadAdminConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("spout-admin", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, args, cfg, logger); err != nil {
		logger.Error("command failed", "command", command, "err", err)
		os.Exit(1)
	}
}

type cli struct {
	cfg    config.AdminConfig
	chain  engine.Chain
	signer solana.PrivateKey
	logger *slog.Logger
}

func (c *cli) admin() *engine.Admin {
	return engine.NewAdmin(c.cfg.ProgramID, c.cfg.SASProgramID, c.chain, c.signer, c.logger)
}

func (c *cli) engine() *engine.Engine {
	verifier := c.admin().Verifier()
	resolver := pricing.NewResolver(pricing.Options{
		MaxAge:           c.cfg.PriceMaxAge,
		MaxConfidenceBps: c.cfg.PriceMaxConfidenceBps,
	})
	return engine.New(c.cfg.ProgramID, c.cfg.USDCMint, c.chain, verifier, resolver, c.logger)
}

func run(ctx context.Context, command string, args []string, cfg config.AdminConfig, logger *slog.Logger) error {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.AuthorityKeypairPath)
	if err != nil {
		return fmt.Errorf("load keypair %q: %w", cfg.AuthorityKeypairPath, err)
	}

	c := &cli{
		cfg: cfg,
		chain: engine.NewRPCChain(engine.ChainConfig{
			RPCURL:                        cfg.RPCURL,
			Commitment:                    cfg.Commitment,
			TxTimeout:                     cfg.TxTimeout,
			SkipPreflight:                 cfg.SkipPreflight,
			MaxRetries:                    cfg.MaxRetries,
			ComputeUnitLimit:              cfg.ComputeUnitLimit,
			ComputeUnitPriceMicroLamports: cfg.ComputeUnitPriceMicroLamports,
		}, logger),
		signer: signer,
		logger: logger,
	}

	switch command {
	case "initialize":
		return c.runInitialize(ctx, args)
	case "create-asset":
		return c.runCreateAsset(ctx, args)
	case "init-price-feed":
		return c.runInitPriceFeed(ctx, args)
	case "create-schema":
		return c.runCreateSchema(ctx, args)
	case "create-credential":
		return c.runCreateCredential(ctx, args)
	case "verify-kyc":
		return c.runVerifyKyc(ctx, args)
	case "update-price":
		return c.runUpdatePrice(ctx, args)
	case "mint":
		return c.runMint(ctx, args)
	case "burn":
		return c.runBurn(ctx, args)
	case "force-transfer":
		return c.runForceTransfer(ctx, args)
	case "permissioned-transfer":
		return c.runPermissionedTransfer(ctx, args)
	case "buy":
		return c.runOrder(ctx, args, spout.OrderSideBuy)
	case "sell":
		return c.runOrder(ctx, args, spout.OrderSideSell)
	case "order-events":
		return c.runOrderEvents(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) runInitialize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("initialize", flag.ExitOnError)
	authorityFlag := fs.String("authority", "", "config authority (default: signer)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	authority := c.signer.PublicKey()
	if *authorityFlag != "" {
		parsed, err := solana.PublicKeyFromBase58(*authorityFlag)
		if err != nil {
			return fmt.Errorf("invalid -authority: %w", err)
		}
		authority = parsed
	}

	sig, err := c.admin().Initialize(ctx, authority)
	if err != nil {
		return err
	}
	fmt.Printf("initialized: authority=%s signature=%s\n", authority, sig)
	return nil
}

func (c *cli) runCreateAsset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-asset", flag.ExitOnError)
	mintFlag := fs.String("mint", "", "token mint address (required)")
	nameFlag := fs.String("name", "", "asset name (required)")
	symbolFlag := fs.String("symbol", "", "asset symbol (required)")
	supplyFlag := fs.Uint64("total-supply", 0, "initial total supply in base units")
	kycFlag := fs.Bool("kyc-required", true, "gate transfers on attestations")
	schemaFlag := fs.String("schema-id", "", "required attestation schema id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}

	sig, err := c.admin().CreateAsset(ctx, engine.CreateAssetParams{
		Mint:        mint,
		Name:        *nameFlag,
		Symbol:      *symbolFlag,
		TotalSupply: *supplyFlag,
		KycRequired: *kycFlag,
		KycSchemaID: *schemaFlag,
	})
	if err != nil {
		return err
	}
	fmt.Printf("asset created: mint=%s signature=%s\n", mint, sig)
	return nil
}

func (c *cli) runInitPriceFeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init-price-feed", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	sig, err := c.admin().InitializePriceFeed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("price feed initialized: signature=%s\n", sig)
	return nil
}

func (c *cli) runCreateSchema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-schema", flag.ExitOnError)
	schemaFlag := fs.String("schema-id", "", "schema id (required)")
	fieldsFlag := fs.String("fields", "kyc_completed:1:required", "comma-separated name:type:required|optional declarations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schemaFlag == "" {
		return fmt.Errorf("-schema-id is required")
	}

	fields, err := parseSchemaFields(*fieldsFlag)
	if err != nil {
		return err
	}

	sig, err := c.admin().CreateSchema(ctx, *schemaFlag, fields)
	if err != nil {
		return err
	}
	fmt.Printf("schema created: id=%s signature=%s\n", *schemaFlag, sig)
	return nil
}

func (c *cli) runCreateCredential(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-credential", flag.ExitOnError)
	holderFlag := fs.String("holder", "", "credential holder (required)")
	schemaFlag := fs.String("schema-id", "", "schema id (required)")
	expiresFlag := fs.Int64("expires-at", 0, "unix expiry, 0 for none")
	dataFlag := fs.String("data", "", "opaque credential payload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	holder, err := requirePubkey(*holderFlag, "holder")
	if err != nil {
		return err
	}
	if *schemaFlag == "" {
		return fmt.Errorf("-schema-id is required")
	}

	params := engine.CreateCredentialParams{
		Holder:         holder,
		SchemaID:       *schemaFlag,
		CredentialData: []byte(*dataFlag),
	}
	if *expiresFlag > 0 {
		params.ExpiresAt = expiresFlag
	}

	sig, err := c.admin().CreateCredential(ctx, params)
	if err != nil {
		return err
	}
	fmt.Printf("credential created: holder=%s schema=%s signature=%s\n", holder, *schemaFlag, sig)
	return nil
}

func (c *cli) runVerifyKyc(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify-kyc", flag.ExitOnError)
	holderFlag := fs.String("holder", "", "holder to verify (required)")
	mintFlag := fs.String("mint", "", "asset mint (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	holder, err := requirePubkey(*holderFlag, "holder")
	if err != nil {
		return err
	}
	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}

	sig, err := c.admin().VerifyKyc(ctx, holder, mint)
	if err != nil {
		return err
	}
	fmt.Printf("kyc verified: holder=%s signature=%s\n", holder, sig)
	return nil
}

func (c *cli) runUpdatePrice(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update-price", flag.ExitOnError)
	priceFlag := fs.Uint64("price", 0, "price mantissa (required)")
	confFlag := fs.Uint64("confidence", 0, "confidence mantissa")
	expoFlag := fs.Int("expo", 0, "decimal exponent of the mantissas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *priceFlag == 0 {
		return fmt.Errorf("-price is required and must be > 0")
	}

	sig, err := c.admin().UpdatePrice(ctx, *priceFlag, *confFlag, int32(*expoFlag))
	if err != nil {
		return err
	}
	fmt.Printf("price updated: price=%d expo=%d signature=%s\n", *priceFlag, *expoFlag, sig)
	return nil
}

func (c *cli) runMint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	mintFlag := fs.String("mint", "", "asset mint (required)")
	recipientFlag := fs.String("recipient", "", "recipient wallet (required)")
	amountFlag := fs.Uint64("amount", 0, "base units to mint (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}
	recipient, err := requirePubkey(*recipientFlag, "recipient")
	if err != nil {
		return err
	}
	if *amountFlag == 0 {
		return fmt.Errorf("-amount is required and must be > 0")
	}

	sig, err := c.admin().MintToKycUser(ctx, mint, recipient, *amountFlag)
	if err != nil {
		return err
	}
	fmt.Printf("minted: recipient=%s amount=%d signature=%s\n", recipient, *amountFlag, sig)
	return nil
}

func (c *cli) runBurn(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("burn", flag.ExitOnError)
	mintFlag := fs.String("mint", "", "asset mint (required)")
	ownerFlag := fs.String("owner", "", "wallet to burn from (required)")
	amountFlag := fs.Uint64("amount", 0, "base units to burn (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}
	owner, err := requirePubkey(*ownerFlag, "owner")
	if err != nil {
		return err
	}
	if *amountFlag == 0 {
		return fmt.Errorf("-amount is required and must be > 0")
	}

	sig, err := c.admin().BurnFromKycUser(ctx, mint, owner, *amountFlag)
	if err != nil {
		return err
	}
	fmt.Printf("burned: owner=%s amount=%d signature=%s\n", owner, *amountFlag, sig)
	return nil
}

func (c *cli) runForceTransfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("force-transfer", flag.ExitOnError)
	mintFlag := fs.String("mint", "", "asset mint (required)")
	fromFlag := fs.String("from", "", "source wallet (required)")
	toFlag := fs.String("to", "", "destination wallet (required)")
	amountFlag := fs.Uint64("amount", 0, "base units to move (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}
	from, err := requirePubkey(*fromFlag, "from")
	if err != nil {
		return err
	}
	to, err := requirePubkey(*toFlag, "to")
	if err != nil {
		return err
	}
	if *amountFlag == 0 {
		return fmt.Errorf("-amount is required and must be > 0")
	}

	sig, err := c.admin().ForceTransfer(ctx, mint, from, to, *amountFlag)
	if err != nil {
		return err
	}
	fmt.Printf("force transferred: from=%s to=%s amount=%d signature=%s\n", from, to, *amountFlag, sig)
	return nil
}

func (c *cli) runPermissionedTransfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("permissioned-transfer", flag.ExitOnError)
	mintFlag := fs.String("mint", "", "asset mint (required)")
	senderFlag := fs.String("sender-keypair", "", "sender keypair file (required)")
	toFlag := fs.String("to", "", "destination wallet (required)")
	amountFlag := fs.Uint64("amount", 0, "base units to move (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}
	to, err := requirePubkey(*toFlag, "to")
	if err != nil {
		return err
	}
	if *senderFlag == "" {
		return fmt.Errorf("-sender-keypair is required")
	}
	sender, err := solana.PrivateKeyFromSolanaKeygenFile(*senderFlag)
	if err != nil {
		return fmt.Errorf("load keypair %q: %w", *senderFlag, err)
	}
	if *amountFlag == 0 {
		return fmt.Errorf("-amount is required and must be > 0")
	}

	sig, err := c.admin().PermissionedTransfer(ctx, mint, sender, to, *amountFlag)
	if err != nil {
		return err
	}
	fmt.Printf("transferred: from=%s to=%s amount=%d signature=%s\n", sender.PublicKey(), to, *amountFlag, sig)
	return nil
}

func (c *cli) runOrder(ctx context.Context, args []string, side spout.OrderSide) error {
	fs := flag.NewFlagSet(side.String(), flag.ExitOnError)
	mintFlag := fs.String("mint", "", "asset mint (required)")
	tickerFlag := fs.String("ticker", "", "asset ticker (required)")
	amountFlag := fs.Uint64("amount", 0, "USDC base units for buys, asset base units for sells (required)")
	userFlag := fs.String("user-keypair", "", "ordering user keypair file (default: admin signer)")
	manualPriceFlag := fs.Uint64("manual-price", 0, "settle at this 6-decimal price instead of the feed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mint, err := requirePubkey(*mintFlag, "mint")
	if err != nil {
		return err
	}
	if *tickerFlag == "" {
		return fmt.Errorf("-ticker is required")
	}
	if *amountFlag == 0 {
		return fmt.Errorf("-amount is required and must be > 0")
	}

	user := c.signer
	if *userFlag != "" {
		user, err = solana.PrivateKeyFromSolanaKeygenFile(*userFlag)
		if err != nil {
			return fmt.Errorf("load keypair %q: %w", *userFlag, err)
		}
	}

	req := engine.OrderRequest{
		User:        user,
		Mint:        mint,
		Ticker:      *tickerFlag,
		Amount:      *amountFlag,
		ManualPrice: *manualPriceFlag,
	}

	var receipt *engine.OrderReceipt
	if side == spout.OrderSideBuy {
		receipt, err = c.engine().Buy(ctx, req)
	} else {
		receipt, err = c.engine().Sell(ctx, req)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s settled: ticker=%s usdc=%d asset=%d price=%d signature=%s\n",
		side, receipt.Ticker, receipt.UsdcAmount, receipt.AssetAmount, receipt.Quote.Price, receipt.Signature)
	return nil
}

func (c *cli) runOrderEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("order-events", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	eventsKey, _, err := spout.DeriveOrderEventsPDA(c.cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("derive order events PDA: %w", err)
	}
	account, err := c.chain.FetchAccount(ctx, eventsKey)
	if err != nil {
		return err
	}
	if len(account.Data) == 0 {
		return fmt.Errorf("order events account %s not initialized", eventsKey)
	}
	events, err := spout.ParseOrderEventsAccount(account.Data)
	if err != nil {
		return fmt.Errorf("decode order events %s: %w", eventsKey, err)
	}

	fmt.Printf("order events at %s: buys=%d sells=%d\n",
		eventsKey, len(events.BuyOrderEvents), len(events.SellOrderEvents))
	printOrderLog(events.BuyOrderEvents)
	printOrderLog(events.SellOrderEvents)
	return nil
}

func printOrderLog(orders []spout.Order) {
	for _, order := range orders {
		fmt.Printf("  %-4s %-10s user=%s usdc=%d asset=%d price=%d status=%s created=%d\n",
			order.Side, order.Ticker, order.User, order.UsdcAmount,
			order.AssetAmount, order.Price, order.Status, order.CreatedAt)
	}
}

// parseSchemaFields reads "name:type:required|optional" declarations. Type is
// the attestation program's field-type discriminant.
func parseSchemaFields(raw string) ([]spout.SchemaField, error) {
	var out []spout.SchemaField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments := strings.Split(part, ":")
		if len(segments) != 3 {
			return nil, fmt.Errorf("invalid field declaration %q (want name:type:required|optional)", part)
		}
		fieldType, err := strconv.ParseUint(strings.TrimSpace(segments[1]), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid field type in %q: %w", part, err)
		}
		var required bool
		switch strings.ToLower(strings.TrimSpace(segments[2])) {
		case "required":
			required = true
		case "optional":
			required = false
		default:
			return nil, fmt.Errorf("invalid field declaration %q (want name:type:required|optional)", part)
		}
		out = append(out, spout.SchemaField{
			Name:      strings.TrimSpace(segments[0]),
			FieldType: uint8(fieldType),
			Required:  required,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one schema field is required")
	}
	return out, nil
}

func requirePubkey(raw string, name string) (solana.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("-%s is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return pk, nil
}
