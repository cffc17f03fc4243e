package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/spoutfi/rwa/backend/internal/kyc"
	"github.com/spoutfi/rwa/backend/internal/sas"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

var (
	ErrNameTooLong      = fmt.Errorf("asset name exceeds %d bytes", spout.MaxNameLen)
	ErrSymbolTooLong    = fmt.Errorf("asset symbol exceeds %d bytes", spout.MaxSymbolLen)
	ErrSchemaIDTooLong  = fmt.Errorf("schema id exceeds %d bytes", spout.MaxKycSchemaIDLen)
	ErrSchemaIDRequired = errors.New("kyc-gated asset requires a schema id")
	ErrNotAuthority     = errors.New("signer is not the registry authority")
	ErrConfigNotFound   = errors.New("config account not found")
	ErrAlreadyExists    = errors.New("account already initialized")
	ErrEmptyName        = errors.New("asset name is empty")
	ErrEmptySymbol      = errors.New("asset symbol is empty")
)

// Admin performs the authority-gated registry and token-control operations.
// Every value-moving operation re-verifies the counterparty's attestation
// off-chain before submitting; the program enforces the same checks on-chain.
type Admin struct {
	programID  solana.PublicKey
	sasProgram solana.PublicKey
	chain      Chain
	signer     solana.PrivateKey
	verifier   *kyc.Verifier
	logger     *slog.Logger
}

func NewAdmin(programID, sasProgram solana.PublicKey, chain Chain, signer solana.PrivateKey, logger *slog.Logger) *Admin {
	return &Admin{
		programID:  programID,
		sasProgram: sasProgram,
		chain:      chain,
		signer:     signer,
		verifier:   kyc.NewVerifier(sasProgram),
		logger:     logger,
	}
}

// Verifier exposes the attestation verifier bound to this deployment.
func (a *Admin) Verifier() *kyc.Verifier {
	return a.verifier
}

// Initialize creates the singleton config record. Fails if it already exists.
func (a *Admin) Initialize(ctx context.Context, authority solana.PublicKey) (solana.Signature, error) {
	configKey, _, err := spout.DeriveConfigPDA(a.programID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive config PDA: %w", err)
	}
	existing, err := a.chain.FetchAccount(ctx, configKey)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(existing.Data) > 0 {
		return solana.Signature{}, fmt.Errorf("%w: config %s", ErrAlreadyExists, configKey)
	}

	ix, err := spout.NewInitializeInstruction(a.programID, spout.InitializeArgs{
		Authority:  authority,
		SasProgram: a.sasProgram,
	}, a.signer.PublicKey(), authority)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build initialize instruction: %w", err)
	}

	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("config initialized", "authority", authority, "sas_program", a.sasProgram, "signature", sig)
	return sig, nil
}

// CreateAssetParams describes a new asset listing.
type CreateAssetParams struct {
	Mint        solana.PublicKey
	Name        string
	Symbol      string
	TotalSupply uint64
	KycRequired bool
	KycSchemaID string
}

// CreateAsset registers a mint in the asset registry. Lengths are validated
// here with the program's own limits so a bad listing fails before submission.
func (a *Admin) CreateAsset(ctx context.Context, params CreateAssetParams) (solana.Signature, error) {
	if params.Name == "" {
		return solana.Signature{}, ErrEmptyName
	}
	if len(params.Name) > spout.MaxNameLen {
		return solana.Signature{}, ErrNameTooLong
	}
	if params.Symbol == "" {
		return solana.Signature{}, ErrEmptySymbol
	}
	if len(params.Symbol) > spout.MaxSymbolLen {
		return solana.Signature{}, ErrSymbolTooLong
	}
	if len(params.KycSchemaID) > spout.MaxKycSchemaIDLen {
		return solana.Signature{}, ErrSchemaIDTooLong
	}
	if params.KycRequired && params.KycSchemaID == "" {
		return solana.Signature{}, ErrSchemaIDRequired
	}

	if err := a.requireAuthority(ctx); err != nil {
		return solana.Signature{}, err
	}

	args := spout.CreateAssetArgs{
		Name:        params.Name,
		Symbol:      params.Symbol,
		TotalSupply: params.TotalSupply,
		KycRequired: params.KycRequired,
	}
	if params.KycSchemaID != "" {
		schemaID := params.KycSchemaID
		args.KycSchemaID = &schemaID
	}

	ix, err := spout.NewCreateAssetInstruction(a.programID, args, params.Mint, a.signer.PublicKey(), a.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build create_asset instruction: %w", err)
	}

	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("asset created",
		"mint", params.Mint,
		"symbol", params.Symbol,
		"kyc_required", params.KycRequired,
		"signature", sig,
	)
	return sig, nil
}

// CreateSchema registers an attestation schema under the issuer.
func (a *Admin) CreateSchema(ctx context.Context, schemaID string, fields []spout.SchemaField) (solana.Signature, error) {
	if schemaID == "" || len(schemaID) > spout.MaxKycSchemaIDLen {
		return solana.Signature{}, ErrSchemaIDTooLong
	}
	if err := a.requireAuthority(ctx); err != nil {
		return solana.Signature{}, err
	}

	schemaKey, _, err := sas.DeriveSchemaPDA(a.sasProgram, schemaID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive schema address: %w", err)
	}

	ix, err := spout.NewCreateSchemaInstruction(a.programID, spout.CreateSchemaArgs{
		SchemaID: schemaID,
		Fields:   fields,
	}, schemaKey, a.signer.PublicKey(), a.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build create_schema instruction: %w", err)
	}

	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("schema created", "schema_id", schemaID, "schema", schemaKey, "signature", sig)
	return sig, nil
}

// CreateCredentialParams issues a credential binding a holder to a schema.
type CreateCredentialParams struct {
	Holder         solana.PublicKey
	SchemaID       string
	ExpiresAt      *int64
	CredentialData []byte
}

func (a *Admin) CreateCredential(ctx context.Context, params CreateCredentialParams) (solana.Signature, error) {
	if params.SchemaID == "" || len(params.SchemaID) > spout.MaxKycSchemaIDLen {
		return solana.Signature{}, ErrSchemaIDTooLong
	}
	if err := a.requireAuthority(ctx); err != nil {
		return solana.Signature{}, err
	}

	schemaKey, _, err := sas.DeriveSchemaPDA(a.sasProgram, params.SchemaID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive schema address: %w", err)
	}
	credentialKey, _, err := sas.DeriveCredentialPDA(a.sasProgram, params.Holder, params.SchemaID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive credential address: %w", err)
	}

	ix, err := spout.NewCreateCredentialInstruction(a.programID, spout.CreateCredentialArgs{
		Holder:         params.Holder,
		SchemaID:       params.SchemaID,
		ExpiresAt:      params.ExpiresAt,
		CredentialData: params.CredentialData,
	}, schemaKey, credentialKey, a.signer.PublicKey(), a.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build create_credential instruction: %w", err)
	}

	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("credential created",
		"holder", params.Holder,
		"schema_id", params.SchemaID,
		"credential", credentialKey,
		"signature", sig,
	)
	return sig, nil
}

// VerifyKyc runs the attestation check both off-chain and as an on-chain
// instruction against an asset's required schema.
func (a *Admin) VerifyKyc(ctx context.Context, holder solana.PublicKey, mint solana.PublicKey) (solana.Signature, error) {
	asset, err := a.fetchAsset(ctx, mint)
	if err != nil {
		return solana.Signature{}, err
	}
	if asset.KycSchemaID == nil || *asset.KycSchemaID == "" {
		return solana.Signature{}, ErrSchemaIDRequired
	}
	schemaID := *asset.KycSchemaID

	kycAccounts, err := a.verifyHolder(ctx, holder, schemaID)
	if err != nil {
		return solana.Signature{}, err
	}

	ix, err := spout.NewVerifyKycInstruction(a.programID, spout.VerifyKycArgs{
		Holder:   holder,
		SchemaID: schemaID,
	}, mint, kycAccounts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build verify_kyc instruction: %w", err)
	}

	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("kyc verified on-chain", "holder", holder, "schema_id", schemaID, "signature", sig)
	return sig, nil
}

// InitializePriceFeed creates the singleton feed record.
func (a *Admin) InitializePriceFeed(ctx context.Context) (solana.Signature, error) {
	feedKey, _, err := spout.DerivePriceFeedPDA(a.programID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive price feed PDA: %w", err)
	}
	existing, err := a.chain.FetchAccount(ctx, feedKey)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(existing.Data) > 0 {
		return solana.Signature{}, fmt.Errorf("%w: price feed %s", ErrAlreadyExists, feedKey)
	}

	ix, err := spout.NewInitializePriceFeedInstruction(a.programID, a.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build initialize_price_feed instruction: %w", err)
	}
	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("price feed initialized", "feed", feedKey, "signature", sig)
	return sig, nil
}

// UpdatePrice pushes a raw oracle observation into the feed record. The
// mantissa and exponent are forwarded verbatim; normalization happens at read
// time.
func (a *Admin) UpdatePrice(ctx context.Context, price uint64, confidence uint64, expo int32) (solana.Signature, error) {
	if err := a.requireAuthority(ctx); err != nil {
		return solana.Signature{}, err
	}
	ix, err := spout.NewUpdatePriceInstruction(a.programID, price, confidence, expo, a.signer.PublicKey())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build update_price instruction: %w", err)
	}
	return a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
}

// MintToKycUser mints asset units to a verified holder's token account.
func (a *Admin) MintToKycUser(ctx context.Context, mint solana.PublicKey, recipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, ErrZeroAmount
	}
	asset, err := a.fetchAsset(ctx, mint)
	if err != nil {
		return solana.Signature{}, err
	}
	kycAccounts, err := a.verifyGatedHolder(ctx, recipient, asset)
	if err != nil {
		return solana.Signature{}, err
	}

	auth, recipientTokenAccount, err := a.tokenAccounts(mint, recipient)
	if err != nil {
		return solana.Signature{}, err
	}

	ix, err := spout.NewMintToKycUserInstruction(a.programID, recipient, amount, a.signer.PublicKey(), auth, recipientTokenAccount, kycAccounts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build mint_to_kyc_user instruction: %w", err)
	}
	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("minted to holder", "mint", mint, "recipient", recipient, "amount", amount, "signature", sig)
	return sig, nil
}

// BurnFromKycUser burns asset units from a holder's token account under the
// issuer's authority.
func (a *Admin) BurnFromKycUser(ctx context.Context, mint solana.PublicKey, owner solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, ErrZeroAmount
	}
	asset, err := a.fetchAsset(ctx, mint)
	if err != nil {
		return solana.Signature{}, err
	}
	kycAccounts, err := a.verifyGatedHolder(ctx, owner, asset)
	if err != nil {
		return solana.Signature{}, err
	}

	auth, ownerTokenAccount, err := a.tokenAccounts(mint, owner)
	if err != nil {
		return solana.Signature{}, err
	}

	ix, err := spout.NewBurnFromKycUserInstruction(a.programID, amount, a.signer.PublicKey(), auth, ownerTokenAccount, kycAccounts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build burn_from_kyc_user instruction: %w", err)
	}
	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("burned from holder", "mint", mint, "owner", owner, "amount", amount, "signature", sig)
	return sig, nil
}

// ForceTransfer moves asset units between holders under the issuer's
// authority. The destination holder must pass the attestation check; the
// source is moved regardless, which is the recovery path for lost keys.
func (a *Admin) ForceTransfer(ctx context.Context, mint solana.PublicKey, fromOwner, toRecipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, ErrZeroAmount
	}
	asset, err := a.fetchAsset(ctx, mint)
	if err != nil {
		return solana.Signature{}, err
	}
	kycAccounts, err := a.verifyGatedHolder(ctx, toRecipient, asset)
	if err != nil {
		return solana.Signature{}, err
	}

	auth, fromTokenAccount, err := a.tokenAccounts(mint, fromOwner)
	if err != nil {
		return solana.Signature{}, err
	}
	toTokenAccount, _, err := solana.FindAssociatedTokenAddress(toRecipient, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive recipient token account: %w", err)
	}

	ix, err := spout.NewForceTransferInstruction(a.programID, fromOwner, toRecipient, amount, a.signer.PublicKey(), auth, fromTokenAccount, toTokenAccount, kycAccounts)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build force_transfer instruction: %w", err)
	}
	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, a.signer)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("force transfer",
		"mint", mint,
		"from", fromOwner,
		"to", toRecipient,
		"amount", amount,
		"signature", sig,
	)
	return sig, nil
}

// PermissionedTransfer submits a sender-signed transfer that requires valid
// attestations on both sides.
func (a *Admin) PermissionedTransfer(ctx context.Context, mint solana.PublicKey, sender solana.PrivateKey, toRecipient solana.PublicKey, amount uint64) (solana.Signature, error) {
	if amount == 0 {
		return solana.Signature{}, ErrZeroAmount
	}
	asset, err := a.fetchAsset(ctx, mint)
	if err != nil {
		return solana.Signature{}, err
	}

	senderKey := sender.PublicKey()
	senderKyc, err := a.verifyGatedHolder(ctx, senderKey, asset)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sender: %w", err)
	}
	recipientKyc, err := a.verifyGatedHolder(ctx, toRecipient, asset)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("recipient: %w", err)
	}

	auth, fromTokenAccount, err := a.tokenAccounts(mint, senderKey)
	if err != nil {
		return solana.Signature{}, err
	}
	toTokenAccount, _, err := solana.FindAssociatedTokenAddress(toRecipient, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive recipient token account: %w", err)
	}

	ix, err := spout.NewPermissionedTransferInstruction(
		a.programID, amount, senderKey, toRecipient, auth,
		fromTokenAccount, toTokenAccount,
		senderKyc.Attestation, recipientKyc.Attestation, recipientKyc,
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build permissioned_transfer instruction: %w", err)
	}
	sig, err := a.chain.SendAndConfirm(ctx, []solana.Instruction{ix}, sender)
	if err != nil {
		return solana.Signature{}, err
	}
	a.logger.Info("permissioned transfer",
		"mint", mint,
		"from", senderKey,
		"to", toRecipient,
		"amount", amount,
		"signature", sig,
	)
	return sig, nil
}

func (a *Admin) requireAuthority(ctx context.Context) error {
	configKey, _, err := spout.DeriveConfigPDA(a.programID)
	if err != nil {
		return fmt.Errorf("derive config PDA: %w", err)
	}
	account, err := a.chain.FetchAccount(ctx, configKey)
	if err != nil {
		return err
	}
	if len(account.Data) == 0 {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, configKey)
	}
	config, err := spout.ParseConfig(account.Data)
	if err != nil {
		return fmt.Errorf("decode config %s: %w", configKey, err)
	}
	if !config.Authority.Equals(a.signer.PublicKey()) {
		return fmt.Errorf("%w: config authority is %s", ErrNotAuthority, config.Authority)
	}
	return nil
}

func (a *Admin) fetchAsset(ctx context.Context, mint solana.PublicKey) (*spout.Asset, error) {
	assetKey, _, err := spout.DeriveAssetPDA(a.programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive asset PDA: %w", err)
	}
	account, err := a.chain.FetchAccount(ctx, assetKey)
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

// verifyGatedHolder verifies the holder when the asset demands it, returning
// the attestation record addresses either way.
func (a *Admin) verifyGatedHolder(ctx context.Context, holder solana.PublicKey, asset *spout.Asset) (spout.KycAccounts, error) {
	if !asset.KycRequired {
		return spout.KycAccounts{SasProgram: a.sasProgram}, nil
	}
	if asset.KycSchemaID == nil || *asset.KycSchemaID == "" {
		return spout.KycAccounts{}, ErrSchemaIDRequired
	}
	return a.verifyHolder(ctx, holder, *asset.KycSchemaID)
}

func (a *Admin) verifyHolder(ctx context.Context, holder solana.PublicKey, schemaID string) (spout.KycAccounts, error) {
	records, err := FetchKycAccounts(ctx, a.chain, a.sasProgram, holder, schemaID)
	if err != nil {
		return spout.KycAccounts{}, err
	}

	_, err = a.verifier.Verify(kyc.Request{
		Holder:           holder,
		RequiredSchemaID: schemaID,
		Attestation:      records.Attestation,
		Credential:       records.Credential,
		Schema:           records.Schema,
		Now:              a.chain.Now(ctx),
	})
	if err != nil {
		return spout.KycAccounts{}, err
	}
	return records.Keys, nil
}

func (a *Admin) tokenAccounts(mint solana.PublicKey, wallet solana.PublicKey) (spout.TokenAuthorityAccounts, solana.PublicKey, error) {
	programAuthority, _, err := spout.DeriveProgramAuthorityPDA(a.programID, mint)
	if err != nil {
		return spout.TokenAuthorityAccounts{}, solana.PublicKey{}, fmt.Errorf("derive program authority PDA: %w", err)
	}
	walletTokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return spout.TokenAuthorityAccounts{}, solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", wallet, err)
	}
	return spout.TokenAuthorityAccounts{
		Mint:             mint,
		ProgramAuthority: programAuthority,
		TokenProgram:     solana.TokenProgramID,
	}, walletTokenAccount, nil
}
