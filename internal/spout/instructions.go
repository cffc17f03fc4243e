package spout

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor instruction discriminators, sha256("global:"+name)[:8].
var (
	ixInitialize          = instructionDiscriminator("initialize")
	ixCreateAsset         = instructionDiscriminator("create_asset")
	ixCreateSchema        = instructionDiscriminator("create_schema")
	ixCreateCredential    = instructionDiscriminator("create_credential")
	ixVerifyKyc           = instructionDiscriminator("verify_kyc")
	ixInitializePriceFeed = instructionDiscriminator("initialize_price_feed")
	ixUpdatePrice         = instructionDiscriminator("update_price")
	ixBuyAsset            = instructionDiscriminator("buy_asset")
	ixBuyAssetManual      = instructionDiscriminator("buy_asset_manual")
	ixSellAsset           = instructionDiscriminator("sell_asset")
	ixSellAssetManual     = instructionDiscriminator("sell_asset_manual")
	ixMintToKycUser       = instructionDiscriminator("mint_to_kyc_user")
	ixBurnFromKycUser     = instructionDiscriminator("burn_from_kyc_user")
	ixForceTransfer       = instructionDiscriminator("force_transfer")
	ixPermissionedXfer    = instructionDiscriminator("permissioned_transfer")
)

func instructionDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

type InitializeArgs struct {
	Authority  solana.PublicKey
	SasProgram solana.PublicKey
}

type CreateAssetArgs struct {
	Name        string
	Symbol      string
	TotalSupply uint64
	KycRequired bool
	KycSchemaID *string `bin:"optional"`
}

// SchemaField mirrors the attestation program's typed field declaration.
type SchemaField struct {
	Name      string
	FieldType uint8
	Required  bool
}

type CreateSchemaArgs struct {
	SchemaID string
	Fields   []SchemaField
}

type CreateCredentialArgs struct {
	Holder         solana.PublicKey
	SchemaID       string
	ExpiresAt      *int64 `bin:"optional"`
	CredentialData []byte
}

type VerifyKycArgs struct {
	Holder   solana.PublicKey
	SchemaID string
}

type updatePriceArgs struct {
	Price      uint64
	Confidence uint64
	Expo       int32
}

type orderArgs struct {
	Ticker string
	Amount uint64
}

type manualOrderArgs struct {
	Ticker      string
	Amount      uint64
	ManualPrice uint64
}

type mintArgs struct {
	Recipient solana.PublicKey
	Amount    uint64
}

type amountArgs struct {
	Amount uint64
}

type forceTransferArgs struct {
	FromOwner   solana.PublicKey
	ToRecipient solana.PublicKey
	Amount      uint64
}

func buildInstruction(programID solana.PublicKey, disc [8]byte, args any, accounts solana.AccountMetaSlice) (solana.Instruction, error) {
	var buf bytes.Buffer
	buf.Write(disc[:])
	if args != nil {
		if err := bin.NewBorshEncoder(&buf).Encode(args); err != nil {
			return nil, fmt.Errorf("encode instruction args: %w", err)
		}
	}
	return solana.NewInstruction(programID, accounts, buf.Bytes()), nil
}

func NewInitializeInstruction(programID solana.PublicKey, args InitializeArgs, payer solana.PublicKey, authority solana.PublicKey) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixInitialize, args, solana.AccountMetaSlice{
		solana.NewAccountMeta(configKey, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func NewCreateAssetInstruction(programID solana.PublicKey, args CreateAssetArgs, mint solana.PublicKey, authority solana.PublicKey, payer solana.PublicKey) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	assetKey, _, err := DeriveAssetPDA(programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive asset PDA: %w", err)
	}
	return buildInstruction(programID, ixCreateAsset, args, solana.AccountMetaSlice{
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(assetKey, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func NewCreateSchemaInstruction(programID solana.PublicKey, args CreateSchemaArgs, schema solana.PublicKey, issuer solana.PublicKey, payer solana.PublicKey) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixCreateSchema, args, solana.AccountMetaSlice{
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(issuer, false, true),
		solana.NewAccountMeta(schema, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func NewCreateCredentialInstruction(programID solana.PublicKey, args CreateCredentialArgs, schema solana.PublicKey, credential solana.PublicKey, issuer solana.PublicKey, payer solana.PublicKey) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixCreateCredential, args, solana.AccountMetaSlice{
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(args.Holder, false, false),
		solana.NewAccountMeta(issuer, false, true),
		solana.NewAccountMeta(schema, false, false),
		solana.NewAccountMeta(credential, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

// KycAccounts carries the three attestation-service record addresses plus the
// attestation program itself, in the order the program expects them.
type KycAccounts struct {
	SasProgram  solana.PublicKey
	Attestation solana.PublicKey
	Credential  solana.PublicKey
	Schema      solana.PublicKey
}

func (k KycAccounts) metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(k.Attestation, false, false),
		solana.NewAccountMeta(k.Credential, false, false),
		solana.NewAccountMeta(k.Schema, false, false),
		solana.NewAccountMeta(k.SasProgram, false, false),
	}
}

func NewVerifyKycInstruction(programID solana.PublicKey, args VerifyKycArgs, mint solana.PublicKey, kyc KycAccounts) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	assetKey, _, err := DeriveAssetPDA(programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive asset PDA: %w", err)
	}
	return buildInstruction(programID, ixVerifyKyc, args, solana.AccountMetaSlice{
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(assetKey, false, false),
		solana.NewAccountMeta(args.Holder, false, false),
		solana.NewAccountMeta(kyc.SasProgram, false, false),
		solana.NewAccountMeta(kyc.Credential, false, false),
		solana.NewAccountMeta(kyc.Schema, false, false),
	})
}

func NewInitializePriceFeedInstruction(programID solana.PublicKey, payer solana.PublicKey) (solana.Instruction, error) {
	feedKey, _, err := DerivePriceFeedPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive price feed PDA: %w", err)
	}
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixInitializePriceFeed, nil, solana.AccountMetaSlice{
		solana.NewAccountMeta(feedKey, true, false),
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func NewUpdatePriceInstruction(programID solana.PublicKey, price uint64, confidence uint64, expo int32, authority solana.PublicKey) (solana.Instruction, error) {
	feedKey, _, err := DerivePriceFeedPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive price feed PDA: %w", err)
	}
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixUpdatePrice, updatePriceArgs{
		Price:      price,
		Confidence: confidence,
		Expo:       expo,
	}, solana.AccountMetaSlice{
		solana.NewAccountMeta(feedKey, true, false),
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(authority, false, true),
	})
}

// OrderAccounts carries the token accounts involved in a buy/sell settlement.
type OrderAccounts struct {
	User             solana.PublicKey
	UserUsdcAccount  solana.PublicKey
	OrderUsdcAccount solana.PublicKey
}

func NewBuyAssetInstruction(programID solana.PublicKey, ticker string, usdcAmount uint64, accounts OrderAccounts, kyc KycAccounts) (solana.Instruction, error) {
	metas, err := orderMetas(programID, accounts, kyc, false)
	if err != nil {
		return nil, err
	}
	return buildInstruction(programID, ixBuyAsset, orderArgs{Ticker: ticker, Amount: usdcAmount}, metas)
}

func NewBuyAssetManualInstruction(programID solana.PublicKey, ticker string, usdcAmount uint64, manualPrice uint64, accounts OrderAccounts, kyc KycAccounts) (solana.Instruction, error) {
	metas, err := orderMetas(programID, accounts, kyc, false)
	if err != nil {
		return nil, err
	}
	return buildInstruction(programID, ixBuyAssetManual, manualOrderArgs{Ticker: ticker, Amount: usdcAmount, ManualPrice: manualPrice}, metas)
}

func NewSellAssetInstruction(programID solana.PublicKey, ticker string, assetAmount uint64, accounts OrderAccounts, kyc KycAccounts) (solana.Instruction, error) {
	metas, err := orderMetas(programID, accounts, kyc, true)
	if err != nil {
		return nil, err
	}
	return buildInstruction(programID, ixSellAsset, orderArgs{Ticker: ticker, Amount: assetAmount}, metas)
}

func NewSellAssetManualInstruction(programID solana.PublicKey, ticker string, assetAmount uint64, manualPrice uint64, accounts OrderAccounts, kyc KycAccounts) (solana.Instruction, error) {
	metas, err := orderMetas(programID, accounts, kyc, true)
	if err != nil {
		return nil, err
	}
	return buildInstruction(programID, ixSellAssetManual, manualOrderArgs{Ticker: ticker, Amount: assetAmount, ManualPrice: manualPrice}, metas)
}

// orderMetas assembles the shared settlement account list. Sells additionally
// reference the orders_authority PDA, which signs the custody-out transfer
// on-chain from fixed seeds rather than a private key.
func orderMetas(programID solana.PublicKey, accounts OrderAccounts, kyc KycAccounts, includeOrdersAuthority bool) (solana.AccountMetaSlice, error) {
	feedKey, _, err := DerivePriceFeedPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive price feed PDA: %w", err)
	}
	eventsKey, _, err := DeriveOrderEventsPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive order events PDA: %w", err)
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accounts.User, true, true),
		solana.NewAccountMeta(accounts.UserUsdcAccount, true, false),
		solana.NewAccountMeta(accounts.OrderUsdcAccount, true, false),
	}
	if includeOrdersAuthority {
		ordersAuthority, _, err := DeriveOrdersAuthorityPDA(programID)
		if err != nil {
			return nil, fmt.Errorf("derive orders authority PDA: %w", err)
		}
		metas = append(metas, solana.NewAccountMeta(ordersAuthority, false, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(feedKey, false, false),
		solana.NewAccountMeta(eventsKey, true, false),
	)
	metas = append(metas, kyc.metas()...)
	metas = append(metas, solana.NewAccountMeta(solana.TokenProgramID, false, false))
	return metas, nil
}

// TokenAuthorityAccounts carries the mint plus the PDA that signs token
// movements for it.
type TokenAuthorityAccounts struct {
	Mint             solana.PublicKey
	ProgramAuthority solana.PublicKey
	TokenProgram     solana.PublicKey
}

func NewMintToKycUserInstruction(programID solana.PublicKey, recipient solana.PublicKey, amount uint64, issuer solana.PublicKey, auth TokenAuthorityAccounts, recipientTokenAccount solana.PublicKey, kyc KycAccounts) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixMintToKycUser, mintArgs{Recipient: recipient, Amount: amount}, solana.AccountMetaSlice{
		solana.NewAccountMeta(issuer, true, true),
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(auth.Mint, true, false),
		solana.NewAccountMeta(auth.ProgramAuthority, false, false),
		solana.NewAccountMeta(recipientTokenAccount, true, false),
		solana.NewAccountMeta(recipient, false, false),
		solana.NewAccountMeta(kyc.Schema, false, false),
		solana.NewAccountMeta(kyc.Credential, false, false),
		solana.NewAccountMeta(kyc.Attestation, false, false),
		solana.NewAccountMeta(kyc.SasProgram, false, false),
		solana.NewAccountMeta(auth.TokenProgram, false, false),
	})
}

func NewBurnFromKycUserInstruction(programID solana.PublicKey, amount uint64, issuer solana.PublicKey, auth TokenAuthorityAccounts, ownerTokenAccount solana.PublicKey, kyc KycAccounts) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixBurnFromKycUser, amountArgs{Amount: amount}, solana.AccountMetaSlice{
		solana.NewAccountMeta(issuer, true, true),
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(auth.Mint, true, false),
		solana.NewAccountMeta(auth.ProgramAuthority, false, false),
		solana.NewAccountMeta(ownerTokenAccount, true, false),
		solana.NewAccountMeta(kyc.Credential, false, false),
		solana.NewAccountMeta(kyc.Attestation, false, false),
		solana.NewAccountMeta(kyc.SasProgram, false, false),
		solana.NewAccountMeta(auth.TokenProgram, false, false),
	})
}

func NewForceTransferInstruction(programID solana.PublicKey, fromOwner solana.PublicKey, toRecipient solana.PublicKey, amount uint64, issuer solana.PublicKey, auth TokenAuthorityAccounts, fromTokenAccount solana.PublicKey, toTokenAccount solana.PublicKey, kyc KycAccounts) (solana.Instruction, error) {
	configKey, _, err := DeriveConfigPDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive config PDA: %w", err)
	}
	return buildInstruction(programID, ixForceTransfer, forceTransferArgs{
		FromOwner:   fromOwner,
		ToRecipient: toRecipient,
		Amount:      amount,
	}, solana.AccountMetaSlice{
		solana.NewAccountMeta(issuer, true, true),
		solana.NewAccountMeta(configKey, false, false),
		solana.NewAccountMeta(auth.Mint, false, false),
		solana.NewAccountMeta(auth.ProgramAuthority, false, false),
		solana.NewAccountMeta(fromOwner, false, false),
		solana.NewAccountMeta(fromTokenAccount, true, false),
		solana.NewAccountMeta(toTokenAccount, true, false),
		solana.NewAccountMeta(kyc.Schema, false, false),
		solana.NewAccountMeta(kyc.Credential, false, false),
		solana.NewAccountMeta(kyc.Attestation, false, false),
		solana.NewAccountMeta(kyc.SasProgram, false, false),
		solana.NewAccountMeta(auth.TokenProgram, false, false),
	})
}

// NewPermissionedTransferInstruction builds the sender-signed transfer that
// requires valid attestations on both sides.
func NewPermissionedTransferInstruction(programID solana.PublicKey, amount uint64, fromOwner solana.PublicKey, toRecipient solana.PublicKey, auth TokenAuthorityAccounts, fromTokenAccount solana.PublicKey, toTokenAccount solana.PublicKey, senderAttestation solana.PublicKey, recipientAttestation solana.PublicKey, kyc KycAccounts) (solana.Instruction, error) {
	return buildInstruction(programID, ixPermissionedXfer, amountArgs{Amount: amount}, solana.AccountMetaSlice{
		solana.NewAccountMeta(fromOwner, true, true),
		solana.NewAccountMeta(fromTokenAccount, true, false),
		solana.NewAccountMeta(auth.Mint, false, false),
		solana.NewAccountMeta(toTokenAccount, true, false),
		solana.NewAccountMeta(toRecipient, false, false),
		solana.NewAccountMeta(senderAttestation, false, false),
		solana.NewAccountMeta(recipientAttestation, false, false),
		solana.NewAccountMeta(kyc.Credential, false, false),
		solana.NewAccountMeta(kyc.Schema, false, false),
		solana.NewAccountMeta(kyc.SasProgram, false, false),
		solana.NewAccountMeta(auth.TokenProgram, false, false),
	})
}
