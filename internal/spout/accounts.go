package spout

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Bounded-length string fields, enforced by the program at creation time.
const (
	MaxNameLen        = 64
	MaxSymbolLen      = 16
	MaxKycSchemaIDLen = 64
)

// PriceScale is the 6-decimal fixed-point scale shared by prices and USDC
// amounts throughout the program.
const PriceScale = uint64(1_000_000)

var ErrAccountDiscriminatorMismatch = errors.New("account discriminator mismatch")

// Anchor account discriminators.
var (
	AccountConfig      = accountDiscriminator("Config")
	AccountAsset       = accountDiscriminator("Asset")
	AccountPriceFeed   = accountDiscriminator("PriceFeed")
	AccountOrderEvents = accountDiscriminator("OrderEvents")
)

func accountDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// Config is the singleton deployment record at the config_v2 PDA.
type Config struct {
	Authority  solana.PublicKey
	SasProgram solana.PublicKey
	Bump       uint8
}

// Asset is the per-mint registry record. Write-once: the program exposes no
// update instruction for it.
type Asset struct {
	Mint        solana.PublicKey
	Issuer      solana.PublicKey
	Name        string
	Symbol      string
	TotalSupply uint64
	KycRequired bool
	KycSchemaID *string `bin:"optional"`
	Bump        uint8
}

// PriceFeed is the program-owned quote cache, updated only by Config.Authority.
type PriceFeed struct {
	Price      uint64
	Confidence uint64
	Expo       int32
	Timestamp  int64
	Bump       uint8
}

type OrderSide uint8

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

type OrderStatus uint8

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Order is one settled buy/sell request. UsdcAmount and AssetAmount are
// consistent with Price at 6-decimal scale at creation time.
type Order struct {
	User            solana.PublicKey
	Ticker          string
	Side            OrderSide
	UsdcAmount      uint64
	AssetAmount     uint64
	Price           uint64
	OracleTimestamp int64
	Status          OrderStatus
	CreatedAt       int64
}

// OrderEvents is the bounded on-chain order log.
type OrderEvents struct {
	BuyOrderEvents  []Order
	SellOrderEvents []Order
	Bump            uint8
}

func ParseConfig(data []byte) (*Config, error) {
	body, err := stripDiscriminator(data, AccountConfig, "Config")
	if err != nil {
		return nil, err
	}
	out := new(Config)
	if err := bin.NewBorshDecoder(body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode Config: %w", err)
	}
	return out, nil
}

func ParseAsset(data []byte) (*Asset, error) {
	body, err := stripDiscriminator(data, AccountAsset, "Asset")
	if err != nil {
		return nil, err
	}
	out := new(Asset)
	if err := bin.NewBorshDecoder(body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode Asset: %w", err)
	}
	return out, nil
}

func ParsePriceFeed(data []byte) (*PriceFeed, error) {
	body, err := stripDiscriminator(data, AccountPriceFeed, "PriceFeed")
	if err != nil {
		return nil, err
	}
	out := new(PriceFeed)
	if err := bin.NewBorshDecoder(body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode PriceFeed: %w", err)
	}
	return out, nil
}

func ParseOrderEventsAccount(data []byte) (*OrderEvents, error) {
	body, err := stripDiscriminator(data, AccountOrderEvents, "OrderEvents")
	if err != nil {
		return nil, err
	}
	out := new(OrderEvents)
	if err := bin.NewBorshDecoder(body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode OrderEvents: %w", err)
	}
	return out, nil
}

func stripDiscriminator(data []byte, want [8]byte, name string) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%s: payload too short (%d bytes)", name, len(data))
	}
	if !bytes.Equal(data[:8], want[:]) {
		return nil, fmt.Errorf("%s: %w", name, ErrAccountDiscriminatorMismatch)
	}
	return data[8:], nil
}

// EncodeAccount prepends the given account discriminator to the borsh encoding
// of v. Used by tooling and tests to fabricate account payloads.
func EncodeAccount(disc [8]byte, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
