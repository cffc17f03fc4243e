package spout

import (
	"github.com/gagliardetto/solana-go"
)

// Seed tags used by the RWA program. These must stay byte-identical to the
// on-chain seeds or derived addresses will not match deployed accounts.
var (
	seedConfig           = []byte("config_v2")
	seedAsset            = []byte("asset")
	seedPriceFeed        = []byte("price_feed")
	seedOrderEvents      = []byte("order_events")
	seedProgramAuthority = []byte("program_authority")
	seedOrdersAuthority  = []byte("orders_authority")
)

func DeriveConfigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedConfig}, programID)
}

func DeriveAssetPDA(programID solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedAsset, mint.Bytes()}, programID)
}

func DerivePriceFeedPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedPriceFeed}, programID)
}

func DeriveOrderEventsPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedOrderEvents}, programID)
}

// DeriveProgramAuthorityPDA is the mint/burn/delegate authority for a given RWA
// mint. The program signs token movements with these seeds instead of a key.
func DeriveProgramAuthorityPDA(programID solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedProgramAuthority, mint.Bytes()}, programID)
}

// DeriveOrdersAuthorityPDA is the custody authority for the orders USDC vault.
func DeriveOrdersAuthorityPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedOrdersAuthority}, programID)
}
