// Package engine settles buy and sell orders against the RWA program: it
// verifies the holder's attestation, resolves a price, computes the fill
// amounts, and submits the settlement instruction.
package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spoutfi/rwa/backend/internal/pricing"
	"github.com/spoutfi/rwa/backend/internal/spout"
)

var (
	ErrZeroAmount     = errors.New("order amount is zero")
	ErrAmountOverflow = errors.New("computed amount overflows uint64")
)

// ComputeBuyAssetAmount converts a USDC payment into asset units at the given
// 6-decimal price: asset = usdc * 1e6 / price, floored. The zero-price check
// runs before the division so a broken feed can never reach it.
func ComputeBuyAssetAmount(usdcAmount uint64, price uint64) (uint64, error) {
	if usdcAmount == 0 {
		return 0, ErrZeroAmount
	}
	if price == 0 {
		return 0, pricing.ErrZeroPrice
	}
	return mulDivFloor(usdcAmount, spout.PriceScale, price)
}

// ComputeSellUsdcAmount converts asset units into USDC proceeds at the given
// 6-decimal price: usdc = asset * price / 1e6, floored.
func ComputeSellUsdcAmount(assetAmount uint64, price uint64) (uint64, error) {
	if assetAmount == 0 {
		return 0, ErrZeroAmount
	}
	if price == 0 {
		return 0, pricing.ErrZeroPrice
	}
	return mulDivFloor(assetAmount, price, spout.PriceScale)
}

func mulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	left := new(big.Int).SetUint64(a)
	left.Mul(left, new(big.Int).SetUint64(b))
	left.Div(left, new(big.Int).SetUint64(denominator))
	if !left.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return left.Uint64(), nil
}
