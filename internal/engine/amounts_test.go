package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/pricing"
)

func TestComputeBuyAssetAmount(t *testing.T) {
	// $1.00 at a $1.00 price buys exactly one unit.
	got, err := ComputeBuyAssetAmount(1_000_000, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), got)

	// $150.00 at $150.00 per unit.
	got, err = ComputeBuyAssetAmount(150_000_000, 150_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), got)

	// $10.00 at $3.00 floors.
	got, err = ComputeBuyAssetAmount(10_000_000, 3_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(3_333_333), got)

	// Sub-unit purchase.
	got, err = ComputeBuyAssetAmount(1, 2_000_000)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestComputeSellUsdcAmount(t *testing.T) {
	got, err := ComputeSellUsdcAmount(1_000_000, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), got)

	// Half a unit at $150.00.
	got, err = ComputeSellUsdcAmount(500_000, 150_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(75_000_000), got)

	got, err = ComputeSellUsdcAmount(1, 1)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestAmountRejections(t *testing.T) {
	_, err := ComputeBuyAssetAmount(0, 1_000_000)
	require.ErrorIs(t, err, ErrZeroAmount)
	_, err = ComputeSellUsdcAmount(0, 1_000_000)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = ComputeBuyAssetAmount(1_000_000, 0)
	require.ErrorIs(t, err, pricing.ErrZeroPrice)
	_, err = ComputeSellUsdcAmount(1_000_000, 0)
	require.ErrorIs(t, err, pricing.ErrZeroPrice)
}

func TestAmountOverflow(t *testing.T) {
	// max * 1e6 / 1 cannot fit.
	_, err := ComputeBuyAssetAmount(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrAmountOverflow)

	_, err = ComputeSellUsdcAmount(math.MaxUint64, math.MaxUint64)
	require.ErrorIs(t, err, ErrAmountOverflow)

	// The intermediate product exceeds uint64 but the quotient fits.
	got, err := ComputeSellUsdcAmount(math.MaxUint64, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), got)
}

func TestBuySellRoundTrip(t *testing.T) {
	price := uint64(150_000_000)
	usdc := uint64(3_000_000_000)

	asset, err := ComputeBuyAssetAmount(usdc, price)
	require.NoError(t, err)
	back, err := ComputeSellUsdcAmount(asset, price)
	require.NoError(t, err)
	require.Equal(t, usdc, back, "exact multiple round-trips without loss")
}
