package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/spout"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name     string
		mantissa uint64
		expo     int32
		want     uint64
	}{
		{"identity", 1_000_000, 0, 1_000_000},
		{"scale up", 5, 6, 5_000_000},
		{"scale down", 123_456_789, -2, 1_234_567},
		{"floor division", 199, -2, 1},
		{"pyth style expo", 15_000_000_000, -2, 150_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.mantissa, tc.expo)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeRejections(t *testing.T) {
	_, err := Normalize(0, 0)
	require.ErrorIs(t, err, ErrZeroPrice)

	_, err = Normalize(1, -1)
	require.ErrorIs(t, err, ErrZeroPrice, "mantissa rounded away to zero")

	_, err = Normalize(1, 39)
	require.ErrorIs(t, err, ErrInvalidExponent)
	_, err = Normalize(1, -39)
	require.ErrorIs(t, err, ErrInvalidExponent)

	_, err = Normalize(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrPriceOverflow)
}

func TestResolveManual(t *testing.T) {
	now := int64(1_700_000_000)
	r := NewResolverAt(Options{}, func() int64 { return now })

	quote, err := r.ResolveManual(1_500_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000), quote.Price)
	require.Equal(t, now, quote.Timestamp)

	_, err = r.ResolveManual(0)
	require.ErrorIs(t, err, ErrZeroPrice)
}

func TestResolveFeedNormalizes(t *testing.T) {
	now := int64(1_700_000_000)
	r := NewResolverAt(Options{}, func() int64 { return now })

	quote, err := r.ResolveFeed(&spout.PriceFeed{
		Price:      15_000_000_000,
		Confidence: 10_000_000,
		Expo:       -2,
		Timestamp:  now - 5,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(150_000_000), quote.Price)
	require.Equal(t, uint64(100_000), quote.Confidence)
	require.Equal(t, now-5, quote.Timestamp)
}

func TestResolveFeedRejectsZeroPrice(t *testing.T) {
	r := NewResolverAt(Options{}, func() int64 { return 0 })

	_, err := r.ResolveFeed(&spout.PriceFeed{Price: 0, Expo: 0})
	require.ErrorIs(t, err, ErrZeroPrice)
}

func TestResolveFeedToleratesZeroConfidence(t *testing.T) {
	r := NewResolverAt(Options{MaxConfidenceBps: 50}, func() int64 { return 100 })

	quote, err := r.ResolveFeed(&spout.PriceFeed{Price: 2_000_000, Confidence: 0, Expo: 0, Timestamp: 100})
	require.NoError(t, err)
	require.Zero(t, quote.Confidence)
}

func TestResolveFeedStalenessGate(t *testing.T) {
	now := int64(1_700_000_000)
	r := NewResolverAt(Options{MaxAge: 30 * time.Second}, func() int64 { return now })

	_, err := r.ResolveFeed(&spout.PriceFeed{Price: 1_000_000, Expo: 0, Timestamp: now - 31})
	require.ErrorIs(t, err, ErrStalePrice)

	_, err = r.ResolveFeed(&spout.PriceFeed{Price: 1_000_000, Expo: 0, Timestamp: now + 10})
	require.ErrorIs(t, err, ErrStalePrice, "future timestamps are rejected")

	_, err = r.ResolveFeed(&spout.PriceFeed{Price: 1_000_000, Expo: 0, Timestamp: now - 30})
	require.NoError(t, err, "exactly at the boundary passes")
}

func TestResolveFeedConfidenceGate(t *testing.T) {
	now := int64(1_700_000_000)
	r := NewResolverAt(Options{MaxConfidenceBps: 100}, func() int64 { return now })

	// 2% of price at a 1% cap.
	_, err := r.ResolveFeed(&spout.PriceFeed{
		Price:      1_000_000,
		Confidence: 20_000,
		Expo:       0,
		Timestamp:  now,
	})
	require.ErrorIs(t, err, ErrWideConfidence)

	// Exactly 1% passes.
	_, err = r.ResolveFeed(&spout.PriceFeed{
		Price:      1_000_000,
		Confidence: 10_000,
		Expo:       0,
		Timestamp:  now,
	})
	require.NoError(t, err)
}

func TestResolveFeedGatesDisabledByDefault(t *testing.T) {
	r := NewResolverAt(Options{}, func() int64 { return 1_700_000_000 })

	// Ancient timestamp and huge confidence both pass with zero options.
	_, err := r.ResolveFeed(&spout.PriceFeed{
		Price:      1_000_000,
		Confidence: 900_000,
		Expo:       0,
		Timestamp:  1,
	})
	require.NoError(t, err)
}
