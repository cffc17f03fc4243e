package spout

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestParseOrderEventsRoundTrip(t *testing.T) {
	buy := OrderEvent{
		Side:            OrderSideBuy,
		User:            solana.NewWallet().PublicKey(),
		Ticker:          "TSLA",
		UsdcAmount:      150_000_000,
		AssetAmount:     1_000_000,
		Price:           150_000_000,
		OracleTimestamp: 1_700_000_000,
	}
	sell := OrderEvent{
		Side:            OrderSideSell,
		User:            solana.NewWallet().PublicKey(),
		Ticker:          "AAPL",
		UsdcAmount:      90_000_000,
		AssetAmount:     500_000,
		Price:           180_000_000,
		OracleTimestamp: 1_700_000_100,
	}

	buyLine, err := EncodeOrderEvent(buy)
	require.NoError(t, err)
	sellLine, err := EncodeOrderEvent(sell)
	require.NoError(t, err)

	logs := []string{
		"Program EkU7xRmBhVyHdwtRZ4SJ9D3Nz6SeAvymft7nz3CL2XXB invoke [1]",
		buyLine,
		"Program log: Instruction: BuyAsset",
		sellLine,
		"Program EkU7xRmBhVyHdwtRZ4SJ9D3Nz6SeAvymft7nz3CL2XXB success",
	}

	events, err := ParseOrderEvents(logs)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, buy, events[0])
	require.Equal(t, sell, events[1])
}

func TestParseOrderEventsSkipsForeignData(t *testing.T) {
	logs := []string{
		"Program log: hello",
		"Program data: not-base64!!",
		// Valid base64 but an unknown discriminator.
		"Program data: AAECAwQFBgcICQ==",
	}

	events, err := ParseOrderEvents(logs)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParseOrderEventsRejectsTruncatedBody(t *testing.T) {
	line, err := EncodeOrderEvent(OrderEvent{
		Side:   OrderSideBuy,
		User:   solana.NewWallet().PublicKey(),
		Ticker: "TSLA",
	})
	require.NoError(t, err)

	// Re-encode with the body cut short but the discriminator intact.
	truncated := truncateEventLine(t, line, 12)

	_, err = ParseOrderEvents([]string{truncated})
	require.Error(t, err)
}

func truncateEventLine(t *testing.T, line string, keep int) string {
	t.Helper()
	payload := line[len(programDataPrefix):]
	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	require.Greater(t, len(decoded), keep)
	return programDataPrefix + base64.StdEncoding.EncodeToString(decoded[:keep])
}
