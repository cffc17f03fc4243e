package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKeySegment(t *testing.T) {
	cases := map[string]string{
		"solana":            "SOLANA",
		"rpc_url":           "RPC_URL",
		"rpc-url":           "RPC_URL",
		"Listener.Poll":     "LISTENER_POLL",
		"  padded  ":        "PADDED",
		"weird--separators": "WEIRD_SEPARATORS",
		"":                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeKeySegment(in), "input %q", in)
	}
}

func TestFlattenConfig(t *testing.T) {
	raw := map[string]any{
		"solana": map[string]any{
			"rpc_url":    "http://localhost:8899",
			"commitment": "confirmed",
		},
		"listener": map[string]any{
			"poll_interval": "5s",
			"batch":         10,
		},
		"api_server": map[string]any{
			"allowed_origins": []any{"https://a.example", "https://b.example"},
		},
	}

	out, err := flattenConfig(raw)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8899", out["SOLANA_RPC_URL"])
	require.Equal(t, "confirmed", out["SOLANA_COMMITMENT"])
	require.Equal(t, "5s", out["LISTENER_POLL_INTERVAL"])
	require.Equal(t, "10", out["LISTENER_BATCH"])
	require.Equal(t, "https://a.example,https://b.example", out["API_SERVER_ALLOWED_ORIGINS"])
}

func TestParseCSVEnv(t *testing.T) {
	require.Equal(t, []string{"*"}, parseCSVEnv("", []string{"*"}))
	require.Equal(t, []string{"a", "b"}, parseCSVEnv(" a , b ,", nil))
	require.Equal(t, []string{"fallback"}, parseCSVEnv(" , ,", []string{"fallback"}))
}
