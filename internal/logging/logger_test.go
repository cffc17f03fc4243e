package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spoutfi/rwa/backend/internal/config"
)

func TestNewRejectsUnknownSettings(t *testing.T) {
	cases := map[string]config.LogConfig{
		"level":  {Level: "verbose"},
		"format": {Format: "xml"},
		"output": {Output: "syslog"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := New("test", cfg)
			require.Error(t, err)
		})
	}
}

func TestNewDefaultsToConsoleText(t *testing.T) {
	logger, closeLogger, err := New("test", config.LogConfig{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closeLogger())
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")

	logger, closeLogger, err := New("svc", config.LogConfig{
		Format:   "json",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)
	logger.Info("started")
	require.NoError(t, closeLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"service":"svc"`)
	require.Contains(t, string(data), "started")
}
