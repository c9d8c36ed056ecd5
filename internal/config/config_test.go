package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/marketctx/internal/storefront"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"STOREFRONT_DOMAIN", "STOREFRONT_TOKEN", "STOREFRONT_API_VERSION", "STOREFRONT_MARKET", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	require.Equal(t, "", cfg.Domain)
	require.Equal(t, storefront.DefaultAPIVersion, cfg.APIVersion)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "marketctx", cfg.OTelService)
}

func TestLoadEnvKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("STOREFRONT_DOMAIN=from-file.example.com\nSTOREFRONT_MARKET=uk\n"), 0o644))

	t.Setenv("STOREFRONT_DOMAIN", "from-process.example.com")
	t.Setenv("STOREFRONT_MARKET", "")
	os.Unsetenv("STOREFRONT_MARKET")

	loaded := LoadEnv(nil, file, filepath.Join(dir, "missing.env"))
	require.Equal(t, []string{file}, loaded)

	cfg := FromEnv()
	require.Equal(t, "from-process.example.com", cfg.Domain)
	require.Equal(t, "uk", cfg.Market)
}
