package mevconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mevengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeTempConfig(t, `
venues:
  - name: raydium
    kind: amm
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, RiskMedium, cfg.RiskLevel)
	require.Equal(t, 10, cfg.Database.MaxOpenConns)
	require.Equal(t, 5, cfg.Database.MaxIdleConns)
	require.Equal(t, 5000, cfg.Database.QueryTimeoutMS)
	require.Equal(t, ":8080", cfg.HTTP.BindAddr)
	require.Len(t, cfg.Venues, 1)
}

func TestLoad_ExplicitFieldsOverrideDefaults(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
risk_level: high
http:
  bind_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, RiskHigh, cfg.RiskLevel)
	require.Equal(t, ":9090", cfg.HTTP.BindAddr)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/mevengine.yaml")
	require.Error(t, err)
}

func TestPresetByLevel_KnownLevelsMatchOriginalValues(t *testing.T) {
	low := PresetByLevel(RiskLow)
	require.Equal(t, 0.02, low.MaxPositionSOL)
	require.Equal(t, 2, low.MaxConcurrentPositions)

	high := PresetByLevel(RiskHigh)
	require.Equal(t, 10.0, high.MaxPositionSOL)
	require.Equal(t, 20, high.MaxConcurrentPositions)
}

func TestPresetByLevel_UnknownLevelFallsBackToMedium(t *testing.T) {
	preset := PresetByLevel(RiskLevel("nonsense"))
	require.Equal(t, riskPresets[RiskMedium], preset)
}

func TestEnvSecrets_GetReturnsNotFoundWhenUnset(t *testing.T) {
	s := NewEnvSecrets("mevengine_test_unused_prefix")
	_, err := s.Get("wallet_private_key")
	require.Error(t, err)
	var notFound *SecretNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEnvSecrets_GetReadsPrefixedEnvVar(t *testing.T) {
	t.Setenv("MEVENGINE_WALLET_PRIVATE_KEY", "test-key-value")
	s := NewEnvSecrets("mevengine")

	value, err := s.Get("wallet_private_key")
	require.NoError(t, err)
	require.Equal(t, "test-key-value", value)
}

func TestShouldRedact_MatchesSensitiveKeyNames(t *testing.T) {
	require.True(t, ShouldRedact("MEVENGINE_WALLET_PRIVATE_KEY"))
	require.True(t, ShouldRedact("DATABASE_DSN"))
	require.False(t, ShouldRedact("MEVENGINE_HTTP_BIND_ADDR"))
}
