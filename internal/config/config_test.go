package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Export.OutputDir)
	assert.Equal(t, 100, cfg.Export.BatchSize)
	assert.Equal(t, 10, cfg.Export.ProgressEvery)
	assert.Equal(t, "http://localhost:3000/oauth-callback", cfg.HubSpot.RedirectURI)
	assert.Equal(t, ":3000", cfg.Auth.ListenAddr)
	assert.Len(t, cfg.Export.Engagements, 5)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsexport.yaml")
	cfg := Default()
	cfg.Export.OutputDir = "/from/yaml"
	cfg.HubSpot.ClientID = "yaml-client"
	require.NoError(t, Save(path, cfg))

	t.Setenv("OUTPUT_DIR", "/from/env")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("HUBSPOT_ACCESS_TOKEN", "at")
	t.Setenv("HUBSPOT_REFRESH_TOKEN", "rt")
	t.Setenv("HUBSPOT_TOKEN_EXPIRES_AT", "1700000000000")
	t.Setenv("HUBSPOT_SCOPES", "oauth crm.objects.deals.read")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", got.Export.OutputDir)
	assert.Equal(t, 50, got.Export.BatchSize)
	assert.Equal(t, "yaml-client", got.HubSpot.ClientID)
	assert.Equal(t, "at", got.HubSpot.Tokens.AccessToken)
	assert.Equal(t, "rt", got.HubSpot.Tokens.RefreshToken)
	assert.EqualValues(t, 1700000000000, got.HubSpot.Tokens.ExpiresAt)
	assert.Equal(t, []string{"oauth", "crm.objects.deals.read"}, got.HubSpot.Scopes)
}

func TestBatchSizeIsClamped(t *testing.T) {
	t.Setenv("BATCH_SIZE", "500")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize, cfg.Export.BatchSize)
}

func TestTokensAreNotWrittenToYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsexport.yaml")
	cfg := Default()
	cfg.HubSpot.Tokens.AccessToken = "secret-access"
	require.NoError(t, Save(path, cfg))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret-access")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateExport()
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "HUBSPOT_ACCESS_TOKEN")
	assert.Contains(t, err.Error(), "HUBSPOT_CLIENT_SECRET")

	cfg.HubSpot.ClientID = "id"
	cfg.HubSpot.ClientSecret = "secret"
	assert.NoError(t, cfg.ValidateAuth())
	assert.ErrorIs(t, cfg.ValidateExport(), ErrMissingCredentials)

	cfg.HubSpot.Tokens.AccessToken = "at"
	assert.NoError(t, cfg.ValidateExport())
}

func TestLedgerEnabled(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.LedgerEnabled())
	cfg.Storage.LedgerPath = LedgerOff
	assert.False(t, cfg.LedgerEnabled())
}
