package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsexport/internal/model"
)

var testTokens = model.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: 1700000000000}

func TestSaveTokensPreservesOtherLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	original := "# HubSpot app\n" +
		"HUBSPOT_CLIENT_ID=client\n" +
		"HUBSPOT_ACCESS_TOKEN=old-access\n" +
		"\n" +
		"OUTPUT_DIR=./exports\n" +
		"HUBSPOT_REFRESH_TOKEN=old-refresh\n" +
		"HUBSPOT_TOKEN_EXPIRES_AT=1\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	require.NoError(t, EnvFile{Path: path}.SaveTokens(testTokens))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "# HubSpot app\n" +
		"HUBSPOT_CLIENT_ID=client\n" +
		"HUBSPOT_ACCESS_TOKEN=new-access\n" +
		"\n" +
		"OUTPUT_DIR=./exports\n" +
		"HUBSPOT_REFRESH_TOKEN=new-refresh\n" +
		"HUBSPOT_TOKEN_EXPIRES_AT=1700000000000\n"
	assert.Equal(t, want, string(b))
}

func TestSaveTokensAppendsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HUBSPOT_CLIENT_ID=client"), 0o600))

	require.NoError(t, EnvFile{Path: path}.SaveTokens(testTokens))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "client", env["HUBSPOT_CLIENT_ID"])
	assert.Equal(t, "new-access", env["HUBSPOT_ACCESS_TOKEN"])
	assert.Equal(t, "new-refresh", env["HUBSPOT_REFRESH_TOKEN"])
	assert.Equal(t, "1700000000000", env["HUBSPOT_TOKEN_EXPIRES_AT"])
}

func TestSaveTokensFromTemplate(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, ".env.example")
	require.NoError(t, os.WriteFile(tmpl, []byte("HUBSPOT_CLIENT_ID=your-client-id\nHUBSPOT_ACCESS_TOKEN=\n"), 0o644))
	path := filepath.Join(dir, ".env")

	require.NoError(t, EnvFile{Path: path, Template: tmpl}.SaveTokens(testTokens))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "your-client-id", env["HUBSPOT_CLIENT_ID"])
	assert.Equal(t, "new-access", env["HUBSPOT_ACCESS_TOKEN"])

	b, err := os.ReadFile(tmpl)
	require.NoError(t, err)
	assert.Equal(t, "HUBSPOT_CLIENT_ID=your-client-id\nHUBSPOT_ACCESS_TOKEN=\n", string(b), "template must not change")
}

func TestSaveTokensFromScratch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	require.NoError(t, EnvFile{Path: path, Template: filepath.Join(dir, "missing.example")}.SaveTokens(testTokens))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HUBSPOT_ACCESS_TOKEN=new-access\nHUBSPOT_REFRESH_TOKEN=new-refresh\nHUBSPOT_TOKEN_EXPIRES_AT=1700000000000\n", string(b))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadEnvFileKeepsExistingEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HSEXPORT_TEST_A=file\nHSEXPORT_TEST_B=file\n"), 0o600))
	t.Setenv("HSEXPORT_TEST_A", "process")
	t.Setenv("HSEXPORT_TEST_B", "")
	require.NoError(t, os.Unsetenv("HSEXPORT_TEST_B"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "process", os.Getenv("HSEXPORT_TEST_A"))
	assert.Equal(t, "file", os.Getenv("HSEXPORT_TEST_B"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
}
