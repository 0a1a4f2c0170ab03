package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "order-export"}
	f := bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return buildConfig(cmd, f)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvCookie, config.EnvSessionID, config.EnvUserAgent, config.EnvUsername,
		config.EnvPassword, config.EnvBaseURL, config.EnvOutput, config.EnvMetricsAddr,
		config.EnvDelay, config.EnvMaxPages, config.EnvPolicy, config.EnvVerbose,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestBuildConfigDefaultsToBothListings(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvCookie, "PHPSESSID=abc")
	t.Setenv(config.EnvUserAgent, "agent")

	cfg, err := parse(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.True(t, cfg.IncludePurchases)
	assert.True(t, cfg.IncludeSales)
	assert.Equal(t, config.PolicyTolerant, cfg.Policy)
	assert.Equal(t, "error_log.html", cfg.DebugDumpPath)
}

func TestBuildConfigLayering(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "export.json5")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
  // checked in
  output: "from-file.csv",
  delay: "5s",
  policy: "strict",
  max_pages: 7,
}`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("EXPORT_COOKIE=PHPSESSID=xyz\nEXPORT_USER_AGENT=\"Mozilla/5.0\"\nEXPORT_MAX_PAGES=9\n"), 0o600))
	t.Setenv(config.EnvDelay, "3s")

	cfg, err := parse(t,
		"--config", configPath,
		"--env-file", envPath,
		"--include-sales",
		"--year", "2025",
		"--policy", "TOLERANT",
	)
	require.NoError(t, err)

	assert.Equal(t, "from-file.csv", cfg.OutputFile, "file value survives when nothing overrides it")
	assert.Equal(t, 3*time.Second, cfg.Delay, "environment beats the config file")
	assert.Equal(t, 9, cfg.MaxPages, "dotenv values reach the environment layer")
	assert.Equal(t, config.PolicyTolerant, cfg.Policy, "flags beat everything")
	assert.Equal(t, "PHPSESSID=xyz", cfg.CookieHeader())
	assert.Equal(t, "Mozilla/5.0", cfg.UserAgent)
	assert.False(t, cfg.IncludePurchases)
	assert.True(t, cfg.IncludeSales)
	assert.Equal(t, 2025, cfg.Year)
}

func TestBuildConfigRejectsMissingCredentials(t *testing.T) {
	clearEnv(t)
	_, err := parse(t, "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestIncludeFlagsDocumentDefault(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"include-purchases", "include-sales"} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Contains(t, flag.Usage, "both listings are walked when neither", name)
	}
}
