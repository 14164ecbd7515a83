package cmd_test

import (
	"net/url"
	"testing"

	cmd "github.com/rohmanhakim/atlas-crawler/internal/cli"
	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestURLs() []string {
	return []string{"https://example.com"}
}

func TestBuildConfig_DefaultsWhenOnlySeedsGiven(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetSeedURLsForTest(defaultTestURLs())

	cfg, err := cmd.BuildConfigForTest()
	require.NoError(t, err)

	defaultCfg, err := config.WithDefault([]url.URL{{Scheme: "https", Host: "base.org"}}).Build()
	require.NoError(t, err)

	assert.Equal(t, defaultCfg.MaxDepth(), cfg.MaxDepth())
	assert.Equal(t, defaultCfg.Concurrency(), cfg.Concurrency())
	assert.Equal(t, defaultCfg.MaxPages(), cfg.MaxPages())
	assert.True(t, cfg.RespectRobots())
	require.Len(t, cfg.SeedURLs(), 1)
	assert.Equal(t, "example.com", cfg.SeedURLs()[0].Host)
}

func TestBuildConfig_RejectsEmptySeeds(t *testing.T) {
	cmd.ResetFlags()

	_, err := cmd.BuildConfigForTest()
	assert.Error(t, err)
}

func TestBuildConfig_AppliesOverrides(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetSeedURLsForTest(defaultTestURLs())
	cmd.SetMaxDepthForTest(7)
	cmd.SetConcurrencyForTest(16)
	cmd.SetMaxPagesForTest(500)
	cmd.SetModeForTest(string(atlas.RenderModeFull))
	cmd.SetRespectRobotsForTest(false)
	cmd.SetAllowedPathPrefixForTest([]string{"/docs"})

	cfg, err := cmd.BuildConfigForTest()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxDepth())
	assert.Equal(t, 16, cfg.Concurrency())
	assert.Equal(t, 500, cfg.MaxPages())
	assert.Equal(t, atlas.RenderModeFull, cfg.RenderMode())
	assert.False(t, cfg.RespectRobots())
	assert.Equal(t, []string{"/docs"}, cfg.AllowedPathPrefix())
}

func TestBuildConfig_FromConfigFileTakesPrecedence(t *testing.T) {
	cmd.ResetFlags()
	cmd.SetSeedURLsForTest(defaultTestURLs())
	cmd.SetConfigFileForTest("/nonexistent/config.json")

	_, err := cmd.BuildConfigForTest()
	assert.Error(t, err)
}
