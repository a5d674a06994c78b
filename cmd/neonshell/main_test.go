package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/neonshell/internal/config"
)

func TestParseFlagsOverridesEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg := config.Load()

	require.NoError(t, parseFlags(&cfg, []string{"-p", "9100", "--renderer", "none", "--assets", "dist", "--headless"}))
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "none", cfg.RendererMode)
	assert.Equal(t, "dist", cfg.AssetRoot)
	assert.True(t, cfg.Headless)
}

func TestParseFlagsKeepsDefaults(t *testing.T) {
	cfg := config.Load()
	require.NoError(t, parseFlags(&cfg, nil))
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "cdp", cfg.RendererMode)
}

func TestParseFlagsHelp(t *testing.T) {
	cfg := config.Load()
	assert.ErrorIs(t, parseFlags(&cfg, []string{"--help"}), pflag.ErrHelp)
	assert.Error(t, parseFlags(&cfg, []string{"--bogus"}))
}
