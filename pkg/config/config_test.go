package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("INSIGHTSBOARD_LLM_MODEL", "gemini-1.5-flash")
	t.Setenv("INSIGHTSBOARD_DASHBOARD_DEFAULTVISUALS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini-1.5-flash", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.Dashboard.DefaultVisuals)
	assert.Equal(t, 10, cfg.Dashboard.MaxVisuals)
	assert.Equal(t, 5, cfg.Dashboard.SampleRows)
	assert.Equal(t, 256, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.InDelta(t, 0.8, cfg.LLM.TopP, 1e-6)
}

func TestValidate(t *testing.T) {
	base := Config{Dashboard: DashboardConfig{
		DefaultVisuals: 3, MinVisuals: 1, MaxVisuals: 10, SampleRows: 5, ChartFormat: "png",
	}}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"max above ten":       func(c *Config) { c.Dashboard.MaxVisuals = 11 },
		"min zero":            func(c *Config) { c.Dashboard.MinVisuals = 0 },
		"default out of band": func(c *Config) { c.Dashboard.DefaultVisuals = 12 },
		"no sample rows":      func(c *Config) { c.Dashboard.SampleRows = 0 },
		"unknown format":      func(c *Config) { c.Dashboard.ChartFormat = "gif" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}
