package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Name:          "kelp-rgb",
		Revision:      "20250626",
		Dependencies:  []string{"https://example.com/models/kelp-rgb.onnx"},
		ModelFilename: "kelp-rgb.onnx",
		InputChannels: 3,
		Classes:       []string{"background", "kelp"},
		Activation:    ActivationSoftmax,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	broken := func(mutate func(c *Config)) error {
		c := validConfig()
		mutate(c)
		return c.Validate()
	}
	require.Error(t, broken(func(c *Config) { c.Name = "" }))
	require.Error(t, broken(func(c *Config) { c.Revision = "" }))
	require.Error(t, broken(func(c *Config) { c.Dependencies = nil }))
	require.Error(t, broken(func(c *Config) { c.ModelFilename = "" }))
	require.Error(t, broken(func(c *Config) { c.InputChannels = 0 }))
	require.Error(t, broken(func(c *Config) { c.Activation = "relu" }))
	require.Error(t, broken(func(c *Config) { c.Normalization = "zscore" }))
	require.Error(t, broken(func(c *Config) { c.MaxPixelValue = -1 }))
	require.Error(t, broken(func(c *Config) { c.Postprocess = "species_presence" }))
	require.Error(t, broken(func(c *Config) { c.PresenceChannels = -1 }))
	require.Error(t, broken(func(c *Config) { c.PresenceChannels = 2 }))
	require.NoError(t, broken(func(c *Config) {
		c.Postprocess = PostprocessPresenceSpecies
		c.PresenceChannels = 2
	}))

	// Standard normalization needs mean/std per channel, with nonzero std
	require.Error(t, broken(func(c *Config) {
		c.Normalization = NormalizationStandard
	}))
	require.Error(t, broken(func(c *Config) {
		c.Normalization = NormalizationStandard
		c.Mean = []float32{0.5, 0.5, 0.5}
		c.Std = []float32{0.5, 0, 0.5}
	}))
	require.NoError(t, broken(func(c *Config) {
		c.Normalization = NormalizationStandard
		c.Mean = []float32{0.485, 0.456, 0.406}
		c.Std = []float32{0.229, 0.224, 0.225}
	}))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "kelp-rgb_20250626.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"name": "kelp-rgb",
		"revision": "20250626",
		"dependencies": ["https://example.com/models/kelp-rgb.onnx"],
		"modelFilename": "kelp-rgb.onnx",
		"inputChannels": 3,
		"classes": ["background", "kelp"],
		"activation": "softmax",
		"normalization": "standard",
		"mean": [0.485, 0.456, 0.406],
		"std": [0.229, 0.224, 0.225]
	}`), 0644))

	cfg, err := LoadConfig(good)
	require.NoError(t, err)
	require.Equal(t, "kelp-rgb", cfg.Name)
	require.Equal(t, NormalizationStandard, cfg.Normalization)
	require.Equal(t, []float32{0.229, 0.224, 0.225}, cfg.Std)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"name": "nameless`), 0644))
	_, err = LoadConfig(bad)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "absent.json"))
	require.Error(t, err)
}
