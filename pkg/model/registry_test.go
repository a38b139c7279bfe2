package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func configRev(name, revision string) *Config {
	c := validConfig()
	c.Name = name
	c.Revision = revision
	return c
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(configRev("kelp-rgb", "20240722")))
	require.NoError(t, reg.Register(configRev("kelp-rgb", "20250626")))
	require.NoError(t, reg.Register(configRev("mussels-rgb", "20230213")))
	require.Equal(t, 3, reg.Len())

	// Duplicate registration
	require.Error(t, reg.Register(configRev("kelp-rgb", "20250626")))

	require.Equal(t, []string{"kelp-rgb", "mussels-rgb"}, reg.Names())
	require.Equal(t, []string{"20240722", "20250626"}, reg.Revisions("kelp-rgb"))

	latest, err := reg.LatestRevision("kelp-rgb")
	require.NoError(t, err)
	require.Equal(t, "20250626", latest)

	// Empty revision resolves to latest
	cfg, err := reg.Get("kelp-rgb", "")
	require.NoError(t, err)
	require.Equal(t, "20250626", cfg.Revision)

	cfg, err = reg.Get("kelp-rgb", "20240722")
	require.NoError(t, err)
	require.Equal(t, "20240722", cfg.Revision)

	_, err = reg.Get("kelp-rgb", "19990101")
	require.Error(t, err)
	_, err = reg.Get("seagrass-rgb", "")
	require.Error(t, err)
}

func TestRegistryFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	write := func(filename, name, revision string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(`{
			"name": "`+name+`",
			"revision": "`+revision+`",
			"dependencies": ["https://example.com/models/`+name+`.onnx"],
			"modelFilename": "`+name+`.onnx",
			"inputChannels": 3,
			"classes": ["background", "kelp"]
		}`), 0644))
	}
	write("kelp-rgb_20240722.json", "kelp-rgb", "20240722")
	write("kelp-rgb_20250626.json", "kelp-rgb", "20250626")
	write("mussels-rgb_20230213.json", "mussels-rgb", "20230213")

	reg, err := RegistryFromConfigDir(dir)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())
	require.Equal(t, []string{"kelp-rgb", "mussels-rgb"}, reg.Names())

	// One malformed config fails the whole load
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{}`), 0644))
	_, err = RegistryFromConfigDir(dir)
	require.Error(t, err)
}
