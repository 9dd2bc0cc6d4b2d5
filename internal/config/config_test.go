package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GDMC_HOST", "TREEHOUSE_DATA_DIR", "TREEHOUSE_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "treehouse.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, "http://localhost:9000", cfg.Interface.Host)
	assert.Equal(t, 30*time.Second, cfg.Interface.Timeout.Std())
}

func TestLoad_OverlaysFile(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `
interface:
  host: http://mc.local:9000
  timeout: 5s
editor:
  batch_size: 64
treehouse:
  platform_radius: 4
  leaf_density: 0.25
  seed: 99
  palette:
    wall: spruce_planks
    ladder: ladder[facing=north]
clear:
  min_y: -64
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "http://mc.local:9000", cfg.Interface.Host)
	assert.Equal(t, 5*time.Second, cfg.Interface.Timeout.Std())
	assert.Equal(t, 64, cfg.Editor.BatchSize)
	assert.Equal(t, 1024, cfg.Editor.BufferLimit, "untouched keys keep defaults")
	assert.Equal(t, -64, cfg.Clear.MinY)

	params, err := cfg.TreeHouseParams()
	require.NoError(t, err)
	assert.Equal(t, 4, params.PlatformRadius)
	assert.Equal(t, 15, params.TreeHeight)
	assert.Equal(t, 0.25, params.LeafDensity)
	assert.Equal(t, "minecraft:spruce_planks", params.Palette.Wall.ID)
	assert.Equal(t, "north", params.Palette.Ladder.States["facing"])
	assert.Equal(t, "minecraft:glass", params.Palette.Window.ID)
}

func TestLoad_SchemaRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "editor:\n  bufer_limit: 10\n",
		"negative radius": "treehouse:\n  platform_radius: -1\n",
		"density":         "treehouse:\n  leaf_density: 2\n",
		"heightmap":       "clear:\n  top_heightmap: SURFACE\n",
		"duration":        "interface:\n  timeout: soon\n",
		"level":           "logging:\n  level: trace\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_CrossFieldValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "editor:\n  buffer_limit: 10\n  batch_size: 20\n"))
	assert.ErrorContains(t, err, "batch_size")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GDMC_HOST", "http://10.0.0.2:9000")
	t.Setenv("TREEHOUSE_DATA_DIR", "/var/lib/treehouse")
	t.Setenv("TREEHOUSE_LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeConfig(t, "interface:\n  host: http://ignored:9000\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9000", cfg.Interface.Host)
	assert.Equal(t, "/var/lib/treehouse", cfg.Data.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExampleConfigMatchesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "configs", "treehouse.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}
