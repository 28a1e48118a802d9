package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, uint64(236)<<20, cfg.Renderer.BlasBatchBudget())
	assert.Equal(t, 10*time.Second, cfg.Renderer.FenceTimeout.Duration)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	cfg := Default()
	data := []byte(`
[renderer]
mode = "pathtrace"
fence_timeout = "2s"
motion_vectors = true
max_bounces = 8

[window]
width = 800
`)
	require.NoError(t, Decode(data, cfg))
	assert.Equal(t, RenderModePathTrace, cfg.Renderer.Mode)
	assert.Equal(t, 2*time.Second, cfg.Renderer.FenceTimeout.Duration)
	assert.True(t, cfg.Renderer.MotionVectors)
	assert.Equal(t, uint32(8), cfg.Renderer.MaxBounces)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(900), cfg.Window.Height)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	assert.Error(t, Decode([]byte(`renderer = { mode = "raster" }`), Default()))
	assert.Error(t, Decode([]byte("[renderer]\nframes_in_flight = 0\n"), Default()))
	assert.Error(t, Decode([]byte("[renderer]\nfence_timeout = \"soon\"\n"), Default()))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWatcherPublishesToggles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nfxaa = true\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nmotion_vectors = true\nmax_bounces = 2\n"), 0o644))

	// A write can surface as truncate-then-write, so wait for the final contents.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case tg := <-w.Toggles():
			if !tg.MotionVectors {
				continue
			}
			assert.Equal(t, uint32(2), tg.MaxBounces)
			return
		case <-timeout:
			t.Fatal("no toggles published after config write")
		}
	}
}
