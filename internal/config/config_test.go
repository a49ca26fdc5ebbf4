package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storyreel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
export:
  fps: 24
  preset: "9:16"
genai:
  batch_pause: 250ms
storage:
  driver: sqlite
`), 0o644))

	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Export.FPS)
	assert.Equal(t, 1080, cfg.Export.Width)
	assert.Equal(t, 1920, cfg.Export.Height)
	assert.Equal(t, 250*time.Millisecond, cfg.GenAI.BatchPause)
	assert.Equal(t, 3, cfg.GenAI.BatchSize, "untouched defaults survive")
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "k", cfg.GenAI.APIKey)
}

func TestValidateRejectsOddResolution(t *testing.T) {
	cfg := Default()
	cfg.Export.Width = 1281
	assert.Error(t, cfg.Validate())
}

func TestApplyPresetUnknown(t *testing.T) {
	assert.Error(t, Default().ApplyPreset("21:9"))
}

func TestEncodeParams(t *testing.T) {
	p := Default().Export.EncodeParams("/tmp/out.mp4")
	assert.Equal(t, 1920, p.Width)
	assert.Equal(t, 30, p.FPS)
	assert.Equal(t, "/tmp/out.mp4", p.OutputPath)
}
