package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "eng", cfg.OCR.Language)
	assert.Equal(t, DefaultRetryLanguages, cfg.OCR.RetryLanguages)
	assert.Equal(t, int64(100), cfg.Quota.DailyFreeTokens)
	assert.NotEmpty(t, cfg.AI.Categories)
}

func TestLoadFileOverridesAndFillsStageCosts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
quota:
  stageCosts:
    ocr: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	// The overridden stage keeps its value, the rest get defaults.
	assert.Equal(t, int64(5), cfg.StageCost("ocr"))
	assert.Equal(t, int64(1), cfg.StageCost("ingestion"))
	assert.Equal(t, int64(2), cfg.StageCost("classification"))
}

func TestStageCostUnknownStageIsNeverFree(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, int64(1), cfg.StageCost("some_future_stage"))
}
