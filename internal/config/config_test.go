package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Service.Port)
	assert.Equal(t, "deep-research", cfg.Temporal.TaskQueue)
	assert.Equal(t, "memory", cfg.Documents.Backend)
	assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
	assert.Equal(t, DefaultSettings().Models.Research, cfg.DeepResearch.Models.Research)
	assert.True(t, cfg.DeepResearch.AllowClarification)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	content := `
deep_research:
  max_concurrent_research_units: 2
  allow_clarification: false
  search_api: tavily
  models:
    final_report:
      id: google:gemini-2.5-pro
      max_tokens: 16000
temporal:
  host: temporal:7233
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("DEEP_RESEARCH_MAX_RESEARCHER_ITERATIONS", "7")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
	t.Setenv("FIRECRAWL_API_KEY", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.DeepResearch.MaxConcurrentResearchUnits)
	assert.Equal(t, 7, cfg.DeepResearch.MaxResearcherIterations)
	assert.False(t, cfg.DeepResearch.AllowClarification)
	assert.Equal(t, "temporal:7233", cfg.Temporal.Host)
	assert.Equal(t, "google:gemini-2.5-pro", cfg.DeepResearch.Models.FinalReport.ID)
	assert.Equal(t, 16000, cfg.DeepResearch.Models.FinalReport.MaxTokens)
	// untouched nested defaults survive a partial models block
	assert.Equal(t, DefaultCompressionModel, cfg.DeepResearch.Models.Compression)

	rc := cfg.Runtime()
	assert.Equal(t, SearchTavily, rc.SearchAPI)
	assert.Equal(t, 7, rc.MaxResearcherIterations)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deep_research: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
