package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/adreports/internal/models"
	"github.com/AngelCh415/adreports/internal/transform"
)

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 30*time.Second, c.APITimeout)
	assert.Equal(t, 60*time.Second, c.ReportTimeout)
	assert.Equal(t, 5*time.Second, c.PendingRetryDelay)
	assert.Equal(t, 3, c.PendingMaxAttempts)
	assert.Equal(t, slog.LevelInfo, c.Level())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PENDING_RETRY_DELAY", "250ms")
	t.Setenv("INTEGRATION_TOKENS", "direct:abc,metrika:xyz")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, slog.LevelDebug, c.Level())
	assert.Equal(t, 250*time.Millisecond, c.PendingRetryDelay)
	assert.Equal(t, map[string]string{"direct": "abc", "metrika": "xyz"}, c.IntegrationTokens)

	t.Setenv("API_TIMEOUT", "soon")
	_, err = FromEnv()
	assert.Error(t, err)
}

const weekly = `
name: weekly
config:
  period:
    type: last_7_days
  sources:
    - id: direct
      type: direct
      campaign_ids: [42, 43]
      direct_fields: [CampaignId, Clicks, Impressions]
    - id: metrika
      type: metrika
      counter_id: 777
      dimensions: [lastDirectClickOrder]
      source_transformations:
        - type: filter
          column: visits
          operator: gt
          value: 0
  transformations:
    - type: join
      left: direct
      right: metrika
      on: campaign_id
    - type: calculate
      formula: clicks / impressions
      output_column: ctr
  export:
    type: csv
    sheet_name: Weekly
`

func TestLoadReportYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weekly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(weekly), 0o644))

	r, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "weekly", r.Name)

	cfg := r.Config
	assert.Equal(t, models.PeriodConfig{Type: "last_7_days"}, cfg.Period)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, []int64{42, 43}, cfg.Sources[0].CampaignIDs)
	assert.Equal(t, int64(777), cfg.Sources[1].CounterID)
	assert.Equal(t, &transform.Filter{Column: "visits", Operator: "gt", Value: 0.0}, cfg.Sources[1].Transformations[0])
	assert.Equal(t, &transform.Join{Left: "direct", Right: "metrika", On: "campaign_id"}, cfg.Transformations[0])
	assert.Equal(t, &transform.Calculate{Formula: "clicks / impressions", OutputColumn: "ctr"}, cfg.Transformations[1])
	assert.Equal(t, "Weekly", cfg.Export.SheetName)
}

func TestLoadReportBareJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily.json")
	body := `{"period":{"type":"custom","date_from":"2025-08-01","date_to":"2025-08-02"},"sources":[{"id":"d","type":"direct"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	r, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "daily", r.Name)
	assert.Equal(t, "2025-08-02", r.Config.Period.DateTo)
	assert.Equal(t, models.SourceDirect, r.Config.Sources[0].Type)
}

func TestLoadReportErrors(t *testing.T) {
	_, err := LoadReport(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading report file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: {id: [}"), 0o644))
	_, err = LoadReport(path)
	assert.ErrorContains(t, err, "parsing report file")
}
