package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcb-inspect/internal/alignment"
	"pcb-inspect/internal/board"
	"pcb-inspect/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcbinspect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.True(t, cfg.Store.Enabled())
	assert.Equal(t, alignment.DefaultStrategies, cfg.Alignment.Strategies)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: 9090
alignment:
  strategies: [circle, edge]
  edge:
    bottom_offset: 12
decision:
  missing_critical: 2
detector:
  url: http://detector:9000/detect
  timeout: 2s
ocr:
  engine: none
store:
  driver: none
`)
	l := NewLoader(viper.New())
	cfg, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, l.ConfigFileUsed())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"circle", "edge"}, cfg.Alignment.Strategies)
	assert.Equal(t, 12.0, cfg.Alignment.Edge.BottomOffset)
	assert.Equal(t, alignment.DefaultEdgeThresholdRight, int(cfg.Alignment.Edge.ThresholdRight))
	assert.Equal(t, 2, cfg.Decision.MissingCritical)
	assert.Equal(t, 5, cfg.Decision.MisplacedCritical)
	assert.Equal(t, 2*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, OCREngineNone, cfg.OCR.Engine)
	assert.False(t, cfg.Store.Enabled())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader(viper.New()).Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.InDelta(t, alignment.DefaultBottomEdgeOffset, cfg.Alignment.Edge.BottomOffset, 1e-9)
	assert.Equal(t, board.GreenSubstrate(), cfg.Alignment.Contour.Substrate)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PCBINSPECT_SERVER_PORT", "7070")
	t.Setenv("PCBINSPECT_VERIFY_POSITION_THRESHOLD", "35.5")

	cfg, err := NewLoader(viper.New()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 35.5, cfg.Verify.PositionThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(viper.New()).Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoadInvalid(t *testing.T) {
	path := writeConfig(t, "ocr:\n  engine: abbyy\n")
	_, err := NewLoader(viper.New()).Load(path)
	assert.ErrorContains(t, err, "ocr.engine")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max_upload_mb"},
		{"strategy", func(c *Config) { c.Alignment.Strategies = []string{"contour_offset", "sift"} }, "sift"},
		{"template strategy", func(c *Config) { c.Alignment.Strategies = []string{alignment.StrategyTemplate} }, "alignment.strategies"},
		{"match method", func(c *Config) { c.Alignment.Template.Method = "sqdiff" }, "alignment.template.method"},
		{"template threshold", func(c *Config) { c.Alignment.Template.Threshold = 1.5 }, "alignment.template.threshold"},
		{"area fraction", func(c *Config) { c.Alignment.Contour.MinAreaFraction = 0 }, "min_area_fraction"},
		{"visibility", func(c *Config) { c.Alignment.Visibility.RatioMax = 0.5 }, "alignment.visibility"},
		{"position", func(c *Config) { c.Verify.PositionThreshold = 0 }, "verify.position_threshold"},
		{"confidence", func(c *Config) { c.Verify.ConfidenceThreshold = -0.1 }, "verify.confidence_threshold"},
		{"policy", func(c *Config) { c.Decision.CombinedCritical = 0 }, "decision"},
		{"ocr url", func(c *Config) { c.OCR.Engine = OCREngineHTTP }, "ocr.url"},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"store dsn", func(c *Config) { c.Store.Driver = store.DriverPostgres; c.Store.DSN = "" }, "store.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.OCR.Engine = "x"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "ocr.engine")
}
