package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilproxy/veilproxy/pkg/mask"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veilproxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
upstream:
  base_url: https://api.openai.com
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.ListenAddress)
	assert.Equal(t, "en", cfg.Detector.Language)
	assert.Equal(t, StyleAngle, cfg.Masking.Style)
	assert.Equal(t, 4000, cfg.Masking.ChunkWindow)
	assert.Equal(t, 200, cfg.Masking.ChunkOverlap)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, mask.DefaultFormat, cfg.Masking.Format())
}

func TestLoad_FileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  listen_address: ":9999"
upstream:
  base_url: http://llm.internal:8000
  timeout_seconds: 30
detector:
  analyzer_url: http://presidio:5002/analyze
  score_threshold: 0.7
masking:
  style: double-bracket
  show_markers: true
  marker_text: "[pii] "
  secret_rules:
    - name: INTERNAL_TOKEN
      pattern: "tok_[a-z0-9]{24}"
logging:
  level: debug
telemetry:
  otlp_endpoint: otel:4317
  insecure: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddress)
	assert.Equal(t, "http://llm.internal:8000", cfg.Upstream.BaseURL)
	assert.InDelta(t, 0.7, cfg.Detector.ScoreThreshold, 1e-9)
	assert.Equal(t, mask.BracketFormat, cfg.Masking.Format())
	assert.True(t, cfg.Masking.ShowMarkers)
	require.Len(t, cfg.Masking.Rules(), 1)
	assert.Equal(t, "INTERNAL_TOKEN", cfg.Masking.Rules()[0].Name)
	assert.Equal(t, "otel:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VEILPROXY_LISTEN_ADDR", ":7070")
	t.Setenv("VEILPROXY_UPSTREAM_URL", "https://llm.example.com")
	t.Setenv("VEILPROXY_PLACEHOLDER_STYLE", "double-bracket")
	t.Setenv("VEILPROXY_SCORE_THRESHOLD", "0.9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddress)
	assert.Equal(t, "https://llm.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, StyleDoubleBracket, cfg.Masking.Style)
	assert.InDelta(t, 0.9, cfg.Detector.ScoreThreshold, 1e-9)
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := map[string]string{
		"missing upstream": `
server:
  listen_address: ":1"
`,
		"bad scheme": `
upstream:
  base_url: ftp://wrong
`,
		"bad style": `
upstream:
  base_url: http://ok
masking:
  style: curly
`,
		"overlap >= window": `
upstream:
  base_url: http://ok
masking:
  chunk_window: 100
  chunk_overlap: 100
`,
		"threshold out of range": `
upstream:
  base_url: http://ok
detector:
  score_threshold: 1.5
`,
		"nameless secret rule": `
upstream:
  base_url: http://ok
masking:
  secret_rules:
    - pattern: "x+"
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloads := make(chan *Config, 4)
	w, err := NewWatcher(path, nil, func(cfg *Config) { reloads <- cfg })
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	require.NoError(t, os.WriteFile(path, []byte(`
upstream:
  base_url: https://changed.example.com
`), 0o600))

	select {
	case cfg := <-reloads:
		assert.Equal(t, "https://changed.example.com", cfg.Upstream.BaseURL)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_InvalidSnapshotSkipped(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloads := make(chan *Config, 4)
	w, err := NewWatcher(path, nil, func(cfg *Config) { reloads <- cfg })
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	// Invalid: upstream removed.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_address: ':1'\n"), 0o600))

	select {
	case cfg := <-reloads:
		t.Fatalf("invalid config must not be delivered, got %+v", cfg)
	case <-time.After(1 * time.Second):
	}
}
