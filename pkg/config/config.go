// Package config provides configuration structures and loading logic for
// the proxy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veilproxy/veilproxy/pkg/detect"
	"github.com/veilproxy/veilproxy/pkg/mask"
)

// Placeholder styles accepted by MaskingConfig.Style.
const (
	StyleAngle         = "angle"
	StyleDoubleBracket = "double-bracket"
)

// Config holds the global configuration for the proxy.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Detector  DetectorConfig  `yaml:"detector"`
	Masking   MaskingConfig   `yaml:"masking"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds configuration for the HTTP listener.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// UpstreamConfig describes the LLM provider the proxy forwards to.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DetectorConfig holds configuration for the entity analyzer.
type DetectorConfig struct {
	AnalyzerURL    string   `yaml:"analyzer_url"`
	Language       string   `yaml:"language"`
	Entities       []string `yaml:"entities"`
	ScoreThreshold float64  `yaml:"score_threshold"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// SecretRuleConfig declares one secret pattern in the config file.
type SecretRuleConfig struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// MaskingConfig controls placeholder rendering and the chunker geometry.
type MaskingConfig struct {
	// Style selects the placeholder delimiters: "angle" (<TYPE_N>) or
	// "double-bracket" ([[TYPE_N]]) for HTML-rendered deployments.
	Style       string `yaml:"style"`
	ShowMarkers bool   `yaml:"show_markers"`
	MarkerText  string `yaml:"marker_text"`

	// ChunkWindow/ChunkOverlap split oversized text (in runes) before
	// dispatching it to the analyzer.
	ChunkWindow  int `yaml:"chunk_window"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// SecretRules replaces the builtin secret patterns when non-empty.
	SecretRules []SecretRuleConfig `yaml:"secret_rules"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:   ServerConfig{ListenAddress: ":8090"},
		Upstream: UpstreamConfig{TimeoutSeconds: 120},
		Detector: DetectorConfig{
			Language:       "en",
			ScoreThreshold: 0.4,
			TimeoutSeconds: 5,
		},
		Masking: MaskingConfig{
			Style:        StyleAngle,
			ChunkWindow:  4000,
			ChunkOverlap: 200,
		},
		Logging: LoggingConfig{Level: "info"},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("VEILPROXY_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("VEILPROXY_UPSTREAM_URL"); val != "" {
		cfg.Upstream.BaseURL = val
	}
	if val := os.Getenv("VEILPROXY_ANALYZER_URL"); val != "" {
		cfg.Detector.AnalyzerURL = val
	}
	if val := os.Getenv("VEILPROXY_LANGUAGE"); val != "" {
		cfg.Detector.Language = val
	}
	if val := os.Getenv("VEILPROXY_SCORE_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Detector.ScoreThreshold = f
		}
	}
	if val := os.Getenv("VEILPROXY_PLACEHOLDER_STYLE"); val != "" {
		cfg.Masking.Style = val
	}
	if val := os.Getenv("VEILPROXY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("VEILPROXY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("VEILPROXY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL, got %q", c.Upstream.BaseURL)
	}
	switch c.Masking.Style {
	case StyleAngle, StyleDoubleBracket:
	default:
		return fmt.Errorf("masking.style must be %q or %q, got %q", StyleAngle, StyleDoubleBracket, c.Masking.Style)
	}
	if c.Masking.ChunkWindow <= 0 {
		return fmt.Errorf("masking.chunk_window must be positive, got %d", c.Masking.ChunkWindow)
	}
	if c.Masking.ChunkOverlap < 0 || c.Masking.ChunkOverlap >= c.Masking.ChunkWindow {
		return fmt.Errorf("masking.chunk_overlap %d must be in [0, chunk_window %d)", c.Masking.ChunkOverlap, c.Masking.ChunkWindow)
	}
	if c.Detector.ScoreThreshold < 0 || c.Detector.ScoreThreshold > 1 {
		return fmt.Errorf("detector.score_threshold must be in [0, 1], got %v", c.Detector.ScoreThreshold)
	}
	for _, rule := range c.Masking.SecretRules {
		if strings.TrimSpace(rule.Name) == "" || strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("masking.secret_rules entries need both name and pattern")
		}
	}
	return nil
}

// Format returns the placeholder format selected by the masking style.
func (m MaskingConfig) Format() mask.Format {
	if m.Style == StyleDoubleBracket {
		return mask.BracketFormat
	}
	return mask.DefaultFormat
}

// Rules converts the configured secret rules to the detector's type,
// falling back to the builtins when none are configured.
func (m MaskingConfig) Rules() []detect.SecretRule {
	if len(m.SecretRules) == 0 {
		return detect.DefaultSecretRules()
	}
	rules := make([]detect.SecretRule, len(m.SecretRules))
	for i, r := range m.SecretRules {
		rules[i] = detect.SecretRule{Name: r.Name, Pattern: r.Pattern}
	}
	return rules
}
