package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/veilproxy/veilproxy/pkg/mask"
)

// DefaultEntities is the analyzer entity set requested when none is
// configured.
var DefaultEntities = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD",
	"US_SSN", "IBAN_CODE", "IP_ADDRESS", "LOCATION",
}

// PresidioClient calls a Presidio-style analyzer service over HTTP. The
// analyzer reports entities as code-point offsets with a confidence score,
// which map directly onto scored spans.
type PresidioClient struct {
	analyzerURL string
	entities    []string
	threshold   float64
	client      *http.Client
	logger      *slog.Logger
}

// PresidioConfig configures a PresidioClient.
type PresidioConfig struct {
	AnalyzerURL string
	Entities    []string
	// ScoreThreshold drops detections below this confidence.
	ScoreThreshold float64
	Timeout        time.Duration
}

// NewPresidioClient constructs an analyzer client. The HTTP transport is
// wrapped with otelhttp so analyzer calls show up in traces.
func NewPresidioClient(cfg PresidioConfig, logger *slog.Logger) *PresidioClient {
	if logger == nil {
		logger = slog.Default()
	}
	entities := cfg.Entities
	if len(entities) == 0 {
		entities = DefaultEntities
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PresidioClient{
		analyzerURL: cfg.AnalyzerURL,
		entities:    entities,
		threshold:   cfg.ScoreThreshold,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Detect sends text to the analyzer and returns scored spans at or above
// the configured threshold.
func (c *PresidioClient) Detect(ctx context.Context, text, language string) ([]mask.Span, error) {
	if text == "" {
		return nil, nil
	}
	if language == "" {
		language = "en"
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Language: language, Entities: c.entities})
	if err != nil {
		return nil, fmt.Errorf("detect: encode analyzer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzerURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detect: build analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: analyzer returned %d: %s", ErrUnavailable, resp.StatusCode, payload)
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("detect: decode analyzer response: %w", err)
	}

	spans := make([]mask.Span, 0, len(results))
	for _, r := range results {
		if r.Score < c.threshold {
			continue
		}
		spans = append(spans, mask.Span{
			Type:   r.EntityType,
			Start:  r.Start,
			End:    r.End,
			Score:  r.Score,
			Scored: true,
		})
	}
	c.logger.Debug("analyzer detection complete", "entities", len(spans), "dropped", len(results)-len(spans))
	return spans, nil
}
