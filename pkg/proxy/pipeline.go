package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veilproxy/veilproxy/pkg/config"
	"github.com/veilproxy/veilproxy/pkg/detect"
	"github.com/veilproxy/veilproxy/pkg/mask"
	"github.com/veilproxy/veilproxy/pkg/telemetry"
)

// Pipeline runs the full masking flow for one direction: detect entities
// in every text segment, resolve conflicts, and splice in placeholders.
// It is stateless across requests; each request gets its own mask.Context.
type Pipeline struct {
	detector detect.Detector
	secrets  *detect.SecretMatcher
	chunker  *mask.Chunker
	language string
	format   mask.Format
	unmask   mask.UnmaskConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// PipelineConfig collects the pieces a Pipeline needs.
type PipelineConfig struct {
	Detector detect.Detector
	Secrets  *detect.SecretMatcher
	Language string
	Masking  config.MaskingConfig
	Logger   *slog.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Detector == nil {
		return nil, fmt.Errorf("proxy: pipeline needs a detector")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		detector: cfg.Detector,
		secrets:  cfg.Secrets,
		language: cfg.Language,
		format:   cfg.Masking.Format(),
		unmask: mask.UnmaskConfig{
			ShowMarkers: cfg.Masking.ShowMarkers,
			MarkerText:  cfg.Masking.MarkerText,
		},
		logger: logger,
		tracer: otel.Tracer("veilproxy.pipeline"),
	}

	chunker, err := mask.NewChunker(cfg.Masking.ChunkWindow, cfg.Masking.ChunkOverlap, p.detectWindow)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	p.chunker = chunker
	return p, nil
}

// NewContext creates the placeholder ledger for one request.
func (p *Pipeline) NewContext() *mask.Context {
	return mask.NewContext(p.format)
}

// detectWindow is the chunker callback for a single window of text.
func (p *Pipeline) detectWindow(ctx context.Context, text string) ([]mask.Span, error) {
	return p.detector.Detect(ctx, text, p.language)
}

// DetectText finds all sensitive spans in one segment of text, combining
// regex secret matches with the entity detector and resolving conflicts.
// A detector failure is returned as-is so callers refuse to forward the
// text rather than treating it as clean.
func (p *Pipeline) DetectText(ctx context.Context, text string) ([]mask.Span, error) {
	if text == "" {
		return nil, nil
	}

	start := time.Now()
	spans, err := p.chunker.Detect(ctx, text)
	telemetry.RecordDetectorFanout(ctx, len(p.chunker.Windows(text)), time.Since(start))
	if err != nil {
		return nil, err
	}

	if p.secrets != nil {
		secretSpans := mask.ResolveOverlaps(p.secrets.Detect(text))
		spans = append(spans, secretSpans...)
	}

	resolved := mask.ResolveConflicts(spans)
	if len(resolved) > 0 {
		p.logger.Debug("sensitive spans found",
			slog.Int("raw", len(spans)),
			slog.Int("resolved", len(resolved)),
		)
	}
	return resolved, nil
}

// MaskRequest masks every text part of the parsed request in place, using
// (and growing) the given context. It returns the number of placeholders
// added during this pass.
func (p *Pipeline) MaskRequest(ctx context.Context, req *chatRequest, mctx *mask.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.mask_request")
	defer span.End()

	views := req.maskViews()
	span.SetAttributes(attribute.Int("mask.messages", len(views)))

	spansPerMessage := make([][]mask.Span, len(views))
	for i, view := range views {
		offset := 0
		for _, part := range view.Parts {
			if part.Opaque {
				continue
			}
			spans, err := p.DetectText(ctx, part.Text)
			if err != nil {
				return 0, err
			}
			for _, s := range spans {
				s.Start += offset
				s.End += offset
				spansPerMessage[i] = append(spansPerMessage[i], s)
			}
			offset += len([]rune(part.Text))
		}
	}

	before := mctx.Len()
	masked, _, err := mask.MaskMessages(views, spansPerMessage, mctx)
	if err != nil {
		return 0, err
	}
	if err := req.applyMasked(masked); err != nil {
		return 0, err
	}

	added := mctx.Len() - before
	span.SetAttributes(attribute.Int("mask.placeholders", added))
	telemetry.RecordMask(ctx, telemetry.MaskMetrics{
		Direction:    "request",
		Messages:     len(views),
		Placeholders: added,
	})
	return added, nil
}

// UnmaskText restores original values in a complete (non-streaming)
// response body fragment.
func (p *Pipeline) UnmaskText(text string, mctx *mask.Context) string {
	return mask.Unmask(text, mctx, p.unmask)
}

// NewStreamBuffer returns a buffer that incrementally unmasks streamed
// deltas against the request's context.
func (p *Pipeline) NewStreamBuffer(mctx *mask.Context) *mask.StreamBuffer {
	return mask.NewStreamBuffer(mctx, p.unmask)
}

// holdsPlaceholder reports whether text still contains an unresolved
// placeholder prefix, used only for debug logging.
func (p *Pipeline) holdsPlaceholder(text string) bool {
	return strings.Contains(text, p.format.Prefix)
}
