package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veilproxy/veilproxy/pkg/detect"
	"github.com/veilproxy/veilproxy/pkg/mask"
	"github.com/veilproxy/veilproxy/pkg/telemetry"
)

const maxRequestBody = 10 << 20

// doneMarker terminates an OpenAI-style SSE stream.
const doneMarker = "[DONE]"

// hopHeaders are never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler proxies chat completion requests: it masks request messages,
// forwards them upstream, and unmasks the response before returning it.
type Handler struct {
	pipeline *Pipeline
	metrics  *Metrics
	logger   *slog.Logger
	upstream *url.URL
	client   *http.Client
}

// HandlerConfig collects the handler's collaborators.
type HandlerConfig struct {
	Pipeline    *Pipeline
	Metrics     *Metrics
	Logger      *slog.Logger
	UpstreamURL string
	Client      *http.Client
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("proxy: handler needs a pipeline")
	}
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid upstream URL: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Handler{
		pipeline: cfg.Pipeline,
		metrics:  metrics,
		logger:   logger,
		upstream: upstream,
		client:   client,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "only POST is supported")
		return
	}

	start := time.Now()
	release := h.metrics.TrackInFlight()
	defer release()

	requestID := uuid.NewString()
	logger := h.logger.With(slog.String("request_id", requestID))
	w.Header().Set("X-Request-Id", requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.metrics.RecordRequest("unknown", "read_error", time.Since(start))
		writeError(w, http.StatusBadRequest, "invalid_request_error", "could not read request body")
		return
	}

	req, err := parseRequest(body)
	if err != nil {
		h.metrics.RecordRequest("unknown", "parse_error", time.Since(start))
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	mode := "batch"
	if req.stream {
		mode = "stream"
	}

	mctx := h.pipeline.NewContext()
	placeholders, err := h.pipeline.MaskRequest(r.Context(), req, mctx)
	if err != nil {
		h.metrics.RecordRequest(mode, "mask_error", time.Since(start))
		if errors.Is(err, detect.ErrUnavailable) {
			logger.Error("entity detector unavailable", slog.Any("error", err))
			writeError(w, http.StatusBadGateway, "detector_error", "entity detection unavailable")
			return
		}
		logger.Error("masking failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "masking_error", "request could not be masked")
		return
	}
	h.metrics.RecordMaskedEntities(mctx.Counts())
	logger.Info("request masked",
		slog.String("mode", mode),
		slog.Int("messages", len(req.messages)),
		slog.Int("placeholders", placeholders),
	)

	maskedBody, err := req.render()
	if err != nil {
		h.metrics.RecordRequest(mode, "render_error", time.Since(start))
		logger.Error("request rendering failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal_error", "request could not be rebuilt")
		return
	}

	resp, err := h.forward(r, maskedBody, requestID)
	if err != nil {
		h.metrics.RecordUpstreamError("unreachable")
		h.metrics.RecordRequest(mode, "upstream_unreachable", time.Since(start))
		logger.Error("upstream request failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream is unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.metrics.RecordUpstreamError("status_" + fmt.Sprint(resp.StatusCode))
		h.metrics.RecordRequest(mode, "upstream_error", time.Since(start))
		h.passThrough(w, resp)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if req.stream && strings.HasPrefix(contentType, "text/event-stream") {
		h.serveStream(w, r, resp, mctx, logger)
	} else {
		h.serveBatch(w, resp, mctx, logger)
	}
	h.metrics.RecordRequest(mode, "ok", time.Since(start))
}

// forward sends the masked body upstream, preserving the original path and
// end-to-end headers.
func (h *Handler) forward(r *http.Request, body []byte, requestID string) (*http.Response, error) {
	target := *h.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + r.URL.Path
	target.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	copyHeaders(out.Header, r.Header)
	out.Header.Set("Content-Type", "application/json")
	out.Header.Set("X-Request-Id", requestID)
	out.ContentLength = int64(len(body))

	start := time.Now()
	resp, err := h.client.Do(out)
	if err != nil {
		return nil, err
	}
	h.metrics.RecordUpstream(resp.StatusCode, time.Since(start))
	return resp, nil
}

// serveBatch unmasks a complete response body. A body that does not parse
// as a chat completion is passed through unchanged; in the worst case the
// client sees placeholders, never someone else's originals.
func (h *Handler) serveBatch(w http.ResponseWriter, resp *http.Response, mctx *mask.Context, logger *slog.Logger) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("reading upstream response failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream response truncated")
		return
	}

	parsed, err := parseResponse(body)
	if err != nil {
		logger.Warn("upstream response not parseable, passing through", slog.Any("error", err))
		writeBody(w, resp, body)
		return
	}

	parsed.rewriteContent(func(text string) string {
		return h.pipeline.UnmaskText(text, mctx)
	})
	rendered, err := parsed.render()
	if err != nil {
		logger.Warn("response rendering failed, passing through", slog.Any("error", err))
		writeBody(w, resp, body)
		return
	}

	for _, choice := range parsed.choices {
		if choice.hasText && h.pipeline.holdsPlaceholder(choice.content) {
			logger.Debug("response retains placeholder-like text after unmasking")
			break
		}
	}

	telemetry.RecordMask(resp.Request.Context(), telemetry.MaskMetrics{
		Direction: "response",
		Messages:  len(parsed.choices),
	})
	writeBody(w, resp, rendered)
}

// serveStream rewrites SSE delta events as they arrive. Each choice index
// gets its own buffer so interleaved choices cannot corrupt one another's
// partial placeholders.
func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request, resp *http.Response, mctx *mask.Context, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	reader := newSSEReader(resp.Body)
	buffers := map[int]*mask.StreamBuffer{}
	var lastFields map[string]json.RawMessage
	flushed := false

	flushAll := func() {
		indexes := make([]int, 0, len(buffers))
		for i := range buffers {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tail := buffers[i].Flush()
			if tail == "" {
				continue
			}
			data, err := flushChunk(lastFields, i, tail)
			if err != nil {
				logger.Warn("flush chunk rendering failed", slog.Any("error", err))
				continue
			}
			w.Write(encodeSSEEvent(&sseEvent{Data: string(data)}))
			h.metrics.RecordStreamFlush()
			telemetry.RecordStreamFlush(r.Context())
		}
		flusher.Flush()
		flushed = true
	}

	for {
		ev, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("upstream stream failed", slog.Any("error", err))
			}
			break
		}

		if ev.Data == doneMarker {
			flushAll()
			w.Write(encodeSSEEvent(ev))
			flusher.Flush()
			continue
		}

		chunk, err := parseStreamChunk([]byte(ev.Data))
		if err != nil {
			w.Write(encodeSSEEvent(ev))
			flusher.Flush()
			continue
		}
		lastFields = chunk.fields

		for _, choice := range chunk.choices {
			if !choice.hasText {
				continue
			}
			buf, ok := buffers[choice.index]
			if !ok {
				buf = h.pipeline.NewStreamBuffer(mctx)
				buffers[choice.index] = buf
			}
			choice.content = buf.Consume(choice.content)
		}

		data, err := chunk.render()
		if err != nil {
			logger.Warn("stream chunk rendering failed", slog.Any("error", err))
			w.Write(encodeSSEEvent(ev))
			flusher.Flush()
			continue
		}
		ev.Data = string(data)
		w.Write(encodeSSEEvent(ev))
		h.metrics.RecordStreamChunk()
		flusher.Flush()
	}

	// Upstream ended without a terminator. Still drain the buffers so no
	// held-back text is silently dropped.
	if !flushed && lastFields != nil {
		flushAll()
	}
}

// passThrough copies an upstream error response verbatim.
func (h *Handler) passThrough(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeBody(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, key := range hopHeaders {
		dst.Del(key)
	}
	dst.Del("Content-Length")
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}
