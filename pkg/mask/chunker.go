package mask

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DetectFunc is the external entity detector contract: it returns sensitive
// spans for the given text in rune offsets. Timeout and cancellation policy
// belong to the caller's ctx; the chunker never retries internally.
type DetectFunc func(ctx context.Context, text string) ([]Span, error)

// Chunker splits text exceeding a window size into overlapping windows,
// dispatches each window to the detector in parallel, shifts the returned
// spans back into global coordinates, and collapses duplicates detected
// redundantly in the overlap regions. The overlap margin keeps an entity
// that sits on a window boundary fully visible in at least one window.
type Chunker struct {
	window  int
	overlap int
	detect  DetectFunc
}

// Window is a substring of the original text plus its offset in the
// original rune coordinate space.
type Window struct {
	Text  string
	Start int
}

// NewChunker validates the window geometry. The overlap must be smaller
// than the window or stepping would never advance.
func NewChunker(window, overlap int, detect DetectFunc) (*Chunker, error) {
	if detect == nil {
		return nil, fmt.Errorf("mask: chunker requires a detector")
	}
	if window <= 0 {
		return nil, fmt.Errorf("mask: chunker window must be positive, got %d", window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("mask: chunker overlap %d must be in [0, window %d)", overlap, window)
	}
	return &Chunker{window: window, overlap: overlap, detect: detect}, nil
}

// Windows splits text into overlapping windows starting at multiples of
// window-overlap. The final window ends exactly at the end of the text.
func (c *Chunker) Windows(text string) []Window {
	runes := []rune(text)
	if len(runes) <= c.window {
		return []Window{{Text: text, Start: 0}}
	}

	step := c.window - c.overlap
	var windows []Window
	for start := 0; ; start += step {
		end := start + c.window
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, Window{Text: string(runes[start:end]), Start: start})
		if end == len(runes) {
			return windows
		}
	}
}

// Detect runs the detector over text, fanning out one call per window for
// oversized input. Results land in per-window slots and are merged by the
// caller's goroutine after all windows finish, so the outcome does not
// depend on completion order. The first window error cancels the remaining
// calls and fails the whole detection; no partial span set is ever
// returned, because silently degrading to "nothing found" would be a
// privacy failure.
func (c *Chunker) Detect(ctx context.Context, text string) ([]Span, error) {
	if len([]rune(text)) <= c.window {
		return c.detect(ctx, text)
	}

	windows := c.Windows(text)
	results := make([][]Span, len(windows))
	errs := make([]error, len(windows))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w Window) {
			defer wg.Done()
			spans, err := c.detect(ctx, w.Text)
			if err != nil {
				errs[i] = err
				cancel()
				return
			}
			shifted := make([]Span, len(spans))
			for j, s := range spans {
				s.Start += w.Start
				s.End += w.Start
				shifted[j] = s
			}
			results[i] = shifted
		}(i, w)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("mask: window %d detection failed: %w", i, err)
		}
	}

	var merged []Span
	for _, r := range results {
		merged = append(merged, r...)
	}
	return dedupeWindowSpans(merged), nil
}

// dedupeWindowSpans collapses same-type overlapping spans produced by
// neighbouring windows, keeping the longer span or, on a length tie, the
// higher-scored one. This runs before conflict resolution, which then
// operates on the deduplicated global set.
func dedupeWindowSpans(spans []Span) []Span {
	if len(spans) <= 1 {
		return spans
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})

	lastOfType := make(map[string]int)
	kept := make([]Span, 0, len(spans))
	for _, s := range spans {
		idx, seen := lastOfType[s.Type]
		if seen && kept[idx].overlaps(s) {
			if better(s, kept[idx]) {
				kept[idx] = s
			}
			continue
		}
		lastOfType[s.Type] = len(kept)
		kept = append(kept, s)
	}
	return kept
}

func better(a, b Span) bool {
	la, lb := a.End-a.Start, b.End-b.Start
	if la != lb {
		return la > lb
	}
	return a.Score > b.Score
}
