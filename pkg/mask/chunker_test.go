package mask

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// indexDetector reports every occurrence of needle in the window it is
// given, in window-local rune offsets.
func indexDetector(needle, entityType string) DetectFunc {
	return func(_ context.Context, text string) ([]Span, error) {
		var spans []Span
		runes := []rune(text)
		n := len([]rune(needle))
		for i := 0; i+n <= len(runes); i++ {
			if string(runes[i:i+n]) == needle {
				spans = append(spans, Span{Type: entityType, Start: i, End: i + n, Score: 0.9, Scored: true})
			}
		}
		return spans, nil
	}
}

func TestChunker_Windows(t *testing.T) {
	c, err := NewChunker(10, 4, indexDetector("x", "X"))
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := strings.Repeat("a", 23)
	windows := c.Windows(text)

	// Step 6: starts at 0, 6, 12, 18; last window reaches the end.
	wantStarts := []int{0, 6, 12, 18}
	if len(windows) != len(wantStarts) {
		t.Fatalf("expected %d windows, got %d", len(wantStarts), len(windows))
	}
	for i, w := range windows {
		if w.Start != wantStarts[i] {
			t.Fatalf("window %d start = %d, want %d", i, w.Start, wantStarts[i])
		}
		if i < len(windows)-1 && len(w.Text) != 10 {
			t.Fatalf("window %d should be full length, got %d", i, len(w.Text))
		}
	}
	if last := windows[len(windows)-1]; last.Start+len([]rune(last.Text)) != 23 {
		t.Fatalf("last window must end at the text end")
	}
}

func TestChunker_SmallTextSingleDirectCall(t *testing.T) {
	var calls atomic.Int32
	detect := func(ctx context.Context, text string) ([]Span, error) {
		calls.Add(1)
		return indexDetector("bob", "PERSON")(ctx, text)
	}

	c, err := NewChunker(100, 10, detect)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	spans, err := c.Detect(context.Background(), "hello bob")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("text under the window must use one direct call, got %d", calls.Load())
	}
	if len(spans) != 1 || spans[0].Start != 6 {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}

func TestChunker_GlobalOffsetsAndOverlapDedupe(t *testing.T) {
	// "bob" appears near a window boundary so the overlap region makes
	// both neighbouring windows see it.
	text := strings.Repeat(".", 14) + "bob" + strings.Repeat(".", 23)
	c, err := NewChunker(20, 8, indexDetector("bob", "PERSON"))
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	spans, err := c.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("duplicate overlap detections must collapse to one, got %+v", spans)
	}
	if spans[0].Start != 14 || spans[0].End != 17 {
		t.Fatalf("span not shifted to global coordinates: %+v", spans[0])
	}
}

func TestChunker_NoEntityInsideAWindowIsLost(t *testing.T) {
	// Entities scattered across several windows, including one straddling
	// a step boundary that only the overlap makes visible.
	text := "bob " + strings.Repeat("-", 12) + "bob" + strings.Repeat("-", 20) + " bob"
	c, err := NewChunker(16, 6, indexDetector("bob", "PERSON"))
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	spans, err := c.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected all 3 entities, got %+v", spans)
	}
	runes := []rune(text)
	for _, s := range spans {
		if string(runes[s.Start:s.End]) != "bob" {
			t.Fatalf("span %+v does not cover an entity", s)
		}
	}
}

func TestChunker_DetectorFailureFailsWholeDetection(t *testing.T) {
	boom := errors.New("analyzer down")
	var calls atomic.Int32
	detect := func(ctx context.Context, text string) ([]Span, error) {
		if calls.Add(1) == 2 {
			return nil, boom
		}
		return nil, nil
	}

	c, err := NewChunker(10, 2, detect)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	spans, err := c.Detect(context.Background(), strings.Repeat("z", 50))
	if !errors.Is(err, boom) {
		t.Fatalf("expected the detector error to surface, got %v", err)
	}
	if spans != nil {
		t.Fatalf("no partial span set on failure, got %+v", spans)
	}
}

func TestNewChunker_RejectsBadGeometry(t *testing.T) {
	detect := indexDetector("x", "X")
	if _, err := NewChunker(0, 0, detect); err == nil {
		t.Fatalf("zero window must be rejected")
	}
	if _, err := NewChunker(10, 10, detect); err == nil {
		t.Fatalf("overlap >= window must be rejected")
	}
	if _, err := NewChunker(10, -1, detect); err == nil {
		t.Fatalf("negative overlap must be rejected")
	}
	if _, err := NewChunker(10, 2, nil); err == nil {
		t.Fatalf("nil detector must be rejected")
	}
}
