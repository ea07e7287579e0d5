package mask

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func emailContext(t *testing.T) *Context {
	t.Helper()
	_, ctx, err := Mask("test@test.com", []Span{{Type: "EMAIL_ADDRESS", Start: 0, End: 13}}, nil)
	if err != nil {
		t.Fatalf("mask failed: %v", err)
	}
	return ctx
}

func TestStreamBuffer_PlaceholderSplitAcrossChunks(t *testing.T) {
	ctx := emailContext(t)
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("Hello "); out != "Hello " {
		t.Fatalf("chunk 1 output wrong: %q", out)
	}
	if out := buf.Consume("<EMAIL_ADD"); out != "" {
		t.Fatalf("partial placeholder must be held back, got %q", out)
	}
	if got := buf.Buffered(); got != "<EMAIL_ADD" {
		t.Fatalf("buffer after chunk 2 wrong: %q", got)
	}
	if out := buf.Consume("RESS_1> there"); out != "test@test.com there" {
		t.Fatalf("chunk 3 output wrong: %q", out)
	}
	if buf.Buffered() != "" {
		t.Fatalf("buffer should be empty, got %q", buf.Buffered())
	}
}

func TestStreamBuffer_FlushEmitsUnterminatedFragment(t *testing.T) {
	ctx := emailContext(t)
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("tail <EMAIL"); out != "tail " {
		t.Fatalf("safe prefix should be emitted, got %q", out)
	}
	if out := buf.Flush(); out != "<EMAIL" {
		t.Fatalf("flush must emit the fragment literally, got %q", out)
	}
	if buf.Buffered() != "" {
		t.Fatalf("flush must drain the buffer")
	}
}

func TestStreamBuffer_CompleteTokenPassesStraightThrough(t *testing.T) {
	ctx := emailContext(t)
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("hi <EMAIL_ADDRESS_1> bye"); out != "hi test@test.com bye" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestStreamBuffer_SecondOpenerAfterClosedToken(t *testing.T) {
	ctx := emailContext(t)
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("<EMAIL_ADDRESS_1> and <EMA"); out != "test@test.com and " {
		t.Fatalf("unexpected output: %q", out)
	}
	if buf.Buffered() != "<EMA" {
		t.Fatalf("trailing opener must be held, got %q", buf.Buffered())
	}
	if out := buf.Consume("IL_ADDRESS_1>"); out != "test@test.com" {
		t.Fatalf("held token must complete, got %q", out)
	}
}

func TestStreamBuffer_BracketFormat(t *testing.T) {
	ctx := NewContext(BracketFormat)
	if _, _, err := Mask("al@b.io", []Span{{Type: "EMAIL_ADDRESS", Start: 0, End: 7}}, ctx); err != nil {
		t.Fatalf("mask failed: %v", err)
	}
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("x [[EMAIL_ADD"); out != "x " {
		t.Fatalf("partial bracket token must be held, got %q", out)
	}
	if out := buf.Consume("RESS_1]] y"); out != "al@b.io y" {
		t.Fatalf("bracket token must restore, got %q", out)
	}
}

func TestStreamBuffer_BracketPrefixSplitAcrossChunks(t *testing.T) {
	ctx := NewContext(BracketFormat)
	if _, _, err := Mask("al@b.io", []Span{{Type: "EMAIL_ADDRESS", Start: 0, End: 7}}, ctx); err != nil {
		t.Fatalf("mask failed: %v", err)
	}
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("x ["); out != "x " {
		t.Fatalf("lone delimiter fragment must be held, got %q", out)
	}
	if buf.Buffered() != "[" {
		t.Fatalf("buffer should hold the fragment, got %q", buf.Buffered())
	}
	if out := buf.Consume("[EMAIL_ADDRESS_1]] y"); out != "al@b.io y" {
		t.Fatalf("token split inside the delimiter must restore, got %q", out)
	}
	if buf.Buffered() != "" {
		t.Fatalf("buffer should be empty, got %q", buf.Buffered())
	}
}

func TestStreamBuffer_BracketFragmentAfterClosedToken(t *testing.T) {
	ctx := NewContext(BracketFormat)
	if _, _, err := Mask("al@b.io", []Span{{Type: "EMAIL_ADDRESS", Start: 0, End: 7}}, ctx); err != nil {
		t.Fatalf("mask failed: %v", err)
	}
	buf := NewStreamBuffer(ctx, UnmaskConfig{})

	if out := buf.Consume("[[EMAIL_ADDRESS_1]] and ["); out != "al@b.io and " {
		t.Fatalf("unexpected output: %q", out)
	}
	if buf.Buffered() != "[" {
		t.Fatalf("trailing fragment must be held, got %q", buf.Buffered())
	}
	if out := buf.Flush(); out != "[" {
		t.Fatalf("flush must emit the fragment literally, got %q", out)
	}
}

func TestStreamBuffer_MarkersApplied(t *testing.T) {
	ctx := emailContext(t)
	buf := NewStreamBuffer(ctx, UnmaskConfig{ShowMarkers: true, MarkerText: "*"})

	if out := buf.Consume("<EMAIL_ADDRESS_1>"); out != "*test@test.com" {
		t.Fatalf("marker missing in stream output: %q", out)
	}
}

// The concatenation of all Consume outputs plus Flush must equal a batch
// Unmask of the full stream, for every possible chunking. Both delimiter
// profiles are drawn: the two-byte bracket prefix can itself be split by a
// chunk boundary.
func TestStreamBuffer_EquivalentToBatchUnmask(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		format := rapid.SampledFrom([]Format{DefaultFormat, BracketFormat}).Draw(t, "format")
		text := rapid.StringMatching(`[a-zA-Z0-9 @.\-]{0,60}`).Draw(t, "text")
		runes := []rune(text)
		spans := generateDisjointSpans(t, len(runes))

		masked, ctx, err := Mask(text, spans, NewContext(format))
		if err != nil {
			t.Fatalf("mask failed: %v", err)
		}
		// Occasionally truncate the stream mid-token to exercise Flush.
		stream := masked
		if len(stream) > 0 && rapid.Bool().Draw(t, "truncate") {
			stream = stream[:rapid.IntRange(0, len(stream)).Draw(t, "cut")]
		}

		want := Unmask(stream, ctx, UnmaskConfig{})

		buf := NewStreamBuffer(ctx, UnmaskConfig{})
		var got strings.Builder
		rest := stream
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			got.WriteString(buf.Consume(rest[:n]))
			rest = rest[n:]
		}
		got.WriteString(buf.Flush())

		if got.String() != want {
			t.Fatalf("streaming diverged from batch unmask:\nstream: %q\nwant:   %q\ngot:    %q", stream, want, got.String())
		}
	})
}
