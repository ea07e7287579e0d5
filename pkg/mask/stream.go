package mask

import "strings"

// StreamBuffer restores placeholders in text that arrives in arbitrary
// increments, as delivered by a token stream. It emits unmasked output as
// soon as it is provably safe and holds back only the minimal suffix that
// might still be a partial placeholder, so a half-formed token is never
// emitted and a token split across chunk boundaries is never lost.
//
// Chunks must be fed in arrival order; the buffer is inherently sequential
// and not safe for concurrent use. Concatenating all Consume outputs plus
// the final Flush output equals Unmask over the full concatenated stream.
type StreamBuffer struct {
	ctx  *Context
	cfg  UnmaskConfig
	tail string
}

// NewStreamBuffer creates a buffer restoring against the given context.
func NewStreamBuffer(ctx *Context, cfg UnmaskConfig) *StreamBuffer {
	return &StreamBuffer{ctx: ctx, cfg: cfg}
}

// Consume appends chunk to the held-back tail and returns everything that
// can be safely unmasked now.
//
// The held region starts at the last opening delimiter that has no closing
// delimiter after it; everything before that point cannot be extended into
// a placeholder by future chunks and is emitted immediately.
func (b *StreamBuffer) Consume(chunk string) string {
	combined := b.tail + chunk
	if combined == "" {
		return ""
	}

	format := DefaultFormat
	if b.ctx != nil {
		format = b.ctx.Format()
	}

	open := strings.LastIndex(combined, format.Prefix)
	if open == -1 || strings.Contains(combined[open+len(format.Prefix):], format.Suffix) {
		// No unterminated opener, but a multi-byte opening delimiter can
		// itself be split across chunks. Hold any trailing fragment of it
		// so the next chunk can complete the delimiter.
		hold := len(combined) - partialPrefixLen(combined, format.Prefix)
		b.tail = combined[hold:]
		return Unmask(combined[:hold], b.ctx, b.cfg)
	}

	b.tail = combined[open:]
	return Unmask(combined[:open], b.ctx, b.cfg)
}

// partialPrefixLen returns the length of the longest suffix of s that is a
// proper prefix of the opening delimiter. Zero for single-byte delimiters.
func partialPrefixLen(s, prefix string) int {
	max := len(prefix) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, prefix[:n]) {
			return n
		}
	}
	return 0
}

// Flush drains the buffer at end of stream. An unterminated
// placeholder-looking fragment is emitted as literal text, never dropped.
func (b *StreamBuffer) Flush() string {
	out := Unmask(b.tail, b.ctx, b.cfg)
	b.tail = ""
	return out
}

// Buffered returns the currently held-back suffix.
func (b *StreamBuffer) Buffered() string {
	return b.tail
}
