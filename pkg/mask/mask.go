package mask

import (
	"fmt"
	"sort"
	"strings"
)

// Mask replaces every span in text with a typed placeholder and records the
// substitutions in ctx. A nil ctx allocates a fresh one with DefaultFormat.
// Spans must be disjoint (run them through ResolveConflicts or
// ResolveOverlaps first) and valid for the text; violations fail with
// ErrInvalidSpan.
//
// Placeholders are numbered in reading order of first appearance, so
// repeated runs over the same text with the same spans produce identical
// output. The substituted text is assembled in a single left-to-right pass
// copying the untouched slices between spans.
func Mask(text string, spans []Span, ctx *Context) (string, *Context, error) {
	if ctx == nil {
		ctx = NewContext(DefaultFormat)
	}
	if len(spans) == 0 {
		return text, ctx, nil
	}

	runes := []rune(text)
	if err := validateSpans(spans, len(runes)); err != nil {
		return "", ctx, err
	}

	ordered := append([]Span(nil), spans...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	var out strings.Builder
	out.Grow(len(text))
	cursor := 0
	for _, s := range ordered {
		if s.Start < cursor {
			return "", ctx, fmt.Errorf("%w: %s [%d,%d) overlaps previous span", ErrInvalidSpan, s.Type, s.Start, s.End)
		}
		original := string(runes[s.Start:s.End])
		out.WriteString(string(runes[cursor:s.Start]))
		out.WriteString(ctx.placeholder(s.Type, original))
		cursor = s.End
	}
	out.WriteString(string(runes[cursor:]))

	return out.String(), ctx, nil
}

// MaskSegments masks a sequence of independently-offset text segments
// sharing one context. Segments are processed strictly in order because
// placeholder numbering is order-dependent. spansPerSegment[i] is expressed
// in segment i's own coordinates.
func MaskSegments(segments []string, spansPerSegment [][]Span, ctx *Context) ([]string, *Context, error) {
	if ctx == nil {
		ctx = NewContext(DefaultFormat)
	}
	if len(spansPerSegment) != len(segments) {
		return nil, ctx, fmt.Errorf("mask: %d segments but %d span sets", len(segments), len(spansPerSegment))
	}

	masked := make([]string, len(segments))
	for i, segment := range segments {
		var err error
		masked[i], _, err = Mask(segment, spansPerSegment[i], ctx)
		if err != nil {
			return nil, ctx, fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return masked, ctx, nil
}

// Message is one chat message viewed as a sequence of parts. Only text
// parts participate in masking; opaque parts (images, tool payloads) pass
// through untouched and do not contribute to span coordinates.
type Message struct {
	Parts []Part
}

// Part is a single content part of a Message.
type Part struct {
	Text   string
	Opaque bool
}

// MaskMessages masks a batch of messages against their span sets, sharing
// one context so placeholder numbering stays consistent across the whole
// batch. spansPerMessage[i] is expressed over the concatenation of message
// i's text parts, which is the view a detector sees; spans are re-based
// onto the individual parts here. A span straddling a part boundary cannot
// be substituted and is rejected as invalid.
func MaskMessages(messages []Message, spansPerMessage [][]Span, ctx *Context) ([]Message, *Context, error) {
	if ctx == nil {
		ctx = NewContext(DefaultFormat)
	}
	if len(spansPerMessage) != len(messages) {
		return nil, ctx, fmt.Errorf("mask: %d messages but %d span sets", len(messages), len(spansPerMessage))
	}

	masked := make([]Message, len(messages))
	for i, msg := range messages {
		spans := spansPerMessage[i]
		out := Message{Parts: make([]Part, len(msg.Parts))}
		copy(out.Parts, msg.Parts)

		offset := 0
		for p, part := range msg.Parts {
			if part.Opaque {
				continue
			}
			length := len([]rune(part.Text))
			local := make([]Span, 0, len(spans))
			for _, s := range spans {
				switch {
				case s.End <= offset || s.Start >= offset+length:
					// belongs to another part
				case s.Start >= offset && s.End <= offset+length:
					shifted := s
					shifted.Start -= offset
					shifted.End -= offset
					local = append(local, shifted)
				default:
					return nil, ctx, fmt.Errorf("%w: %s [%d,%d) straddles part boundary in message %d",
						ErrInvalidSpan, s.Type, s.Start, s.End, i)
				}
			}

			maskedText, _, err := Mask(part.Text, local, ctx)
			if err != nil {
				return nil, ctx, fmt.Errorf("message %d part %d: %w", i, p, err)
			}
			out.Parts[p].Text = maskedText
			offset += length
		}
		masked[i] = out
	}
	return masked, ctx, nil
}
