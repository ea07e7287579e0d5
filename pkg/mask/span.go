package mask

import (
	"errors"
	"fmt"
)

// ErrInvalidSpan indicates a span that violates the caller contract:
// an empty or inverted range, or offsets outside the target text. Such
// spans are rejected outright instead of clamped, since clamping could
// hide a detector bug and leak sensitive text.
var ErrInvalidSpan = errors.New("mask: invalid span")

// Span marks a half-open [Start, End) range of sensitive text. Offsets are
// rune (Unicode code point) indexes into the text the span was detected on;
// every operation in this package uses the same unit.
type Span struct {
	// Type is the entity type, e.g. EMAIL_ADDRESS or API_KEY. It becomes
	// part of the placeholder token and must not contain the placeholder
	// delimiter strings.
	Type string

	Start int
	End   int

	// Score is the detector confidence in [0, 1]. Scored distinguishes a
	// genuine 0.0 from "no score": pattern-matched secrets carry none and
	// are resolved by ResolveOverlaps instead of ResolveConflicts.
	Score  float64
	Scored bool
}

// Validate checks the span against a text of textLen runes.
func (s Span) Validate(textLen int) error {
	if s.Start < 0 || s.Start >= s.End || s.End > textLen {
		return fmt.Errorf("%w: %s [%d,%d) over %d runes", ErrInvalidSpan, s.Type, s.Start, s.End, textLen)
	}
	return nil
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// contains reports whether o lies fully inside s. Coincident ranges count
// as contained.
func (s Span) contains(o Span) bool {
	return s.Start <= o.Start && o.End <= s.End
}

func validateSpans(spans []Span, textLen int) error {
	for _, s := range spans {
		if err := s.Validate(textLen); err != nil {
			return err
		}
	}
	return nil
}
