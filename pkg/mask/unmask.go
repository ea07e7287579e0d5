package mask

import (
	"sort"
	"strings"
)

// UnmaskConfig controls how restored values are rendered.
type UnmaskConfig struct {
	// ShowMarkers prefixes every restored value with MarkerText so users
	// can see which parts of a response were reconstructed.
	ShowMarkers bool
	MarkerText  string
}

// Unmask restores every placeholder token recorded in ctx back to its
// original value. Tokens are replaced longest first so a shorter token is
// never matched inside a longer one (<PERSON_1> vs <PERSON_12>).
// Placeholder-looking text with no ledger entry is left untouched; that is
// not an error.
func Unmask(text string, ctx *Context, cfg UnmaskConfig) string {
	if text == "" || ctx == nil || ctx.Len() == 0 {
		return text
	}

	tokens := ctx.Tokens()
	sort.SliceStable(tokens, func(i, j int) bool {
		return len(tokens[i]) > len(tokens[j])
	})

	for _, token := range tokens {
		if !strings.Contains(text, token) {
			continue
		}
		original, _ := ctx.Original(token)
		if cfg.ShowMarkers {
			original = cfg.MarkerText + original
		}
		text = strings.ReplaceAll(text, token, original)
	}
	return text
}
