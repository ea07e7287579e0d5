package mask

import (
	"testing"

	"pgregory.net/rapid"
)

func TestFormat_Token(t *testing.T) {
	if got := DefaultFormat.Token("EMAIL_ADDRESS", 3); got != "<EMAIL_ADDRESS_3>" {
		t.Fatalf("unexpected token: %q", got)
	}
	if got := BracketFormat.Token("PERSON", 1); got != "[[PERSON_1]]" {
		t.Fatalf("unexpected token: %q", got)
	}
}

func TestContext_CountersArePerType(t *testing.T) {
	ctx := NewContext(DefaultFormat)
	if got := ctx.placeholder("PERSON", "alice"); got != "<PERSON_1>" {
		t.Fatalf("got %q", got)
	}
	if got := ctx.placeholder("EMAIL_ADDRESS", "a@b.co"); got != "<EMAIL_ADDRESS_1>" {
		t.Fatalf("counters must be independent per type, got %q", got)
	}
	if got := ctx.placeholder("PERSON", "carol"); got != "<PERSON_2>" {
		t.Fatalf("got %q", got)
	}
}

func TestContext_EmptyFormatFallsBackToDefault(t *testing.T) {
	ctx := NewContext(Format{})
	if ctx.Format() != DefaultFormat {
		t.Fatalf("expected default format, got %+v", ctx.Format())
	}
}

// Identical originals always map to the same token; distinct originals
// never share one.
func TestContext_PlaceholderStability(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9@.]{1,12}`), 1, 30).Draw(t, "values")

		ctx := NewContext(DefaultFormat)
		byValue := make(map[string]string)
		for _, v := range values {
			token := ctx.placeholder("PERSON", v)
			if prev, seen := byValue[v]; seen && prev != token {
				t.Fatalf("value %q mapped to both %q and %q", v, prev, token)
			}
			byValue[v] = token
		}

		byToken := make(map[string]string)
		for v, token := range byValue {
			if prev, seen := byToken[token]; seen && prev != v {
				t.Fatalf("token %q shared by %q and %q", token, prev, v)
			}
			byToken[token] = v
			// The bidirectional invariant: reverse(mapping(k)) == k.
			if got, ok := ctx.Original(token); !ok || got != v {
				t.Fatalf("ledger lookup broken for %q", token)
			}
		}
	})
}
