package mask

import "strconv"

// Format holds the placeholder delimiter pair. It is injected rather than
// hard-coded because different deployment profiles need different
// delimiters: the default angle form is compact, while the double-bracket
// form survives HTML rendering of responses where angle brackets would be
// entity-encoded.
type Format struct {
	Prefix string
	Suffix string
}

var (
	// DefaultFormat produces tokens like <EMAIL_ADDRESS_1>.
	DefaultFormat = Format{Prefix: "<", Suffix: ">"}

	// BracketFormat produces tokens like [[EMAIL_ADDRESS_1]] for
	// deployments that render responses as HTML.
	BracketFormat = Format{Prefix: "[[", Suffix: "]]"}
)

// Token renders the placeholder for the n-th entity of the given type.
func (f Format) Token(entityType string, n int) string {
	return f.Prefix + entityType + "_" + strconv.Itoa(n) + f.Suffix
}

// Context is the placeholder ledger for one logical request or
// conversation. It maps placeholder tokens to original values and back, and
// tracks a sequence counter per entity type so that identical originals
// always reuse the same placeholder and numbering follows first appearance
// in reading order.
//
// A Context is exclusively owned by a single request and is not safe for
// concurrent use. It is created when request processing starts, threaded
// through masking, consulted during unmasking, and discarded once the
// response completes.
type Context struct {
	format   Format
	mapping  map[string]string // token -> original value
	reverse  map[string]string // original value -> token
	order    []string          // tokens in allocation order
	counters map[string]int    // entity type -> last issued sequence number
}

// NewContext creates an empty ledger using the given placeholder format.
func NewContext(format Format) *Context {
	if format.Prefix == "" || format.Suffix == "" {
		format = DefaultFormat
	}
	return &Context{
		format:   format,
		mapping:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[string]int),
	}
}

// Format returns the placeholder format the context was created with.
func (c *Context) Format() Format {
	return c.format
}

// placeholder returns the token for the original value, allocating a new
// sequence number for the entity type on first sight. A token, once issued,
// is never reassigned to a different original within this context.
func (c *Context) placeholder(entityType, original string) string {
	if token, ok := c.reverse[original]; ok {
		return token
	}
	c.counters[entityType]++
	token := c.format.Token(entityType, c.counters[entityType])
	c.mapping[token] = original
	c.reverse[original] = token
	c.order = append(c.order, token)
	return token
}

// Original returns the value a token stands for.
func (c *Context) Original(token string) (string, bool) {
	v, ok := c.mapping[token]
	return v, ok
}

// Tokens returns all issued tokens in allocation order.
func (c *Context) Tokens() []string {
	return append([]string(nil), c.order...)
}

// Len reports the number of issued placeholders.
func (c *Context) Len() int {
	return len(c.order)
}

// Counts returns how many placeholders were issued per entity type. Values
// are counts, not original content, so they are safe to log and export.
func (c *Context) Counts() map[string]int {
	counts := make(map[string]int, len(c.counters))
	for typ, n := range c.counters {
		counts[typ] = n
	}
	return counts
}
