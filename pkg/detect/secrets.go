package detect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/veilproxy/veilproxy/pkg/mask"
)

// SecretRule declares one secret detection pattern.
type SecretRule struct {
	// Name becomes the span type and therefore part of the placeholder,
	// e.g. API_KEY yields <API_KEY_1>.
	Name    string
	Pattern string
}

type compiledSecretRule struct {
	name string
	expr *regexp.Regexp
}

// SecretMatcher scans text for credential-like secrets using a regex rule
// set. Matches carry no confidence score; resolve them with
// mask.ResolveOverlaps. The rule set is replaceable at runtime so a config
// reload can swap patterns without restarting the proxy.
type SecretMatcher struct {
	mu    sync.RWMutex
	rules []compiledSecretRule
}

// DefaultSecretRules covers common credential shapes: provider API keys,
// bearer tokens, AWS access key IDs, PEM private key headers, and the
// structured PII patterns a regex can catch reliably.
func DefaultSecretRules() []SecretRule {
	return []SecretRule{
		{Name: "AWS_ACCESS_KEY", Pattern: `\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`},
		{Name: "PRIVATE_KEY", Pattern: `-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`},
		{Name: "BEARER_TOKEN", Pattern: `(?i)\bbearer\s+[a-z0-9_\-.=]{20,}`},
		{Name: "API_KEY", Pattern: `(?i)\b(?:api[_-]?key|apikey|api[_-]?secret)[:=\s"']+[a-z0-9_\-]{16,}`},
		{Name: "SK_API_KEY", Pattern: `\bsk-[a-zA-Z0-9_\-]{20,}\b`},
		{Name: "US_SSN", Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
		{Name: "CREDIT_CARD", Pattern: `\b(?:\d{4}[-\s]?){3}\d{4}\b`},
	}
}

// NewSecretMatcher compiles the rule set. Every rule needs a non-empty name
// and a valid pattern.
func NewSecretMatcher(rules []SecretRule) (*SecretMatcher, error) {
	m := &SecretMatcher{}
	if err := m.Reload(rules); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload atomically replaces the rule set. On error the previous rules stay
// active.
func (m *SecretMatcher) Reload(rules []SecretRule) error {
	compiled := make([]compiledSecretRule, 0, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return fmt.Errorf("detect: secret rule name is required")
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("detect: pattern is required for rule %s", name)
		}
		expr, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("detect: invalid pattern for rule %s: %w", name, err)
		}
		compiled = append(compiled, compiledSecretRule{name: name, expr: expr})
	}

	m.mu.Lock()
	m.rules = compiled
	m.mu.Unlock()
	return nil
}

// Detect returns scoreless spans for every secret match, in rune offsets.
// Matches within one rule never overlap (regexp guarantees that), but
// matches across rules may; callers apply mask.ResolveOverlaps.
func (m *SecretMatcher) Detect(text string) []mask.Span {
	if text == "" {
		return nil
	}

	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()

	var spans []mask.Span
	for _, rule := range rules {
		for _, match := range rule.expr.FindAllStringIndex(text, -1) {
			// FindAllStringIndex yields byte offsets; the engine wants
			// rune offsets.
			start := utf8.RuneCountInString(text[:match[0]])
			length := utf8.RuneCountInString(text[match[0]:match[1]])
			spans = append(spans, mask.Span{
				Type:  rule.name,
				Start: start,
				End:   start + length,
			})
		}
	}
	return spans
}

// Rules returns the names of the active rules, for logging and the admin
// surface.
func (m *SecretMatcher) Rules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.name
	}
	return names
}
