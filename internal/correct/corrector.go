// Package correct canonicalizes raw recognition output into text suitable for
// submission to a challenge input.
package correct

import "strings"

// Rule is a single whole-string character substitution applied to recognition
// output. Rules compensate for recurring confusions between visually similar
// glyphs in distorted challenge images.
type Rule struct {
	From rune
	To   rune
}

// DefaultRules is the substitution table tuned against observed challenge
// output. The table is order-dependent: each rule is applied to the whole
// string before the next one, so later rules see the output of earlier ones.
// Treat the entries as a heuristic to be re-tuned, not as fixed truth.
func DefaultRules() []Rule {
	return []Rule{
		{From: '0', To: 'O'},
		{From: '1', To: 'I'},
		{From: '5', To: 'S'},
		{From: '8', To: 'B'},
	}
}

// Corrector canonicalizes recognized text: it strips everything that is not
// alphanumeric, upper-cases the remainder, and applies its substitution rules
// in order.
type Corrector struct {
	rules []Rule
}

// NewCorrector creates a corrector with the default substitution table.
func NewCorrector() *Corrector {
	return NewCorrectorWithRules(DefaultRules())
}

// NewCorrectorWithRules creates a corrector with a caller-supplied table. The
// slice is copied; rule order is preserved exactly.
func NewCorrectorWithRules(rules []Rule) *Corrector {
	owned := make([]Rule, len(rules))
	copy(owned, rules)

	return &Corrector{rules: owned}
}

// Correct returns the canonical form of the input. The operation is pure and
// idempotent: correcting already-corrected text is a no-op.
func (c *Corrector) Correct(input string) string {
	if input == "" {
		return input
	}

	var builder strings.Builder
	builder.Grow(len(input))

	for _, character := range input {
		if isAlphanumeric(character) {
			builder.WriteRune(upper(character))
		}
	}

	text := builder.String()
	for _, rule := range c.rules {
		text = strings.ReplaceAll(text, string(rule.From), string(rule.To))
	}

	return text
}

func isAlphanumeric(character rune) bool {
	switch {
	case character >= '0' && character <= '9':
		return true
	case character >= 'a' && character <= 'z':
		return true
	case character >= 'A' && character <= 'Z':
		return true
	default:
		return false
	}
}

func upper(character rune) rune {
	if character >= 'a' && character <= 'z' {
		return character - ('a' - 'A')
	}

	return character
}
