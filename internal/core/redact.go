package core

import (
	"log"
	"regexp"
)

// The redaction filter is the deterministic half of a two-layer defense: the
// generation prompts instruct the model to redact, and this pass scrubs
// whatever slipped through. It must be idempotent, since already-filtered
// text flows through it again on review edits.

type redactionRule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Rule order matters: the longer digit shapes (card numbers, government ids,
// IP addresses) must be scrubbed before the phone pattern can eat their
// prefixes.
var redactionRules = []redactionRule{
	{
		name:        "email",
		re:          regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		replacement: "[EMAIL]",
	},
	{
		name:        "government id",
		re:          regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		replacement: "[ID-NUMBER]",
	},
	{
		name:        "card number",
		re:          regexp.MustCompile(`\b(?:\d[ \-]?){12}\d{1,4}\b`),
		replacement: "[CARD-NUMBER]",
	},
	{
		name:        "ip address",
		re:          regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		replacement: "[IP-ADDRESS]",
	},
	{
		name:        "phone",
		re:          regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
		replacement: "[PHONE]",
	},
	{
		name:        "monetary amount",
		re:          regexp.MustCompile(`(?i)\b(salar(?:y|ies)|deal|contract|renewal|bonus|compensation|offer|pay(?:ment|out)?|revenue)\b([^.!?\n]{0,30}?)\$\s?\d[\d,]*(?:\.\d+)?\s?(?:[kKmMbB]|million|thousand|billion)?\b`),
		replacement: "$1$2[AMOUNT]",
	},
	{
		name:        "monetary amount",
		re:          regexp.MustCompile(`(?i)\$\s?\d[\d,]*(?:\.\d+)?\s?(?:[kKmMbB]|million|thousand|billion)?\b([^.!?\n]{0,30}?\b(?:salar(?:y|ies)|deal|contract|renewal|bonus|compensation|offer|payment|payout|revenue)\b)`),
		replacement: "[AMOUNT]$1",
	},
}

// Redact replaces sensitive substrings with fixed placeholders.
func Redact(text string) string {
	for _, rule := range redactionRules {
		text = rule.re.ReplaceAllString(text, rule.replacement)
	}
	return text
}

// ScrubValue applies Redact recursively through nested string fields of a
// decoded JSON value. Non-string leaves pass through untouched.
func ScrubValue(v any) any {
	switch t := v.(type) {
	case string:
		return Redact(t)
	case []any:
		for i := range t {
			t[i] = ScrubValue(t[i])
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = ScrubValue(val)
		}
		return t
	default:
		return v
	}
}

// ScrubStrings redacts every element of a string slice in place and returns
// it.
func ScrubStrings(ss []string) []string {
	for i := range ss {
		ss[i] = Redact(ss[i])
	}
	return ss
}

// DetectResidual re-scans text and returns the names of patterns still
// present. Used as a non-fatal audit pass on the final summary.
func DetectResidual(text string) []string {
	var found []string
	seen := make(map[string]struct{})
	for _, rule := range redactionRules {
		if _, ok := seen[rule.name]; ok {
			continue
		}
		if rule.re.MatchString(text) {
			found = append(found, rule.name)
			seen[rule.name] = struct{}{}
		}
	}
	return found
}

// auditSummary logs any sensitive pattern that survived redaction. It never
// blocks the save.
func auditSummary(summary string) {
	if residual := DetectResidual(summary); len(residual) > 0 {
		log.Printf("Redaction audit: summary still matches patterns %v", residual)
	}
}
