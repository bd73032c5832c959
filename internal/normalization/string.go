package normalization

import "strings"

const maxQueryRunes = 256

// ParseQuery trims, collapses whitespace and bounds a shopper query.
func ParseQuery(input string) string {
	return Truncate(collapseSpace(input), maxQueryRunes)
}

// ParseKey lowercases and trims identifiers such as topics and platform names.
func ParseKey(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
