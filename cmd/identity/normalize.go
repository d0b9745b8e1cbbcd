package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeID trims surrounding whitespace from a user id.
// IDs are opaque, so case is preserved.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}
