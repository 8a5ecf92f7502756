package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Name trims a display name and collapses internal runs of whitespace.
func Name(n string) string {
	return strings.Join(strings.Fields(n), " ")
}

// Text trims message text. Interior whitespace and line breaks are kept.
func Text(t string) string {
	return strings.TrimSpace(t)
}
