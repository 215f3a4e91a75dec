package util

import "strings"

// SanitizeText drops NUL bytes and invalid UTF-8 and normalizes line endings.
// Postgres text columns and Neo4j string properties reject the former.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	sanitized = strings.ReplaceAll(sanitized, "\x00", "")
	return strings.ReplaceAll(sanitized, "\r\n", "\n")
}
