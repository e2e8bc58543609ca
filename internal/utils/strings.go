package utils

import "strings"

// ParseCSV splits a comma-separated list into trimmed non-empty values.
// Empty or whitespace-only input yields nil.
func ParseCSV(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
