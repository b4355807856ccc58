// Package strings normalizes the small string lists read from configuration.
package strings

import "strings"

// SplitList splits a comma-separated value into trimmed, non-empty, unique
// items in their original order.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return dedupe(strings.Split(raw, ","), strings.TrimSpace)
}

// NormalizeCodes trims and lowercases codes, dropping blanks and repeats.
// Order of first appearance is kept.
func NormalizeCodes(codes []string) []string {
	return dedupe(codes, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func dedupe(values []string, fold func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = fold(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
