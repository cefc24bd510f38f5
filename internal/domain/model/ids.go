package model

import "strings"

// CompareIDs orders remote ids. Mastodon ids are decimal strings of varying
// length, so a purely lexicographic compare would put "99" after "100".
// Numeric ids compare by length first; anything else falls back to a
// string compare.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// NewerThan reports whether id sorts after cursor. Every id is newer than an
// empty cursor.
func NewerThan(id, cursor string) bool {
	if cursor == "" {
		return true
	}
	return CompareIDs(id, cursor) > 0
}

// MaxID returns the greatest of the given ids, or "" when none are given.
func MaxID(ids ...string) string {
	newest := ""
	for _, id := range ids {
		if id != "" && (newest == "" || CompareIDs(id, newest) > 0) {
			newest = id
		}
	}
	return newest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
