package store

import "time"

// sortTimeLayout is a fixed-width UTC timestamp layout so that the lexical
// order of sort keys matches chronological order. RFC3339Nano is unsuitable
// here because it trims trailing zeros.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SortTime formats a timestamp for embedding in index sort keys.
func SortTime(t time.Time) string {
	return t.UTC().Format(sortTimeLayout)
}

// ParseSortTime parses a timestamp previously formatted with SortTime.
func ParseSortTime(s string) (time.Time, error) {
	return time.Parse(sortTimeLayout, s)
}
