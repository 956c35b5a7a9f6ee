package query

import "strings"

// Searchable exposes the text fields free-text search looks at: user message,
// bot reply, intent and channel.
type Searchable interface {
	SearchFields() []string
}

// ApplyLocalSearch keeps the items with a field containing q, ignoring case.
// An empty query returns items unchanged. It only ever looks at the page it is
// given.
func ApplyLocalSearch[T Searchable](items []T, q string) []T {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		for _, field := range item.SearchFields() {
			if strings.Contains(strings.ToLower(field), needle) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}
