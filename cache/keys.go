package cache

import (
	"sort"
	"strings"
)

// Key builds a deterministic, collision-resistant cache key of the form
// <namespace>:<param>=<value>|<param>=<value>|... with parameters in sorted
// order, so the same logical request always derives the same key regardless
// of caller-side map iteration.
func Key(namespace string, params map[string]string) string {
	if len(params) == 0 {
		return namespace
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}
