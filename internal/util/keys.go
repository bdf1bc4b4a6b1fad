package util

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalQuery renders params with keys sorted and each key's values
// sorted, so logically identical requests produce identical strings.
func CanonicalQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		if len(vals) == 0 {
			vals = []string{""}
		}
		ek := url.QueryEscape(k)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(ek)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// JoinKey builds "<namespace>:<path>?<query>", dropping "?" when query is empty.
func JoinKey(namespace, path, query string) string {
	var b strings.Builder
	b.Grow(len(namespace) + 1 + len(path) + 1 + len(query))
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}
