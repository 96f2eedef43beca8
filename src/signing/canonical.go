package signing

import (
	"fmt"
	"sort"
	"strings"
)

type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate parameter %q", e.Key)
}

// Canonicalize produces the exact signing input for a parameter set: empty
// values and hash fields dropped, keys sorted by byte order, keys and values
// percent-encoded, joined with '&'.
func Canonicalize(ps *ParameterSet) (string, error) {
	seen := make(map[string]string, len(ps.entries))
	for _, e := range ps.entries {
		k := normalizeKey(e.key)
		if _, dup := seen[k]; dup {
			return "", &DuplicateKeyError{Key: k}
		}
		seen[k] = e.value
	}

	keys := make([]string, 0, len(seen))
	for k, v := range seen {
		if k == "" || v == "" || hashFields[Field(k)] {
			continue
		}
		keys = append(keys, k)
	}
	// sort.Strings compares bytes, not collation.
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(Escape(k))
		b.WriteByte('=')
		b.WriteString(Escape(seen[k]))
	}
	return b.String(), nil
}

const upperhex = "0123456789ABCDEF"

// Escape percent-encodes every byte of s except the RFC 3986 unreserved set.
// Space becomes %20. Multi-byte UTF-8 text is encoded byte by byte.
func Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperhex[c>>4], upperhex[c&15])
	}
	return string(buf)
}

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
