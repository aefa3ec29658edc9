package policy

import "strings"

// match returns the number of characters of path matched by r, or -1.
func (r *rule) match(path string) int {
	switch r.kind {
	case exact:
		if path == r.text {
			return len(path)
		}
	case prefix:
		if strings.HasPrefix(path, r.text) {
			return len(r.text)
		}
	case pattern:
		if loc := r.re.FindStringIndex(path); loc != nil {
			return loc[1] - loc[0]
		}
	}
	return -1
}

// beats reports whether a match of kind k and length n is preferred over the
// current best. Ties keep the earlier match.
func beats(k precedence, n int, bestKind precedence, bestLen int) bool {
	if bestLen < 0 {
		return true
	}
	return k < bestKind || (k == bestKind && n > bestLen)
}
