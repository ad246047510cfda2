// Package utils holds small helpers shared by the HTTP and job layers.
package utils

import "strconv"

// BoundedInt parses s and clamps it to [lo, hi]. An empty or malformed s
// yields def, which is clamped the same way. hi <= 0 means no upper bound.
func BoundedInt(s string, def, lo, hi int) int {
	n := def
	if s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			n = v
		}
	}
	if n < lo {
		n = lo
	}
	if hi > 0 && n > hi {
		n = hi
	}
	return n
}
