package utils

import "testing"

func TestBoundedInt(t *testing.T) {
	cases := []struct {
		name        string
		s           string
		def, lo, hi int
		want        int
	}{
		{"empty uses default", "", 20, 1, 100, 20},
		{"in range", "42", 20, 1, 100, 42},
		{"below floor", "0", 20, 1, 100, 1},
		{"negative", "-3", 20, 1, 100, 1},
		{"above ceiling", "500", 20, 1, 100, 100},
		{"garbage", "ten", 20, 1, 100, 20},
		{"leading space", " 7", 20, 1, 100, 20},
		{"overflow", "999999999999999999999999", 5, 1, 100, 5},
		{"no ceiling", "5000", 1, 1, 0, 5000},
		{"default clamped", "", 0, 1, 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BoundedInt(tc.s, tc.def, tc.lo, tc.hi); got != tc.want {
				t.Fatalf("BoundedInt(%q) = %d, want %d", tc.s, got, tc.want)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		s    string
		n    int
		want string
	}{
		{"hola mundo", 4, "hola"},
		{"mañana", 3, "mañ"},
		{"short", 10, "short"},
		{"untouched", 0, "untouched"},
		{"", 3, ""},
	}
	for _, tc := range cases {
		if got := TruncateRunes(tc.s, tc.n); got != tc.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tc.s, tc.n, got, tc.want)
		}
	}
}
