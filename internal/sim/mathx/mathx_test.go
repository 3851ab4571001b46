package mathx

import "testing"

func TestFloorDivMod(t *testing.T) {
	cases := []struct {
		a, b, q, m int
	}{
		{0, 32, 0, 0},
		{31, 32, 0, 31},
		{32, 32, 1, 0},
		{-1, 32, -1, 31},
		{-32, 32, -1, 0},
		{-33, 32, -2, 31},
		{-17, 16, -2, 15},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.m)
		}
		if FloorDiv(c.a, c.b)*c.b+Mod(c.a, c.b) != c.a {
			t.Fatalf("identity broken for %d,%d", c.a, c.b)
		}
	}
}
