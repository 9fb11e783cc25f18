package pagesize

import "testing"

func TestGetIsPositiveAndPageAligned(t *testing.T) {
	sz := Get()
	if sz <= 0 {
		t.Fatalf("Get returned non-positive size: %d", sz)
	}
	if sz%2 != 0 {
		t.Fatalf("Get returned a non-power-of-two-friendly size: %d", sz)
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct {
		size, page, want int
	}{
		{0, 4096, 4096},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{8192, 4096, 8192},
		{4104, 4096, 8192},
	}
	for _, c := range cases {
		if got := RoundUp(c.size, c.page); got != c.want {
			t.Errorf("RoundUp(%d, %d) = %d, want %d", c.size, c.page, got, c.want)
		}
	}
}
