package store

import "testing"

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		seconds int
		want    float64
	}{
		{0, 0},
		{30, 0.5},
		{60, 1},
		{90, 1.5},
		{100, 1.67},
		{3661, 61.02},
	}

	for _, tc := range tests {
		if got := durationMinutes(tc.seconds); got != tc.want {
			t.Fatalf("durationMinutes(%d) = %v, want %v", tc.seconds, got, tc.want)
		}
	}
}
