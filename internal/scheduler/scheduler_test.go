package scheduler

import (
	"testing"
	"time"
)

func TestMinuteCrossed(t *testing.T) {
	// preparation minute 08:00
	minute := 8 * 60

	cases := []struct {
		name string
		prev time.Time
		now  time.Time
		want bool
	}{
		{
			name: "tick lands exactly on the minute",
			prev: time.Date(2024, 1, 8, 7, 59, 0, 0, time.UTC),
			now:  time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "tick jumps past the minute",
			prev: time.Date(2024, 1, 8, 7, 58, 30, 0, time.UTC),
			now:  time.Date(2024, 1, 8, 8, 1, 30, 0, time.UTC),
			want: true,
		},
		{
			name: "both ticks before the minute",
			prev: time.Date(2024, 1, 8, 7, 57, 0, 0, time.UTC),
			now:  time.Date(2024, 1, 8, 7, 58, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "both ticks after the minute",
			prev: time.Date(2024, 1, 8, 8, 1, 0, 0, time.UTC),
			now:  time.Date(2024, 1, 8, 8, 2, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "prev exactly on the minute does not refire",
			prev: time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
			now:  time.Date(2024, 1, 8, 8, 1, 0, 0, time.UTC),
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := minuteCrossed(tc.prev, tc.now, minute, time.UTC); got != tc.want {
				t.Fatalf("minuteCrossed(%v, %v) = %v, want %v", tc.prev, tc.now, got, tc.want)
			}
		})
	}
}

func TestMinuteCrossedAcrossTimezone(t *testing.T) {
	// 08:00 in New York is 13:00 UTC in January
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	prev := time.Date(2024, 1, 8, 12, 59, 0, 0, time.UTC)
	now := time.Date(2024, 1, 8, 13, 0, 0, 0, time.UTC)
	if !minuteCrossed(prev, now, 8*60, ny) {
		t.Fatal("expected 08:00 America/New_York crossing at 13:00 UTC")
	}
	if minuteCrossed(prev, now, 8*60, time.UTC) {
		t.Fatal("08:00 UTC is long past at 13:00 UTC")
	}
}
