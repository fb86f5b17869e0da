package delivery

import (
	"testing"
	"time"
)

func TestComputeDelayWithoutJitter(t *testing.T) {
	schedule := []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second}, // clamped low
		{1, time.Second},
		{2, 4 * time.Second},
		{3, 16 * time.Second},
		{4, 16 * time.Second},  // past the schedule: reuse last entry
		{99, 16 * time.Second}, // far past the schedule
	}
	for _, tt := range tests {
		if got := computeDelay(tt.attempt, schedule, 0); got != tt.want {
			t.Errorf("computeDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestComputeDelayJitterBounds(t *testing.T) {
	schedule := []time.Duration{10 * time.Second}
	lo := 7500 * time.Millisecond
	hi := 12500 * time.Millisecond

	for i := 0; i < 200; i++ {
		d := computeDelay(1, schedule, 0.25)
		if d < lo || d > hi {
			t.Fatalf("computeDelay with 25%% jitter = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}
