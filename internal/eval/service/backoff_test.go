package service_test

import (
	"testing"
	"time"

	"evalhub/internal/eval/service"
)

func TestComputeRetryBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{name: "first attempt", attempt: 1, base: time.Second, max: 8 * time.Second, want: time.Second},
		{name: "second attempt doubles", attempt: 2, base: time.Second, max: 8 * time.Second, want: 2 * time.Second},
		{name: "third attempt doubles again", attempt: 3, base: time.Second, max: 8 * time.Second, want: 4 * time.Second},
		{name: "capped at max", attempt: 10, base: time.Second, max: 8 * time.Second, want: 8 * time.Second},
		{name: "zero attempt treated as first", attempt: 0, base: time.Second, max: 8 * time.Second, want: time.Second},
		{name: "zero base falls back", attempt: 1, base: 0, max: 8 * time.Second, want: time.Second},
		{name: "max below base lifted", attempt: 5, base: 2 * time.Second, max: time.Second, want: 2 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ComputeRetryBackoff(tt.attempt, tt.base, tt.max); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
