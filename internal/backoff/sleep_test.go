package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleep(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelExpired()

	tests := []struct {
		name    string
		ctx     context.Context
		d       time.Duration
		want    error
		atLeast time.Duration
		atMost  time.Duration
	}{
		{"completes", context.Background(), 30 * time.Millisecond, nil, 25 * time.Millisecond, time.Second},
		{"zero", context.Background(), 0, nil, 0, 10 * time.Millisecond},
		{"negative", context.Background(), -time.Second, nil, 0, 10 * time.Millisecond},
		{"already cancelled", cancelled, time.Second, context.Canceled, 0, 10 * time.Millisecond},
		{"deadline", expired, time.Second, context.DeadlineExceeded, 0, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := Sleep(tt.ctx, tt.d)
			elapsed := time.Since(start)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Fatalf("Sleep() error = %v, want %v", err, tt.want)
			}
			if elapsed < tt.atLeast || elapsed > tt.atMost {
				t.Errorf("Sleep() took %v, want between %v and %v", elapsed, tt.atLeast, tt.atMost)
			}
		})
	}
}
