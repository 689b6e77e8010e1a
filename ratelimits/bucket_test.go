package ratelimits

import (
	"testing"
	"time"
)

func TestRefillStopsAtUpperBound(t *testing.T) {
	container := NewBucketContainer(1, 1, 20*time.Millisecond, 1)

	// creates the bucket at its initial fill
	container.HasKeys("destination")

	// many drip intervals pass, the bucket never exceeds its bound
	time.Sleep(100 * time.Millisecond)
	if keys := container.Get("destination"); keys > 1 {
		t.Fatalf("idle refill banked %d keys", keys)
	}

	if err := container.Drain(1, "destination"); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if err := container.Drain(1, "destination"); err == nil {
		t.Fatalf("second drain succeeded without a refill")
	}
}
