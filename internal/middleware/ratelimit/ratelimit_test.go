package ratelimit

import (
	"testing"
	"time"
)

func TestAllowExhaustsBucket(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 3, WindowDuration: time.Minute})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.allow("caller-1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("caller-1") {
		t.Error("request past the allowance should be rejected")
	}
	if !rl.allow("caller-2") {
		t.Error("a fresh caller must get its own bucket")
	}
}

func TestStopTerminatesCleanup(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	rl.Stop()

	select {
	case <-rl.done:
	default:
		t.Error("Stop() must close the done channel so cleanup exits")
	}
}
