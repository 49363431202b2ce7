package models

import (
	"testing"
	"time"
)

func TestInterruptedAt(t *testing.T) {
	base := time.Now()
	pending := Message{Role: RoleAssistant, Timestamp: base.UnixMilli(), Completed: false}

	if pending.InterruptedAt(base.Add(time.Second)) {
		t.Fatalf("fresh pending message must not be interrupted")
	}
	if pending.InterruptedAt(base.Add(InterruptAfter)) {
		t.Fatalf("exactly at the threshold is still pending")
	}
	if !pending.InterruptedAt(base.Add(InterruptAfter + time.Millisecond)) {
		t.Fatalf("past the threshold must read interrupted")
	}

	done := pending
	done.Completed = true
	if done.InterruptedAt(base.Add(time.Hour)) {
		t.Fatalf("completed message is never interrupted")
	}
}
