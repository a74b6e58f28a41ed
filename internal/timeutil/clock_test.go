package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Error("timer did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(2 * time.Second)

	if got := clock.Since(start); got != 2*time.Second {
		t.Errorf("Since() = %v, want 2s", got)
	}
}

func TestMockClock_Sleep(t *testing.T) {
	clock := NewMockClock(time.Time{})
	clock.Sleep(time.Second)
	clock.Sleep(500 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 500*time.Millisecond {
		t.Errorf("unexpected sleeps %v", sleeps)
	}
}

func TestMockClock_Timer(t *testing.T) {
	clock := NewMockClock(time.Time{})
	timer := clock.NewTimer(2 * time.Second)

	if n := clock.PendingTimers(); n != 1 {
		t.Fatalf("PendingTimers() = %d, want 1", n)
	}

	clock.Advance(time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its deadline")
	}

	if n := clock.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers() = %d after firing, want 0", n)
	}
}

func TestMockClock_Timer_Stop(t *testing.T) {
	clock := NewMockClock(time.Time{})
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on an active timer should return true")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestMockTimer_Reset(t *testing.T) {
	clock := NewMockClock(time.Time{})
	timer := clock.NewTimer(time.Second)
	clock.Advance(time.Second)
	<-timer.C()

	if timer.Reset(3 * time.Second) {
		t.Error("Reset() after firing should report the timer was inactive")
	}
	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("reset timer fired before its new deadline")
	default:
	}
	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestMockClock_After(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ch := clock.After(time.Second)
	clock.Advance(time.Second)

	select {
	case <-ch:
	default:
		t.Error("After channel did not receive")
	}
}
