package psmkernel

import (
	"context"
	"testing"
	"time"
)

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []uint32{1, 2, 4, 1024} {
		if !isPowerOfTwo(v) {
			t.Errorf("isPowerOfTwo(%d) = false, want true", v)
		}
	}
	for _, v := range []uint32{0, 3, 6, 1023} {
		if isPowerOfTwo(v) {
			t.Errorf("isPowerOfTwo(%d) = true, want false", v)
		}
	}
}

func TestUsecToTicksIdentityAtOneMHz(t *testing.T) {
	if got := usecToTicks(12345, 1_000_000); got != 12345 {
		t.Errorf("usecToTicks at 1MHz = %d, want 12345", got)
	}
	if got := ticksToUsec(12345, 1_000_000); got != 12345 {
		t.Errorf("ticksToUsec at 1MHz = %d, want 12345", got)
	}
}

func TestUsecToTicksPowerOfTwoShift(t *testing.T) {
	hz := uint32(4_000_000) // 4x 1MHz, shift 2
	if got := usecToTicks(100, hz); got != 400 {
		t.Errorf("usecToTicks(100, 4MHz) = %d, want 400", got)
	}
	if got := ticksToUsec(400, hz); got != 100 {
		t.Errorf("ticksToUsec(400, 4MHz) = %d, want 100", got)
	}
}

func TestUsecToTicksFallbackDivision(t *testing.T) {
	hz := uint32(32768)
	got := usecToTicks(1_000_000, hz) // one second worth of usec
	if got != uint64(hz) {
		t.Errorf("usecToTicks(1s, 32768Hz) = %d, want %d", got, hz)
	}
}

func newTestTimerEngine(t *testing.T) *timerEngine {
	t.Helper()
	cfg := DefaultConfig()
	hw, err := newHWTimer(cfg)
	if err != nil {
		t.Fatalf("newHWTimer() error = %v", err)
	}
	te := newTimerEngine(cfg, hw)
	t.Cleanup(te.stop)
	return te
}

func TestTimerEngineBackoffFiresImmediately(t *testing.T) {
	te := newTestTimerEngine(t)
	fired := make(chan struct{}, 1)
	now := te.now64()
	if _, err := te.arm(context.Background(), now+50, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("arm() error = %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("backoff-range timer never fired")
	}
}

func TestTimerEngineArmAndRemove(t *testing.T) {
	te := newTestTimerEngine(t)
	fired := make(chan struct{}, 1)
	now := te.now64()
	st, err := te.arm(context.Background(), now+5_000_000, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("arm() error = %v", err)
	}
	if st == nil {
		t.Fatalf("arm() of a far-future target should return a removable handle")
	}
	if !te.remove(st) {
		t.Fatalf("remove() on a still-pending timer should report true")
	}
	select {
	case <-fired:
		t.Fatalf("removed timer fired anyway")
	case <-time.After(50 * time.Millisecond):
	}
	if te.remove(st) {
		t.Fatalf("remove() on an already-removed timer should report false")
	}
}

func TestTimerEngineArmFiresEventually(t *testing.T) {
	te := newTestTimerEngine(t)
	fired := make(chan struct{}, 1)
	now := te.now64()
	// A few milliseconds out: past backoff, short enough for a quick test.
	target := now + uint64(3_000)
	if _, err := te.arm(context.Background(), target, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("arm() error = %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("near-term timer never fired")
	}
}
