package psmkernel

import (
	"errors"
	"testing"
	"time"
)

func TestCreateRejectsBadPriority(t *testing.T) {
	k := newTestKernel(t)
	if _, err := k.Create("zero-prio", 0, 128, 0, func(self *Thread) {}); err != ErrInvalidPriority {
		t.Fatalf("Create() with priority 0 error = %v, want ErrInvalidPriority", err)
	}
	if _, err := k.Create("too-high", 999, 128, 0, func(self *Thread) {}); err != ErrInvalidPriority {
		t.Fatalf("Create() with out-of-range priority error = %v, want ErrInvalidPriority", err)
	}
	if _, err := k.Create("tiny-stack", 1, 1, 0, func(self *Thread) {}); !errors.Is(err, ErrStackTooSmall) {
		t.Fatalf("Create() with undersized stack error = %v, want ErrStackTooSmall", err)
	}
}

func TestCreateProtectedMustUsePriorityZero(t *testing.T) {
	k := newTestKernel(t)
	done := make(chan struct{})
	th, err := k.CreateProtected("guard", 128, 0, func(self *Thread) {
		close(done)
	})
	if err != nil {
		t.Fatalf("CreateProtected() error = %v", err)
	}
	if th.PID() < 0 {
		t.Fatalf("expected a valid pid")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("protected thread never ran")
	}
}

func TestThreadExitFreesSlot(t *testing.T) {
	k := newTestKernel(t)
	th, err := k.Create("short-lived", 3, 128, 0, func(self *Thread) {})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	th.Wait()

	if _, err := k.Status(th.PID()); err != ErrNotFound {
		t.Fatalf("Status() after exit error = %v, want ErrNotFound", err)
	}
}

func TestWakeupResumesSleepingThread(t *testing.T) {
	k := newTestKernel(t)
	awake := make(chan struct{})
	th, err := k.Create("sleeper", 3, 128, 0, func(self *Thread) {
		self.Sleep(1_000_000_000) // long enough that only Wakeup gets us out
		close(awake)
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := k.Status(th.PID())
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st == StatusSleeping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("thread never reached SLEEPING")
		}
		time.Sleep(time.Millisecond)
	}

	if err := k.Wakeup(th.PID()); err != nil {
		t.Fatalf("Wakeup() error = %v", err)
	}
	select {
	case <-awake:
	case <-time.After(2 * time.Second):
		t.Fatalf("Wakeup() did not resume the sleeping thread")
	}
}

func TestChangeToPeriodicalValidation(t *testing.T) {
	k := newTestKernel(t)
	done := make(chan struct{})
	_, err := k.Create("bad-periodic", 3, 128, 0, func(self *Thread) {
		defer close(done)
		if err := self.ChangeToPeriodical(0, 100); err != ErrInvalidPriority {
			t.Errorf("ChangeToPeriodical(0, 100) error = %v, want ErrInvalidPriority", err)
		}
		if err := self.ChangeToPeriodical(200, 100); err != ErrInvalidPriority {
			t.Errorf("ChangeToPeriodical(200, 100) runtime>period error = %v, want ErrInvalidPriority", err)
		}
		if err := self.ChangeToPeriodical(50, 100); err != nil {
			t.Errorf("ChangeToPeriodical(50, 100) error = %v, want nil", err)
		}
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic validation thread never finished")
	}
}
