package psmkernel

import (
	"testing"
	"time"
)

func TestActivePIDIdleWhenNoThreads(t *testing.T) {
	k := newTestKernel(t)
	if pid := k.ActivePID(); pid != -1 {
		t.Fatalf("ActivePID() on a fresh kernel = %d, want -1", pid)
	}
}

func TestRoundRobinVisitsEveryThread(t *testing.T) {
	k := newTestKernel(t)
	const n = 3
	const rounds = 2
	seen := make(chan int, n*rounds)
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		_, err := k.Create("rr", 5, 128, 0, func(self *Thread) {
			for r := 0; r < rounds; r++ {
				seen <- self.PID()
				self.Yield()
			}
			done <- struct{}{}
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("not all round-robin threads finished")
		}
	}
	close(seen)

	counts := map[int]int{}
	for pid := range seen {
		counts[pid]++
	}
	if len(counts) != n {
		t.Fatalf("expected %d distinct threads to run, saw %d", n, len(counts))
	}
	for pid, c := range counts {
		if c != rounds {
			t.Errorf("pid %d ran %d times, want %d", pid, c, rounds)
		}
	}
}

func TestHigherPriorityPreemptsOnWake(t *testing.T) {
	k := newTestKernel(t)
	lowRan := make(chan struct{}, 64)
	highRan := make(chan struct{})
	stopLow := make(chan struct{})

	_, err := k.Create("low", 8, 128, 0, func(self *Thread) {
		for {
			select {
			case <-stopLow:
				return
			default:
			}
			select {
			case lowRan <- struct{}{}:
			default:
			}
			self.Yield()
		}
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = k.Create("high", 3, 128, 0, func(self *Thread) {
		self.Sleep(1000)
		close(highRan)
		close(stopLow)
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case <-highRan:
	case <-time.After(2 * time.Second):
		t.Fatalf("high priority thread never ran after waking")
	}
}

// TestPeriodicQuantumStopsStarvingLowerPriority exercises testable
// property #4: a periodic thread that exhausts its per-period runtime
// budget must be put to sleep rather than staying PENDING, or a
// lower-priority thread can never get the run token back.
func TestPeriodicQuantumStopsStarvingLowerPriority(t *testing.T) {
	k := newTestKernel(t)

	const runtime, period = 50, 5000 // ticks; HZ=1e6 so 50us budget per 5ms period

	periodicStarted := make(chan struct{})
	stop := make(chan struct{})
	_, err := k.Create("periodic", 3, 128, 0, func(self *Thread) {
		if err := self.ChangeToPeriodical(runtime, period); err != nil {
			t.Errorf("ChangeToPeriodical() error = %v", err)
		}
		close(periodicStarted)
		for {
			select {
			case <-stop:
				return
			default:
			}
			self.Yield()
		}
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case <-periodicStarted:
	case <-time.After(2 * time.Second):
		t.Fatalf("periodic thread never got past its first period wait")
	}

	lowRan := make(chan struct{})
	_, err = k.Create("low", 10, 128, 0, func(self *Thread) {
		close(lowRan)
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	select {
	case <-lowRan:
	case <-time.After(2 * time.Second):
		t.Fatalf("lower-priority thread starved: periodic quantum was never enforced")
	}
	close(stop)
}
