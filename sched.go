// sched.go - the Kernel: thread table, run queues, and the scheduler core

package psmkernel

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Kernel owns every piece of scheduler state: the thread table, the
// priority run queues, the hardware timer, and the soft-timer engine.
// Kernel.mu is the Go stand-in for "interrupts disabled, non-reentrant"
// (SPEC_FULL.md §0): every function that touches scheduler state holds
// it for the duration of that mutation, mirroring the single protected
// scheduler module region the firmware compiles these operations into.
type Kernel struct {
	cfg Config

	logger   *log.Logger
	onSwitch func(prevPID, nextPID int)

	mu      sync.Mutex
	threads *threadTable
	rq      *runQueueSet
	hw      *hwTimer
	timers  *timerEngine

	active     int // pid of the thread currently granted the run token, -1 if idle
	schedTimer *softTimer
	schedOwner int // pid the scheduler-private quantum timer was armed for

	// inISR mirrors sm_irq_is_in(): true for the duration of a
	// hardware-timer-fired callback (the closest Go analogue to
	// executing inside an interrupt handler), per spec.md §3/§5's
	// non-reentrancy invariant. thread.c's thread_sleep checks the same
	// flag to refuse a blocking call made from that context.
	inISR atomic.Bool
}

// NewKernel builds a Kernel from cfg, starting its hardware timer and
// timer engine immediately. No threads run until Create is called.
func NewKernel(cfg Config, opts ...Option) (*Kernel, error) {
	hw, err := newHWTimer(cfg)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:        cfg,
		logger:     log.Default(),
		threads:    newThreadTable(cfg.MaxThreads),
		rq:         newRunQueueSet(cfg.PrioLevels),
		hw:         hw,
		active:     -1,
		schedOwner: -1,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.timers = newTimerEngine(cfg, hw)
	k.timers.enterISR = func() { k.inISR.Store(true) }
	k.timers.exitISR = func() { k.inISR.Store(false) }
	return k, nil
}

// Shutdown halts the hardware timer goroutine. Kernel is unusable
// afterward.
func (k *Kernel) Shutdown() {
	k.timers.stop()
}

// queueFront returns the thread at the logical front of priority's run
// queue without removing it (lpop's first, without popping).
func (rq *runQueueSet) queueFront(priority int) *tcb {
	head := rq.heads[priority].next
	if head == nil {
		return nil
	}
	return head.rq.next
}

// scheduleLocked recomputes which thread holds the run token and
// signals it via its resume channel, whether or not it changed,
// mirroring sched_run.
// Callers must hold k.mu and must not be the scheduler's own goroutine.
func (k *Kernel) scheduleLocked() {
	now := k.timers.now64()
	prev := k.active

	if prev != -1 {
		pt := k.threads.slots[prev]
		if pt.inUse && pt.status == StatusRunning {
			wentToSleep := false
			if pt.periodic {
				wentToSleep = k.chargePeriodicLocked(pt, now)
			}
			if !wentToSleep {
				k.rq.setStatus(pt, StatusPending)
				lpoprpush(&k.rq.heads[pt.priority])
			}
		}
	}

	next := -1
	if k.rq.bitcache != 0 {
		prio := lowestSetBit(k.rq.bitcache)
		if nt := k.rq.queueFront(prio); nt != nil {
			next = nt.pid
			k.rq.setStatus(nt, StatusRunning)
			if nt.periodic {
				k.armPeriodicQuantumLocked(nt, now)
			}
		}
	}
	k.active = next

	if k.onSwitch != nil && next != prev {
		k.onSwitch(prev, next)
	}
	if next != -1 {
		nt := k.threads.slots[next]
		select {
		case nt.resume <- struct{}{}:
		default:
		}
	}
}

// chargePeriodicLocked accounts the ticks pt just spent running against
// its per-period runtime budget and, if that exhausts the budget, puts
// pt to sleep until its next period boundary, mirroring sched.c's
// periodic_thread_schedule_next_timer and the runtime check guarding it
// in sched_run_internal. Reports whether pt was put to sleep: if so,
// the caller must not also demote it to StatusPending, since
// setStatus(StatusSleeping) below has already removed it from its run
// queue.
func (k *Kernel) chargePeriodicLocked(pt *tcb, now uint64) bool {
	elapsed := uint32(now - pt.lastReference)
	if elapsed > k.cfg.SchedulerOverheadRun {
		elapsed -= k.cfg.SchedulerOverheadRun
	} else {
		elapsed = 0
	}
	pt.lastRuntime += elapsed

	if k.schedOwner == pt.pid {
		k.timers.remove(k.schedTimer)
		k.schedTimer = nil
		k.schedOwner = -1
	}

	if pt.lastRuntime < pt.runtime {
		pt.lastReference = now
		return false
	}

	// Budget exhausted: advance lastReference to the next period
	// boundary strictly after now, matching
	// periodic_thread_schedule_next_timer's overflow-guarded while loop.
	for pt.lastReference <= now {
		pt.lastReference += uint64(pt.period)
	}
	pt.lastRuntime = 0
	k.rq.setStatus(pt, StatusSleeping)

	pid, target := pt.pid, pt.lastReference
	if _, err := k.timers.arm(context.Background(), target, func() { k.wake(pid) }); err != nil {
		k.logger.Printf("psmkernel: periodic wakeup timer unavailable for pid %d: %v", pid, err)
	}
	return true
}

// armPeriodicQuantumLocked arms the scheduler-private timer that force-
// yields pt when its remaining per-period budget runs out, spec.md
// §4.4's quantum-enforcement timer. remaining is runtime minus whatever
// was already charged earlier in this period (round-robined peers at
// the same priority may have split a period's budget across more than
// one dispatch).
func (k *Kernel) armPeriodicQuantumLocked(pt *tcb, now uint64) {
	pt.lastReference = now
	remaining := pt.runtime - pt.lastRuntime
	pid := pt.pid
	st, err := k.timers.arm(context.Background(), now+uint64(remaining), func() {
		k.quantumExpired(pid)
	})
	if err != nil {
		k.logger.Printf("psmkernel: periodic quantum timer unavailable for pid %d: %v", pid, err)
		return
	}
	k.schedTimer = st
	k.schedOwner = pid
}

// quantumExpired runs when a periodic thread's budget is exhausted
// mid-run; rerunning the scheduler drives the exhaustion check in
// chargePeriodicLocked, which puts the thread to sleep until its next
// period.
func (k *Kernel) quantumExpired(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active != pid {
		return
	}
	k.scheduleLocked()
}

// schedSwitchLocked requests a reschedule, mirroring sched_switch's
// "only a hint unless the other thread strictly outranks us" contract:
// a lower priority value is higher priority. force, when true, always
// reruns the scheduler (used after unblocking a thread from a mutex or
// timer regardless of relative priority).
func (k *Kernel) schedSwitchLocked(otherPriority int, force bool) {
	if force {
		k.scheduleLocked()
		return
	}
	if k.active == -1 {
		k.scheduleLocked()
		return
	}
	cur := k.threads.slots[k.active]
	if otherPriority < cur.priority {
		k.scheduleLocked()
	}
}

// setStatus is the locked, public-facing form of sched_set_status.
func (k *Kernel) setStatus(pid int, s Status) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.threads.get(pid)
	if t == nil {
		return ErrNotFound
	}
	k.rq.setStatus(t, s)
	return nil
}

// Status reports pid's current scheduler status.
func (k *Kernel) Status(pid int) (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.threads.get(pid)
	if t == nil {
		return StatusStopped, ErrNotFound
	}
	return t.status, nil
}

// ActivePID returns the pid currently holding the run token, or -1 if
// the kernel is idle.
func (k *Kernel) ActivePID() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}
