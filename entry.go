// entry.go - thread creation and the user-facing operations threads call

package psmkernel

import "context"

// ThreadFunc is a thread's body. It receives the handle it should use
// for every scheduler-visible operation (Yield, Sleep, Lock, Exit...).
// Returning from it is equivalent to calling self.Exit().
type ThreadFunc func(self *Thread)

// Thread is a live handle to one scheduled thread, the caller-facing
// counterpart of a tcb. All of its methods fan in through Kernel.mu,
// standing in for the original's single entry-stub dispatch
// (SPEC_FULL.md §0): BOOT's timer-engine start happens in NewKernel,
// YIELD/SLEEP/EXIT are the methods below, each bracketed by exactly one
// scheduler reschedule, and SWITCH is the internal schedSwitchLocked
// used by Wakeup and Mutex.Unlock.
type Thread struct {
	k   *Kernel
	pid int
}

// PID returns the thread's table slot index.
func (t *Thread) PID() int { return t.pid }

// Name returns the thread's cosmetic name, or "" if it has exited.
func (t *Thread) Name() string {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	if tc := t.k.threads.get(t.pid); tc != nil {
		return tc.name
	}
	return ""
}

// Create allocates a PID, starts its goroutine, and returns its handle.
// The new thread does not run until the scheduler next grants it the
// run token — immediately, unless flags include CreateWoutYield.
// priority 0 is reserved for protected threads; see CreateProtected.
func (k *Kernel) Create(name string, priority int, stackSize int, flags CreateFlags, fn ThreadFunc) (*Thread, error) {
	return k.create(name, priority, stackSize, flags, false, fn)
}

// CreateProtected is Create for the fixed protected-thread priority
// band (spec.md §4.1's "is_protected" class), always priority 0.
func (k *Kernel) CreateProtected(name string, stackSize int, flags CreateFlags, fn ThreadFunc) (*Thread, error) {
	return k.create(name, 0, stackSize, flags, true, fn)
}

func (k *Kernel) create(name string, priority, stackSize int, flags CreateFlags, protected bool, fn ThreadFunc) (*Thread, error) {
	if err := validateStackConfig(stackSize, k.cfg.MinStackSize); err != nil {
		return nil, err
	}
	if priority < 0 || priority >= k.cfg.PrioLevels {
		return nil, ErrInvalidPriority
	}
	// Priority 0 is reserved for protected threads; priorities between
	// there and MaxPrioUnprotected are reserved for the periodic class
	// (ChangeToPeriodical reassigns into that band directly rather than
	// going through this check) and any other protected-adjacent use.
	if protected {
		if priority != 0 {
			return nil, ErrInvalidPriority
		}
	} else if priority < k.cfg.MaxPrioUnprotected {
		return nil, ErrInvalidPriority
	}

	k.mu.Lock()
	t, err := k.threads.allocate()
	if err != nil {
		k.mu.Unlock()
		return nil, err
	}
	t.inUse = true
	t.priority = priority
	t.name = name
	t.periodic = false
	t.runtime = 0
	t.period = 0
	t.resume = make(chan struct{}, 1)
	t.done = make(chan struct{})
	k.threads.numThreads++

	self := &Thread{k: k, pid: t.pid}

	initial := StatusPending
	if flags&CreateSleeping != 0 {
		initial = StatusSleeping
	}
	k.rq.setStatus(t, initial)

	go k.runThread(t, self, fn)

	if flags&CreateWoutYield == 0 {
		k.scheduleLocked()
	}
	k.mu.Unlock()
	return self, nil
}

// runThread is the goroutine body every created thread executes under:
// wait for the first grant of the run token, run the user body, then
// exit. It never returns control to its caller the way thread_create's
// sp-painted entry point never returns to its creator either.
func (k *Kernel) runThread(t *tcb, self *Thread, fn ThreadFunc) {
	<-t.resume
	fn(self)
	k.taskExit(self)
}

// yieldAndWait blocks self's goroutine until it is next granted the
// run token. Call only after releasing k.mu and only after a state
// transition that has already triggered scheduleLocked.
func (k *Kernel) yieldAndWait(self *Thread) {
	t := k.threads.slots[self.pid]
	<-t.resume
}

// Yield gives up the remaining turn voluntarily, round-robining behind
// any other threads at the same priority (sched's SCHED_YIELD).
func (t *Thread) Yield() {
	k := t.k
	if k.inISR.Load() {
		return
	}
	k.mu.Lock()
	k.scheduleLocked()
	k.mu.Unlock()
	k.yieldAndWait(t)
}

// Sleep blocks the calling thread for the given number of ticks,
// mirroring mintimer's tsleep. ticks == 0 still yields once. A no-op
// if called from inside a timer-fired callback, mirroring
// thread_sleep's irq_is_in() guard against blocking from ISR context.
func (t *Thread) Sleep(ticks uint32) {
	k := t.k
	if k.inISR.Load() {
		return
	}
	if ticks == 0 {
		t.Yield()
		return
	}
	k.mu.Lock()
	me := k.threads.get(t.pid)
	if me == nil {
		k.mu.Unlock()
		return
	}
	k.rq.setStatus(me, StatusSleeping)
	k.scheduleLocked()
	k.mu.Unlock()

	target := k.timers.now64() + uint64(ticks)
	pid := t.pid
	if _, err := k.timers.arm(context.Background(), target, func() { k.wake(pid) }); err != nil {
		k.logger.Printf("psmkernel: sleep timer unavailable for pid %d: %v", pid, err)
	}
	k.yieldAndWait(t)
}

// wake moves a sleeping thread back onto its run queue; called from
// the timer engine's own goroutine, asynchronously to whatever the
// sleeper's caller is doing.
func (k *Kernel) wake(pid int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.threads.get(pid)
	if t == nil || t.status != StatusSleeping {
		return
	}
	k.rq.setStatus(t, StatusPending)
	k.schedSwitchLocked(t.priority, true)
}

// Wakeup forces pid out of SLEEPING early, mirroring thread_wakeup.
// Reports ErrNotFound if pid doesn't exist, nil (no-op) if it exists
// but isn't sleeping.
func (k *Kernel) Wakeup(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.threads.get(pid)
	if t == nil {
		return ErrNotFound
	}
	if t.status != StatusSleeping {
		return nil
	}
	k.rq.setStatus(t, StatusPending)
	k.schedSwitchLocked(t.priority, true)
	return nil
}

// Exit ends the calling thread immediately; it never returns. Use it
// from inside a ThreadFunc to stop short of falling off the end.
func (t *Thread) Exit() {
	t.k.taskExit(t)
	<-t.k.threads.slots[t.pid].resume // park forever; runThread stays blocked inside fn
}

// taskExit frees pid's slot and reschedules, mirroring
// sched_task_exit.
func (k *Kernel) taskExit(self *Thread) {
	k.mu.Lock()
	t := k.threads.get(self.pid)
	if t == nil {
		k.mu.Unlock()
		return
	}
	doneCh := t.done
	k.rq.setStatus(t, StatusStopped)
	t.inUse = false
	k.threads.numThreads--
	k.scheduleLocked()
	k.mu.Unlock()
	close(doneCh)
}

// Wait blocks until the thread has exited.
func (t *Thread) Wait() {
	<-t.k.threads.slots[t.pid].done
}

// ChangeToPeriodical converts the calling thread to the periodic class
// (spec.md §4.4): it is reassigned to cfg.PeriodicPrioLevel, given a
// runtime-per-period tick budget enforced by the scheduler's private
// quantum timer, and put to sleep until the first period boundary,
// mirroring thread_change_to_periodical exactly (it sleeps the caller
// for one period before the periodic schedule proper begins).
func (t *Thread) ChangeToPeriodical(runtime, period uint32) error {
	if runtime == 0 || period == 0 || runtime > period {
		return ErrInvalidPriority
	}
	k := t.k
	k.mu.Lock()
	me := k.threads.get(t.pid)
	if me == nil {
		k.mu.Unlock()
		return ErrNotFound
	}
	if me.status.onRunqueue() {
		lpop(&k.rq.heads[me.priority])
		if k.rq.heads[me.priority].next == nil {
			k.rq.bitcache &^= 1 << uint(me.priority)
		}
	}
	me.priority = k.cfg.PeriodicPrioLevel
	me.periodic = true
	me.period = period
	me.runtime = runtime // fixed per-period budget, ticks
	me.lastRuntime = 0
	me.lastReference = k.timers.now64()
	me.status = StatusSleeping
	k.scheduleLocked()
	k.mu.Unlock()

	target := me.lastReference + uint64(period)
	pid := t.pid
	if _, err := k.timers.arm(context.Background(), target, func() { k.wake(pid) }); err != nil {
		k.logger.Printf("psmkernel: periodic wakeup timer unavailable for pid %d: %v", pid, err)
	}
	k.yieldAndWait(t)
	return nil
}
