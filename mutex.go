// mutex.go - priority-ordered mutex with at most one lock holder

package psmkernel

// mutexLocked is the sentinel marking "locked, no waiters", distinct
// from any real *tcb, mirroring mutex.c's `mutex_LOCKED` sentinel
// pointer stored in mutex.queue.next.
var mutexLocked = &tcb{pid: -1, name: "<mutex-locked-sentinel>"}

// Mutex is a priority-ordered lock: at most one holder, waiters kept
// sorted smallest-priority-value-first (spec.md §4.5). Like the run
// queue, the wait list reuses each blocked thread's rq node as its
// singly-linked-list link — a thread is never in both lists at once.
type Mutex struct {
	k    *Kernel
	next *tcb // nil: unlocked. mutexLocked: locked, no waiters. else: head waiter.
}

// NewMutex creates an unlocked mutex bound to this kernel.
func (k *Kernel) NewMutex() *Mutex {
	return &Mutex{k: k}
}

// insertByPriority inserts t into the wait list ordered by ascending
// priority value (0 = highest), walking from the head as mutex.c's
// thread_add_to_list does.
func insertByPriority(head **tcb, t *tcb) {
	cur := head
	for *cur != nil && (*cur).priority <= t.priority {
		cur = &(*cur).rq.next
	}
	t.rq.next = *cur
	*cur = t
}

// Lock blocks the calling thread until it holds m. Mirrors mutex.c's
// _mutex_lock(mutex, blocking=true).
func (m *Mutex) Lock(self *Thread) {
	k := m.k
	k.mu.Lock()
	if m.next == nil {
		m.next = mutexLocked
		k.mu.Unlock()
		return
	}
	me := k.threads.get(self.pid)
	k.rq.setStatus(me, StatusMutexBlocked)
	if m.next == mutexLocked {
		m.next = me
		me.rq.next = nil
	} else {
		insertByPriority(&m.next, me)
	}
	k.scheduleLocked()
	k.mu.Unlock()
	k.yieldAndWait(self)
	// We were woken up by the unlocker; we now hold the mutex.
}

// TryLock acquires m without blocking, returning false if it was
// already locked. Named explicitly in spec.md §4.5's contract list but
// left undetailed in spec.md's distillation; behavior follows
// mutex.c's `_mutex_lock(mutex, blocking=false)` path.
func (m *Mutex) TryLock() bool {
	k := m.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if m.next == nil {
		m.next = mutexLocked
		return true
	}
	return false
}

// Unlock releases m, transferring ownership to the highest-priority
// waiter if any (mutex.c's mutex_unlock). A switch is only requested,
// never forced, if the unblocked thread outranks the caller.
func (m *Mutex) Unlock(self *Thread) {
	k := m.k
	k.mu.Lock()
	if m.next == nil {
		k.mu.Unlock()
		return
	}
	if m.next == mutexLocked {
		m.next = nil
		k.mu.Unlock()
		return
	}
	next := m.next
	m.next = next.rq.next
	next.rq.next = nil
	k.rq.setStatus(next, StatusPending)
	if m.next == nil {
		m.next = mutexLocked
	}
	otherPrio := next.priority
	k.schedSwitchLocked(otherPrio, false)
	k.mu.Unlock()
}

// UnlockAndSleep atomically unlocks m (as Unlock does) and puts the
// caller to sleep, then yields. Mirrors mutex_unlock_and_sleep, the
// combined primitive used to avoid a lost-wakeup window between
// releasing a resource and blocking on the next one.
func (m *Mutex) UnlockAndSleep(self *Thread) {
	k := m.k
	k.mu.Lock()
	if m.next != nil {
		if m.next == mutexLocked {
			m.next = nil
		} else {
			next := m.next
			m.next = next.rq.next
			next.rq.next = nil
			k.rq.setStatus(next, StatusPending)
			if m.next == nil {
				m.next = mutexLocked
			}
		}
	}
	me := k.threads.get(self.pid)
	k.rq.setStatus(me, StatusSleeping)
	k.scheduleLocked()
	k.mu.Unlock()
	k.yieldAndWait(self)
}
