// thread.go - thread control blocks, the fixed thread table, and thread lifecycle

package psmkernel

import (
	"fmt"
)

// Status mirrors spec.md's thread_status_t: STOPPED..PENDING, with
// RUNNING and PENDING being the two on-runqueue states.
type Status int

const (
	StatusStopped Status = iota
	StatusSleeping
	StatusMutexBlocked
	StatusReceiveBlocked
	StatusSendBlocked
	StatusReplyBlocked
	StatusFlagBlockedAny
	StatusFlagBlockedAll
	StatusMboxBlocked
	StatusCondBlocked
	StatusRunning
	StatusPending
)

// statusOnRunqueue is the threshold above (and including) which a status
// means "linked into a priority run queue", per spec.md §3.
const statusOnRunqueue = StatusRunning

func (s Status) onRunqueue() bool { return s >= statusOnRunqueue }

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusSleeping:
		return "SLEEPING"
	case StatusMutexBlocked:
		return "MUTEX_BLOCKED"
	case StatusReceiveBlocked:
		return "RECEIVE_BLOCKED"
	case StatusSendBlocked:
		return "SEND_BLOCKED"
	case StatusReplyBlocked:
		return "REPLY_BLOCKED"
	case StatusFlagBlockedAny:
		return "FLAG_BLOCKED_ANY"
	case StatusFlagBlockedAll:
		return "FLAG_BLOCKED_ALL"
	case StatusMboxBlocked:
		return "MBOX_BLOCKED"
	case StatusCondBlocked:
		return "COND_BLOCKED"
	case StatusRunning:
		return "RUNNING"
	case StatusPending:
		return "PENDING"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// tcb is the Thread Control Block, spec.md §3. One per PID, stored in a
// fixed-size table. Run-queue and mutex wait-list membership is an
// intrusive pointer link through the rq node (see runqueue.go), with
// the same "belongs to at most one list" invariant.
type tcb struct {
	pid      int
	inUse    bool
	status   Status
	priority int

	// Round-robin run-queue link. Only one of runqueues[priority] or a
	// mutex wait list may reference this node at a time.
	rq *rqNode

	// Periodic-class accounting, spec.md §4.4. runtime is the fixed
	// per-period budget set once by ChangeToPeriodical; lastRuntime is
	// the running total of ticks charged against it so far this period
	// and is reset to 0 only when the period actually rolls over.
	// lastReference is the tick timestamp the next charge is measured
	// from: the start of the current dispatch while the thread is
	// running, the next period boundary while it's sleeping off an
	// exhausted budget.
	periodic      bool
	period        uint32
	runtime       uint32
	lastReference uint64
	lastRuntime   uint32

	// name is cosmetic, carried for debugging/logging only.
	name string

	// Execution harness: the goroutine standing in for this thread
	// blocks on resume until the scheduler grants it the run token,
	// and signals done when its body returns (EXIT).
	resume chan struct{}
	done   chan struct{}
}

// newTCB allocates a zero-value control block for the given slot.
func newTCB(pid int) *tcb {
	return &tcb{pid: pid, status: StatusStopped, rq: &rqNode{}}
}

// CreateFlags are the thread-creation bit flags from spec.md §6.
type CreateFlags uint8

const (
	CreateSleeping  CreateFlags = 1 << iota // start SLEEPING instead of PENDING
	CreateWoutYield                         // skip the implicit sched_switch after creation
	CreateStackTest                         // reserved: stack painting / high-water mark checks
	CreateAutoFree                          // reserved, not implemented (spec.md §6)
)

// threadTable is the fixed-size array of TCBs plus the bookkeeping
// needed to allocate/release PIDs, grounded on
// coprocessor_manager.go's `workers [7]*CoprocWorker` fixed array and
// thread.c's `_thread_create_scheduler_internal` linear PID scan.
type threadTable struct {
	slots      []*tcb
	numThreads int
}

func newThreadTable(size int) *threadTable {
	tt := &threadTable{slots: make([]*tcb, size)}
	for i := range tt.slots {
		tt.slots[i] = newTCB(i)
	}
	return tt
}

// allocate finds the first unused slot, as thread_create's linear PID
// scan does, and returns ErrOverflow if the table is full.
func (tt *threadTable) allocate() (*tcb, error) {
	for _, t := range tt.slots {
		if !t.inUse {
			return t, nil
		}
	}
	return nil, ErrOverflow
}

func (tt *threadTable) get(pid int) *tcb {
	if pid < 0 || pid >= len(tt.slots) {
		return nil
	}
	t := tt.slots[pid]
	if !t.inUse {
		return nil
	}
	return t
}

// validateStackConfig reinterprets thread_create's stack-alignment
// bookkeeping (spec.md §4, SPEC_FULL.md §4): Go doesn't expose a raw
// stack to paint, so this only bounds-checks the caller's declared size.
func validateStackConfig(size, min int) error {
	if size < min {
		return fmt.Errorf("%w: %d < %d", ErrStackTooSmall, size, min)
	}
	return nil
}
