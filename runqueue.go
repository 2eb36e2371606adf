// runqueue.go - O(1) circular run queues selected by a priority bitmap

package psmkernel

import "math/bits"

// rqNode is the intrusive circular-list node embedded in every tcb,
// grounded on sched.c's clist_node_t: a single "next" pointer, with the
// queue head's own next pointing at the last-appended node so that
// head.next.rq.next is the first (round-robin "currently running is the
// head, head.next is next-to-run" convention from spec.md §4.2).
type rqNode struct {
	next *tcb
}

// runQueueSet is the array of per-priority circular lists plus the
// bitmap selecting among them in O(1), spec.md §3/§4.2.
type runQueueSet struct {
	heads    []rqNode // one sentinel head per priority level
	bitcache uint32
}

func newRunQueueSet(levels int) *runQueueSet {
	return &runQueueSet{heads: make([]rqNode, levels)}
}

// lowestSetBit returns the priority of the lowest set bit in the
// bitmap, i.e. the highest-priority non-empty queue. Callers must not
// call this when the bitmap is zero.
func lowestSetBit(bitcache uint32) int {
	return bits.TrailingZeros32(bitcache)
}

// rpush appends new_node at the end of the circular list (O(1)),
// mirroring sm_clist_rpush.
func rpush(head *rqNode, t *tcb) {
	if head.next != nil {
		t.rq.next = head.next.rq.next
		head.next.rq.next = t
	} else {
		t.rq.next = t
	}
	head.next = t
}

// lpop removes and returns the first element of the circular list,
// mirroring sm_clist_lpop.
func lpop(head *rqNode) *tcb {
	if head.next == nil {
		return nil
	}
	first := head.next.rq.next
	if head.next == first {
		head.next = nil
	} else {
		head.next.rq.next = first.rq.next
	}
	return first
}

// lpoprpush rotates the list by one: [A,B,C] becomes [B,C,A], mirroring
// sm_clist_lpoprpush. Used both for explicit round-robin yield and to
// move a just-scheduled periodic thread behind its peers.
func lpoprpush(head *rqNode) {
	if head.next != nil {
		head.next = head.next.rq.next
	}
}

// setStatus enforces spec.md §4.2's invariant: transitioning into an
// on-runqueue state appends to runqueues[priority] and sets the
// bitmap bit; transitioning out pops and, if the queue empties,
// clears the bit. The new status is written last.
//
// The transition-out path always pops the queue head rather than
// searching for t: by construction (sched.c's sched_set_status) a
// thread is only ever moved out of a run queue while it is the active,
// running thread, which is always at the head by the convention
// documented in spec.md §4.2 (push appends after current).
func (rq *runQueueSet) setStatus(t *tcb, s Status) {
	wasOn := t.status.onRunqueue()
	willBeOn := s.onRunqueue()

	if willBeOn && !wasOn {
		rpush(&rq.heads[t.priority], t)
		rq.bitcache |= 1 << uint(t.priority)
	} else if !willBeOn && wasOn {
		lpop(&rq.heads[t.priority])
		if rq.heads[t.priority].next == nil {
			rq.bitcache &^= 1 << uint(t.priority)
		}
	}
	t.status = s
}

// queueEmpty reports whether the priority's run queue has no threads.
func (rq *runQueueSet) queueEmpty(priority int) bool {
	return rq.heads[priority].next == nil
}
