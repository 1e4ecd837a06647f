package state

import (
	"sync"
	"sync/atomic"
)

// taskNode is one node of the in-memory task tree: a suspended or running
// logical step of a computation. It owns the pending-child counter and the
// continuation to run once the counter reaches zero.
type taskNode struct {
	exec   *Execution
	parent *taskNode // nil for the root

	// pending counts outstanding children and lookups, plus one token for
	// the step currently running on this node. Increments happen at
	// registration time, strictly before the corresponding completion can
	// decrement, so the counter cannot cross zero prematurely.
	pending atomic.Int64

	// machine is the continuation to run at the next zero-crossing; nil
	// once the machine has returned its terminal result.
	machine StateMachine

	// deliverMu serializes sink invocations for this node, so sinks may
	// write plain fields of their machine. Sinks of different nodes still
	// run concurrently.
	deliverMu sync.Mutex

	// Error claiming registered by the parent at spawn time. claimSink is
	// one-shot; cleared after it fires.
	claimSink  func(error)
	claimMatch []ErrorMatcher
}

// signalChildDone records the completion of one child or lookup (or the
// release of the running step's own token). The decrement that reaches zero
// either re-enqueues the node's continuation or, when the machine is done,
// completes the node and signals its parent. Only one decrement can observe
// zero, so each zero-crossing resumes the node at most once.
func (n *taskNode) signalChildDone() {
	if n.pending.Add(-1) > 0 {
		return
	}
	if n.machine != nil {
		n.exec.submit(n)
		return
	}
	if n.parent != nil {
		n.parent.signalChildDone()
		return
	}
	n.exec.finish(nil)
}
