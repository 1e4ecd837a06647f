// Package state implements a concurrent, suspend/resume execution model for
// computations whose dependencies are discovered as they run.
//
// # Overview
//
// A computation is expressed as a tree of StateMachine steps. A step runs on
// a worker, and before returning it may:
//   - issue one or more dependency lookups through its Tasks environment,
//     registering a one-shot sink per key;
//   - spawn sub-machines that run independently of the step's own lookups;
//   - return the next step to run, or nil to finish.
//
// All lookups issued by one step form a single dependency group, handed to
// the Resolver as one batch. The step then suspends by returning: workers
// never block on a lookup. When every lookup and spawned child of the step
// has completed, the node is re-enqueued and the returned next step runs,
// possibly on a different worker. Lookup results may arrive concurrently,
// but the sinks of one node are invoked serially, so a sink may write plain
// fields of its machine.
//
// # Task tree and signaling
//
// Each suspension point is a node of an in-memory task tree holding a
// pending-child counter and the continuation to run next. The counter is
// incremented at registration time, before the corresponding asynchronous
// work is allowed to complete, and additionally carries one token for the
// running step itself, so a fast-completing child can never drive the
// counter to zero while later children are still being registered. A
// decrement that reaches zero is the only resume signal, and the atomic
// counter guarantees exactly one resume per zero-crossing under any
// interleaving of completions.
//
// A node may have only one dependency group in flight at a time; overlap
// across different nodes is how a computation's shape is executed in
// parallel.
//
// # Failures
//
// A lookup that resolves to an error is offered to its sink's declared
// error matchers in order; the first match fires the sink with the error
// and signals the parent as a completed child would. An error matching no
// declared matcher does not fire the sink and does not signal the parent:
// it becomes the execution's outcome, identity preserved.
//
// An error returned by a step itself is classified against the claim
// matchers registered by each ancestor (via SpawnClaiming), lowest ancestor
// first; an unclaimed error likewise fails the whole execution.
//
// # Restartable steps
//
// A continuation is re-invoked at most once per resume and must be written
// to process only the results it is now ready for, not to restart from
// scratch. Progress belongs in the StateMachine value returned by the
// previous step, not in locals captured across the suspension.
package state
