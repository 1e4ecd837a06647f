package state

import (
	"context"
	"sync"

	"github.com/sunmin89/bazel/internal/node"
)

// Resolver supplies dependency values to running executions.
type Resolver interface {
	// ResolveGroup requests the values for one dependency group. The keys
	// of the group were issued by a single step, in issue order. done must
	// be invoked exactly once per index, with the value or the failure for
	// keys[i]; calls may come from any goroutine, concurrently, in any
	// order.
	ResolveGroup(ctx context.Context, keys []node.Key, done func(i int, value node.Value, err error))
}

// Engine schedules task-tree nodes onto a worker pool. Executions started
// on the same engine share its pool; independent computations overlap on
// the pool's workers.
type Engine struct {
	pool *Pool
}

func NewEngine(pool *Pool) *Engine {
	return &Engine{pool: pool}
}

// Run starts a computation rooted at the given machine. Dependency groups
// issued by its steps are handed to resolver. Run never blocks; completion
// is observed through the returned Execution.
func (e *Engine) Run(ctx context.Context, root StateMachine, resolver Resolver) *Execution {
	ex := &Execution{
		engine:   e,
		ctx:      ctx,
		resolver: resolver,
		done:     make(chan struct{}),
	}
	ex.root = &taskNode{exec: ex, machine: root}
	ex.submit(ex.root)
	return ex
}

// Execution is one in-flight computation: the root of a task tree plus its
// terminal outcome.
type Execution struct {
	engine   *Engine
	ctx      context.Context
	resolver Resolver
	root     *taskNode

	done chan struct{}

	mu       sync.Mutex
	finished bool
	err      error
}

// Wait blocks until the computation completes and returns its outcome.
// This is the sole blocking call in the subsystem; it is meant for the
// top-level caller awaiting the root's completion.
func (ex *Execution) Wait() error {
	<-ex.done
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.err
}

// finish records the execution's outcome. The first call wins; later
// completions of abandoned work are ignored.
func (ex *Execution) finish(err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.finished {
		return
	}
	ex.finished = true
	ex.err = err
	close(ex.done)
}

func (ex *Execution) isFinished() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.finished
}

func (ex *Execution) submit(n *taskNode) {
	ex.engine.pool.Submit(func() { ex.runStep(n) })
}

// runStep runs one step of n's machine on the current worker and dispatches
// whatever the step requested.
func (ex *Execution) runStep(n *taskNode) {
	if ex.isFinished() {
		return
	}
	if err := ex.ctx.Err(); err != nil {
		ex.finish(err)
		return
	}

	// One token for the running step itself: children registered below can
	// complete concurrently, but the counter cannot reach zero before the
	// token is released at the bottom.
	n.pending.Store(1)

	tasks := &stepTasks{node: n}
	next, err := n.machine.Step(ex.ctx, tasks)
	tasks.sealed = true
	if err != nil {
		ex.propagate(n, err)
		return
	}
	n.machine = next

	for _, child := range tasks.children {
		ex.submit(child)
	}
	if len(tasks.lookups) > 0 {
		lookups := tasks.lookups
		keys := make([]node.Key, len(lookups))
		for i, l := range lookups {
			keys[i] = l.lookupKey()
		}
		ex.resolver.ResolveGroup(ex.ctx, keys, func(i int, value node.Value, err error) {
			ex.deliver(lookups[i], value, err)
		})
	}

	n.signalChildDone()
}

// deliver routes one resolved lookup back into its owning node.
func (ex *Execution) deliver(l lookup, value node.Value, err error) {
	if ex.isFinished() {
		return
	}
	n := l.parentNode()
	if err == nil {
		n.deliverMu.Lock()
		l.acceptValue(value)
		n.deliverMu.Unlock()
		n.signalChildDone()
		return
	}
	n.deliverMu.Lock()
	handled := l.tryHandleError(err)
	n.deliverMu.Unlock()
	if handled {
		n.signalChildDone()
		return
	}
	// Unhandled: the sink does not fire and the owning node is not
	// signaled. The failure is offered to ancestor claim sinks and, failing
	// those, becomes the execution's own outcome, identity intact.
	ex.propagate(l.parentNode(), err)
}

// propagate classifies an error returned by a step against the claim sinks
// registered along the ancestor chain, lowest first. The claiming node's
// parent is signaled as if the child had completed; with no claimant the
// whole execution fails.
func (ex *Execution) propagate(n *taskNode, err error) {
	for a := n; a != nil; a = a.parent {
		a.deliverMu.Lock()
		sink := a.claimSink
		if sink != nil && matchAny(a.claimMatch, err) {
			a.claimSink = nil
			a.deliverMu.Unlock()
			sink(err)
			a.parent.signalChildDone()
			return
		}
		a.deliverMu.Unlock()
	}
	ex.finish(err)
}
