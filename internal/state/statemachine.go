package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/sunmin89/bazel/internal/node"
)

// StateMachine is one resumable step of a computation.
type StateMachine interface {
	// Step runs the next piece of the computation. It may issue lookups and
	// spawn sub-machines through tasks; those requests are dispatched only
	// after Step returns. A non-nil StateMachine result is the continuation
	// to run once everything requested here has completed; a nil result
	// marks this machine done.
	//
	// Step runs on at most one worker at a time for a given node; it needs
	// no synchronization against its own earlier steps.
	Step(ctx context.Context, tasks Tasks) (StateMachine, error)
}

// Func adapts an ordinary function to a StateMachine, for steps that carry
// no state of their own.
type Func func(ctx context.Context, tasks Tasks) (StateMachine, error)

func (f Func) Step(ctx context.Context, tasks Tasks) (StateMachine, error) {
	return f(ctx, tasks)
}

// ValueSink receives a successfully resolved dependency value.
type ValueSink func(node.Value)

// ValueOrErrorSink receives either a dependency value or an error claimed
// by one of the matchers declared alongside it. Exactly one of the two
// arguments is set.
type ValueOrErrorSink func(node.Value, error)

// ErrorMatcher reports whether a sink is prepared to observe err.
type ErrorMatcher func(error) bool

// MatchError returns an ErrorMatcher claiming errors assignable to E, with
// errors.As semantics.
func MatchError[E error]() ErrorMatcher {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// Tasks is the per-step environment through which a running StateMachine
// requests dependencies and spawns sub-machines. It is valid only until the
// step returns.
type Tasks interface {
	// Lookup requests the value for key. Any failure of the dependency is
	// never delivered to sink; it propagates as the execution's failure.
	Lookup(key node.Key, sink ValueSink)

	// LookupOrError requests the value for key, declaring one to three
	// error matchers the sink is prepared to observe. On failure the
	// matchers are tried in declared order; the first match delivers the
	// error to sink and completes the lookup. An unmatched failure is not
	// delivered and fails the execution.
	LookupOrError(key node.Key, sink ValueOrErrorSink, matchers ...ErrorMatcher)

	// Spawn starts sub as a child of the current node. The current
	// machine's next step does not run until sub has finished.
	Spawn(sub StateMachine)

	// SpawnClaiming is Spawn with error claiming: if sub (or any of its
	// descendants) fails with an error matched by one of the one to three
	// matchers, claim receives the error and the current node is signaled
	// as if the child had completed.
	SpawnClaiming(sub StateMachine, claim func(error), matchers ...ErrorMatcher)
}

// stepTasks collects the requests issued during a single step. Dispatch
// happens in runStep after the step returns.
type stepTasks struct {
	node     *taskNode
	lookups  []lookup
	children []*taskNode
	sealed   bool
}

var _ Tasks = (*stepTasks)(nil)

func (t *stepTasks) Lookup(key node.Key, sink ValueSink) {
	t.checkOpen()
	t.node.pending.Add(1)
	t.lookups = append(t.lookups, &consumerLookup{parent: t.node, key: key, sink: sink})
}

func (t *stepTasks) LookupOrError(key node.Key, sink ValueOrErrorSink, matchers ...ErrorMatcher) {
	t.checkOpen()
	checkMatchers(matchers)
	t.node.pending.Add(1)
	t.lookups = append(t.lookups, &errorHandlingLookup{
		parent:   t.node,
		key:      key,
		sink:     sink,
		matchers: matchers,
	})
}

func (t *stepTasks) Spawn(sub StateMachine) {
	t.checkOpen()
	t.node.pending.Add(1)
	t.children = append(t.children, &taskNode{
		exec:    t.node.exec,
		parent:  t.node,
		machine: sub,
	})
}

func (t *stepTasks) SpawnClaiming(sub StateMachine, claim func(error), matchers ...ErrorMatcher) {
	t.checkOpen()
	if claim == nil {
		panic("state: SpawnClaiming with nil claim sink")
	}
	checkMatchers(matchers)
	t.node.pending.Add(1)
	t.children = append(t.children, &taskNode{
		exec:       t.node.exec,
		parent:     t.node,
		machine:    sub,
		claimSink:  claim,
		claimMatch: matchers,
	})
}

func (t *stepTasks) checkOpen() {
	if t.sealed {
		panic("state: Tasks used after its step returned")
	}
}

func checkMatchers(matchers []ErrorMatcher) {
	if len(matchers) == 0 || len(matchers) > 3 {
		panic(fmt.Sprintf("state: %d error matchers declared, want 1 to 3", len(matchers)))
	}
	for _, m := range matchers {
		if m == nil {
			panic("state: nil error matcher")
		}
	}
}

func matchAny(matchers []ErrorMatcher, err error) bool {
	for _, m := range matchers {
		if m(err) {
			return true
		}
	}
	return false
}
