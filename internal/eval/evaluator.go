// Package eval is an in-memory memoizing evaluator over the state-machine
// engine: it runs one Function per key kind, records each computation's
// dependency groups as they are issued, and caches the value together with
// the compressed dependency record.
//
// Cycle detection between computations is out of scope; a dependency cycle
// deadlocks the computations on it.
package eval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunmin89/bazel/internal/deps"
	"github.com/sunmin89/bazel/internal/evalid"
	"github.com/sunmin89/bazel/internal/eventbus"
	"github.com/sunmin89/bazel/internal/events"
	"github.com/sunmin89/bazel/internal/node"
	"github.com/sunmin89/bazel/internal/state"
)

// Function computes values for one kind of node key.
type Function interface {
	// Compute returns a fresh computation for key.
	Compute(key node.Key) Computation
}

// Computation is a single evaluation attempt of one key: a root state
// machine plus the slot its terminal step fills.
type Computation interface {
	state.StateMachine

	// Result returns the computed value. It is read only after the machine
	// has run to completion without error.
	Result() node.Value
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithParallelism sets the worker count of the shared pool. Values below
// one default to GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(e *Evaluator) { e.parallelism = n }
}

// Evaluator evaluates node keys, memoizing values and their dependency
// records. All computations share one worker pool.
type Evaluator struct {
	parallelism int
	pool        *state.Pool
	engine      *state.Engine
	funcs       map[string]Function

	mu    sync.Mutex
	nodes map[node.Key]*entry
}

// entry is the node table slot for one key. Once done is set the remaining
// fields are immutable.
type entry struct {
	done    bool
	value   node.Value
	err     error
	deps    deps.Compressed
	waiters []func(node.Value, error)
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		funcs: make(map[string]Function),
		nodes: make(map[node.Key]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pool = state.NewPool(e.parallelism)
	e.engine = state.NewEngine(e.pool)
	return e
}

// Register installs the function for one key kind. Must be called before
// any Evaluate; re-registering a kind is a caller bug.
func (e *Evaluator) Register(kind string, fn Function) {
	if _, ok := e.funcs[kind]; ok {
		panic(fmt.Sprintf("eval: function for kind %q registered twice", kind))
	}
	e.funcs[kind] = fn
}

// Close stops the worker pool. No Evaluate may be in flight.
func (e *Evaluator) Close() {
	e.pool.Close()
}

// Evaluate computes (or returns the memoized) value for key, together with
// the finalized, compressed record of what the computation depended on.
// A computation that fails reports that failure as its own outcome; the
// error's identity is preserved for the caller to inspect.
func (e *Evaluator) Evaluate(ctx context.Context, key node.Key) (node.Value, deps.Compressed, error) {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	ent := e.startLocked(ctx, key)
	if !ent.done {
		ent.waiters = append(ent.waiters, func(node.Value, error) { ch <- struct{}{} })
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, deps.Compressed{}, ctx.Err()
		case <-ch:
		}
		e.mu.Lock()
	}
	defer e.mu.Unlock()
	return ent.value, ent.deps, ent.err
}

// startLocked returns the entry for key, starting its evaluation if this is
// the first request. Caller holds e.mu.
func (e *Evaluator) startLocked(ctx context.Context, key node.Key) *entry {
	if ent, ok := e.nodes[key]; ok {
		return ent
	}
	ent := &entry{}
	e.nodes[key] = ent

	fn, ok := e.funcs[key.Kind()]
	if !ok {
		ent.done = true
		ent.err = fmt.Errorf("eval: no function registered for kind %q", key.Kind())
		return ent
	}

	comp := fn.Compute(key)
	store := &deps.WithHashSet{}
	// The evaluation is shared by every requester, so it must not die with
	// the first caller's context.
	ectx, _ := evalid.NewContext(context.WithoutCancel(ctx))
	eventbus.Publish(ectx, events.EvalStart{Key: key})
	start := time.Now()

	exec := e.engine.Run(ectx, comp, &recorder{ev: e, owner: key, ctx: ectx, store: store})
	go func() {
		err := exec.Wait()
		var value node.Value
		if err == nil {
			value = comp.Result()
		}
		compressed := store.Compress()
		eventbus.Publish(ectx, events.EvalFinish{
			Key:      key,
			Err:      err,
			Deps:     compressed.NumElements(),
			Groups:   compressed.NumGroups(),
			Duration: time.Since(start),
		})

		e.mu.Lock()
		ent.done = true
		ent.value = value
		ent.err = err
		ent.deps = compressed
		waiters := ent.waiters
		ent.waiters = nil
		e.mu.Unlock()
		for _, w := range waiters {
			w(value, err)
		}
	}()
	return ent
}

// resolve supplies the value for one looked-up key: immediately when the
// node is already done, otherwise once its evaluation (started here if
// necessary) completes.
func (e *Evaluator) resolve(ctx context.Context, key node.Key, i int, done func(int, node.Value, error)) {
	e.mu.Lock()
	ent := e.startLocked(ctx, key)
	if ent.done {
		value, err := ent.value, ent.err
		e.mu.Unlock()
		done(i, value, err)
		return
	}
	ent.waiters = append(ent.waiters, func(value node.Value, err error) { done(i, value, err) })
	e.mu.Unlock()
}

// recorder is the engine-facing resolver for one computation: it appends
// each batch of lookups to the computation's dependency record and routes
// every key to the evaluator.
//
// The store is mutated only from ResolveGroup, which the engine calls from
// the computation's own steps, never concurrently.
type recorder struct {
	ev    *Evaluator
	owner node.Key
	ctx   context.Context
	store *deps.WithHashSet
}

func (r *recorder) ResolveGroup(ctx context.Context, keys []node.Key, done func(int, node.Value, error)) {
	// Only keys this computation has not requested before join the record;
	// the group's place in the sequence is fixed by issue order, not by
	// completion order.
	fresh := make([]node.Key, 0, len(keys))
	for _, k := range keys {
		if !r.store.Contains(k) {
			fresh = append(fresh, k)
		}
	}
	if len(fresh) > 0 {
		r.store.AppendGroup(fresh)
		eventbus.Publish(r.ctx, events.DepGroup{Owner: r.owner, Size: len(fresh)})
	}
	for i, k := range keys {
		r.ev.resolve(ctx, k, i, done)
	}
}
