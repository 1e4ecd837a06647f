package eval

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sunmin89/bazel/internal/deps"
	"github.com/sunmin89/bazel/internal/node"
	"github.com/sunmin89/bazel/internal/state"
)

type graphKey string

func (k graphKey) Kind() string { return "graph" }

// graphSpec describes one node of a static test graph: the dependency groups
// its computation issues, one per step, and the leaf contribution added at
// the end.
type graphSpec struct {
	groups [][]node.Key
	leaf   int64
}

// graphFunc evaluates keys from a static spec table, counting how many times
// each key's computation was created.
type graphFunc struct {
	specs map[graphKey]graphSpec

	mu       sync.Mutex
	computed map[graphKey]int
}

func newGraphFunc(specs map[graphKey]graphSpec) *graphFunc {
	return &graphFunc{specs: specs, computed: make(map[graphKey]int)}
}

func (f *graphFunc) Compute(key node.Key) Computation {
	k := key.(graphKey)
	f.mu.Lock()
	f.computed[k]++
	f.mu.Unlock()
	return &graphComputation{spec: f.specs[k]}
}

func (f *graphFunc) computeCount(k graphKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.computed[k]
}

// graphComputation sums the values of its dependencies, one group per step,
// then adds the leaf contribution.
type graphComputation struct {
	spec graphSpec
	next int
	sum  int64
}

func (c *graphComputation) Step(ctx context.Context, tasks state.Tasks) (state.StateMachine, error) {
	if c.next >= len(c.spec.groups) {
		c.sum += c.spec.leaf
		return nil, nil
	}
	for _, k := range c.spec.groups[c.next] {
		tasks.Lookup(k, func(v node.Value) { c.sum += v.(int64) })
	}
	c.next++
	return c, nil
}

func (c *graphComputation) Result() node.Value { return c.sum }

type brokenKey string

func (k brokenKey) Kind() string { return "broken" }

type sourceGone struct{ name string }

func (e *sourceGone) Error() string { return "source gone: " + e.name }

// brokenFunc fails every computation with a sourceGone error.
type brokenFunc struct{}

func (brokenFunc) Compute(key node.Key) Computation {
	return &brokenComputation{key: key.(brokenKey)}
}

type brokenComputation struct{ key brokenKey }

func (c *brokenComputation) Step(ctx context.Context, tasks state.Tasks) (state.StateMachine, error) {
	return nil, &sourceGone{name: string(c.key)}
}

func (c *brokenComputation) Result() node.Value { return nil }

func newTestEvaluator(t *testing.T, specs map[graphKey]graphSpec) (*Evaluator, *graphFunc) {
	t.Helper()
	ev := New(WithParallelism(4))
	t.Cleanup(ev.Close)
	fn := newGraphFunc(specs)
	ev.Register("graph", fn)
	ev.Register("broken", brokenFunc{})
	return ev, fn
}

func recordedGroups(c deps.Compressed) [][]node.Key {
	var out [][]node.Key
	for g := range c.Groups() {
		out = append(out, slices.Clone(g))
	}
	return out
}

func TestEvaluateLeaf(t *testing.T) {
	ev, _ := newTestEvaluator(t, map[graphKey]graphSpec{
		"a": {leaf: 7},
	})

	v, rec, err := ev.Evaluate(context.Background(), graphKey("a"))
	require.NoError(t, err)
	require.Equal(t, int64(7), v)
	require.True(t, rec.IsEmpty())
}

func TestEvaluateRecordsGroupsInIssueOrder(t *testing.T) {
	ev, _ := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{
			{graphKey("x")},
			{graphKey("y"), graphKey("z")},
		}},
		"x": {leaf: 1},
		"y": {leaf: 2},
		"z": {leaf: 3},
	})

	v, rec, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.NoError(t, err)
	require.Equal(t, int64(6), v)
	require.Equal(t, 3, rec.NumElements())
	require.Equal(t, 2, rec.NumGroups())

	want := [][]node.Key{
		{graphKey("x")},
		{graphKey("y"), graphKey("z")},
	}
	if diff := cmp.Diff(want, recordedGroups(rec)); diff != "" {
		t.Errorf("recorded groups mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedDependencyComputedOnce(t *testing.T) {
	ev, fn := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{{graphKey("l"), graphKey("r")}}},
		"l":    {groups: [][]node.Key{{graphKey("base")}}},
		"r":    {groups: [][]node.Key{{graphKey("base")}}},
		"base": {leaf: 1},
	})

	v, _, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
	require.Equal(t, 1, fn.computeCount("base"))
}

func TestEvaluateMemoizes(t *testing.T) {
	ev, fn := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{{graphKey("x")}}},
		"x":    {leaf: 5},
	})

	v1, rec1, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.NoError(t, err)
	v2, rec2, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.Equal(t, 1, fn.computeCount("root"))
	if diff := cmp.Diff(recordedGroups(rec1), recordedGroups(rec2)); diff != "" {
		t.Errorf("records differ across calls (-first +second):\n%s", diff)
	}
}

func TestConcurrentRequestsShareOneComputation(t *testing.T) {
	ev, fn := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{{graphKey("x")}}},
		"x":    {leaf: 9},
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := ev.Evaluate(context.Background(), graphKey("root"))
			require.NoError(t, err)
			require.Equal(t, int64(9), v)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, fn.computeCount("root"))
}

func TestRepeatedKeyJoinsRecordOnce(t *testing.T) {
	// x is looked up again in the second group; only its first request joins
	// the record, but the sink still fires both times.
	ev, _ := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{
			{graphKey("x")},
			{graphKey("x"), graphKey("y")},
		}},
		"x": {leaf: 1},
		"y": {leaf: 2},
	})

	v, rec, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.NoError(t, err)
	require.Equal(t, int64(4), v)

	want := [][]node.Key{
		{graphKey("x")},
		{graphKey("y")},
	}
	if diff := cmp.Diff(want, recordedGroups(rec)); diff != "" {
		t.Errorf("recorded groups mismatch (-want +got):\n%s", diff)
	}
}

type mysteryKey string

func (k mysteryKey) Kind() string { return "mystery" }

func TestUnregisteredKindFails(t *testing.T) {
	ev, _ := newTestEvaluator(t, nil)

	_, _, err := ev.Evaluate(context.Background(), mysteryKey("m"))
	require.ErrorContains(t, err, `no function registered for kind "mystery"`)
}

func TestFailurePreservesIdentity(t *testing.T) {
	ev, _ := newTestEvaluator(t, map[graphKey]graphSpec{
		"root": {groups: [][]node.Key{{brokenKey("srcs")}}},
	})

	_, _, err := ev.Evaluate(context.Background(), graphKey("root"))
	require.Error(t, err)
	var gone *sourceGone
	require.True(t, errors.As(err, &gone))
	require.Equal(t, "srcs", gone.name)
}

// tolerantComputation looks up a dependency it expects may fail and falls
// back to a default value when it does.
type tolerantComputation struct {
	dep    node.Key
	value  int64
	failed bool
}

func (c *tolerantComputation) Step(ctx context.Context, tasks state.Tasks) (state.StateMachine, error) {
	tasks.LookupOrError(c.dep,
		func(v node.Value, err error) {
			if err != nil {
				c.failed = true
				return
			}
			c.value = v.(int64)
		},
		state.MatchError[*sourceGone]())
	return state.Func(c.finish), nil
}

func (c *tolerantComputation) finish(ctx context.Context, tasks state.Tasks) (state.StateMachine, error) {
	if c.failed {
		c.value = -1
	}
	return nil, nil
}

func (c *tolerantComputation) Result() node.Value { return c.value }

type tolerantKey string

func (k tolerantKey) Kind() string { return "tolerant" }

type tolerantFunc struct{ dep node.Key }

func (f tolerantFunc) Compute(key node.Key) Computation {
	return &tolerantComputation{dep: f.dep}
}

func TestClaimedDependencyFailureYieldsFallback(t *testing.T) {
	ev, _ := newTestEvaluator(t, nil)
	ev.Register("tolerant", tolerantFunc{dep: brokenKey("optional")})

	v, rec, err := ev.Evaluate(context.Background(), tolerantKey("t"))
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
	// The failed dependency was still requested, so it is still recorded.
	require.Equal(t, 1, rec.NumElements())
}
