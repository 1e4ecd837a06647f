package state

import "github.com/sunmin89/bazel/internal/node"

// lookup captures information about one dependency requested by a step.
// Exactly one of acceptValue / tryHandleError fires, at most once; parent
// signaling is handled by Execution.deliver.
type lookup interface {
	lookupKey() node.Key
	parentNode() *taskNode
	acceptValue(node.Value)
	// tryHandleError reports whether the sink claimed err. An unclaimed
	// error leaves the sink unfired.
	tryHandleError(err error) bool
}

// consumerLookup delivers values only; every failure is unhandled.
type consumerLookup struct {
	parent *taskNode
	key    node.Key
	sink   ValueSink
}

func (l *consumerLookup) lookupKey() node.Key      { return l.key }
func (l *consumerLookup) parentNode() *taskNode    { return l.parent }
func (l *consumerLookup) acceptValue(v node.Value) { l.sink(v) }

func (l *consumerLookup) tryHandleError(error) bool { return false }

// errorHandlingLookup delivers a value or an error claimed by one of its one
// to three declared matchers, tried in declared order.
type errorHandlingLookup struct {
	parent   *taskNode
	key      node.Key
	sink     ValueOrErrorSink
	matchers []ErrorMatcher
}

func (l *errorHandlingLookup) lookupKey() node.Key   { return l.key }
func (l *errorHandlingLookup) parentNode() *taskNode { return l.parent }

func (l *errorHandlingLookup) acceptValue(v node.Value) {
	l.sink(v, nil)
}

func (l *errorHandlingLookup) tryHandleError(err error) bool {
	if !matchAny(l.matchers, err) {
		return false
	}
	l.sink(nil, err)
	return true
}
