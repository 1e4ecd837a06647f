// Package node defines the opaque key and value types exchanged between the
// evaluation core and the surrounding graph system.
package node

// Key identifies one computation in the graph. Implementations must be
// comparable value types: keys are used as map keys and compared with ==.
type Key interface {
	// Kind names the family of computations this key belongs to. The
	// evaluator dispatches to the registered Function by kind.
	Kind() string
}

// Value is the result of one computation. Values are treated as immutable
// once produced and may be shared freely between computations.
type Value any
