package deps

import (
	"iter"

	"github.com/sunmin89/bazel/internal/node"
)

// Compressed is the immutable, minimal-footprint form of a GroupedDeps,
// produced by Compress once a computation completes. It has three shapes,
// distinguished without extra tag storage: the zero value (no deps), a bare
// key (the extremely common single-dep case), and a slice mixing bare keys
// and multi-key groups.
//
// A Compressed must not be mutated and is safe for concurrent readers. It
// does not support random access to groups; use Decompress when that is
// needed.
type Compressed struct {
	single node.Key  // set iff size == 1
	many   []element // set iff size > 1
	size   int
}

// IsEmpty reports whether the compressed store holds no keys.
func (c Compressed) IsEmpty() bool {
	return c.size == 0
}

// NumElements returns the total number of keys across all groups.
func (c Compressed) NumElements() int {
	return c.size
}

// NumGroups returns the number of dependency groups.
func (c Compressed) NumGroups() int {
	switch {
	case c.size == 0:
		return 0
	case c.single != nil:
		return 1
	default:
		return len(c.many)
	}
}

// Groups iterates over the dependency groups in order. Yielded slices must
// not be mutated.
func (c Compressed) Groups() iter.Seq[[]node.Key] {
	return func(yield func([]node.Key) bool) {
		switch {
		case c.size == 0:
		case c.single != nil:
			yield([]node.Key{c.single})
		default:
			for _, e := range c.many {
				if !yield(e.keys()) {
					return
				}
			}
		}
	}
}

// Keys iterates over every key of every group, in store order.
func (c Compressed) Keys() iter.Seq[node.Key] {
	return func(yield func(node.Key) bool) {
		for group := range c.Groups() {
			for _, k := range group {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// Decompress reconstitutes a mutable GroupedDeps equal to the store the
// compressed form was produced from. The result may be mutated freely
// without affecting the receiver.
func (c Compressed) Decompress() *GroupedDeps {
	switch {
	case c.size == 0:
		return &GroupedDeps{}
	case c.single != nil:
		return &GroupedDeps{size: 1, elements: []element{{key: c.single}}}
	default:
		return &GroupedDeps{size: c.size, elements: append([]element(nil), c.many...)}
	}
}
