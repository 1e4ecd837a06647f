package eval

import (
	"github.com/sunmin89/bazel/internal/deps"
	"github.com/sunmin89/bazel/internal/node"
)

// FirstDirtyGroup walks a completed computation's dependency record in
// group order and returns the index and keys of the first group containing
// a key reported changed, or (-1, nil) when none does. Change-driven
// re-validation re-checks one group at a time and stops at the first dirty
// one, which is exactly the ordering the record guarantees.
func FirstDirtyGroup(c deps.Compressed, changed func(node.Key) bool) (int, []node.Key) {
	i := 0
	for group := range c.Groups() {
		for _, k := range group {
			if changed(k) {
				return i, group
			}
		}
		i++
	}
	return -1, nil
}
