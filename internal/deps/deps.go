// Package deps stores the dependencies of one computation, preserving the
// groups in which they were requested.
//
// A GroupedDeps does no duplicate checking of its own: the evaluator is
// responsible for only appending keys which are not already present. Groups
// are stored as ordered slices to minimize memory use, but Equal treats the
// keys within a group as unordered.
package deps

import (
	"fmt"
	"iter"

	"github.com/sunmin89/bazel/internal/node"
)

// element is one entry of the backing list: either a bare key (a group of
// size one) or a multi-key group of at least two keys. Exactly one of the
// two fields is set.
type element struct {
	key   node.Key
	group []node.Key
}

func (e element) size() int {
	if e.group == nil {
		return 1
	}
	return len(e.group)
}

// keys returns the element's keys as a slice. The result must not be
// mutated: for multi-key groups it aliases the stored group.
func (e element) keys() []node.Key {
	if e.group == nil {
		return []node.Key{e.key}
	}
	return e.group
}

// GroupedDeps is the mutable, append-mostly form of a computation's
// dependency record. The zero value is an empty store ready for use.
//
// A GroupedDeps is mutated only by the computation that owns it; it becomes
// safe for concurrent readers once it has been compressed.
type GroupedDeps struct {
	// Total number of keys across all groups. At least len(elements), and
	// larger when any element is a multi-key group.
	size     int
	elements []element
}

// AppendSingleton adds a new group holding a single key.
//
// The caller must ensure the key is not already present.
func (d *GroupedDeps) AppendSingleton(key node.Key) {
	d.elements = append(d.elements, element{key: key})
	d.size++
}

// AppendGroup adds a new group. An empty group is a no-op and a one-element
// group degenerates to a singleton entry; the two spellings produce
// identical stores.
//
// The caller must ensure the group is duplicate-free and that none of its
// keys are already present. The slice is copied; the caller keeps ownership
// of group.
func (d *GroupedDeps) AppendGroup(group []node.Key) {
	switch len(group) {
	case 0:
		return
	case 1:
		d.elements = append(d.elements, element{key: group[0]})
	default:
		d.elements = append(d.elements, element{group: append([]node.Key(nil), group...)})
	}
	d.size += len(group)
}

// Remove deletes every key of toRemove from the store, preserving the
// relative order of surviving keys within each group and dropping groups
// that become empty. It takes time proportional to the total number of
// keys, so it should not be called often.
//
// Remove panics if toRemove contains keys that are not present: that
// indicates a caller bug, never a recoverable condition.
func (d *GroupedDeps) Remove(toRemove map[node.Key]struct{}) {
	if len(toRemove) == 0 {
		return
	}
	removed := 0
	newSize := 0
	// len(d.elements) is an upper bound of the needed capacity. Removal
	// normally happens once, just before the store is compressed, so a
	// tighter allocation is not worth computing.
	newElements := make([]element, 0, len(d.elements))
	for _, e := range d.elements {
		if e.group == nil {
			if _, ok := toRemove[e.key]; ok {
				removed++
			} else {
				newElements = append(newElements, e)
				newSize++
			}
			continue
		}
		kept := make([]node.Key, 0, len(e.group))
		for _, k := range e.group {
			if _, ok := toRemove[k]; ok {
				removed++
			} else {
				kept = append(kept, k)
			}
		}
		switch len(kept) {
		case 0:
		case 1:
			newElements = append(newElements, element{key: kept[0]})
		default:
			newElements = append(newElements, element{group: kept})
		}
		newSize += len(kept)
	}
	if removed < len(toRemove) {
		panic(fmt.Sprintf("deps: requested removal of absent key(s): removed %d of %d", removed, len(toRemove)))
	}
	d.elements = newElements
	d.size = newSize
}

// Group returns the group at position i. The result must not be mutated.
func (d *GroupedDeps) Group(i int) []node.Key {
	return d.elements[i].keys()
}

// NumGroups returns the number of dependency groups.
func (d *GroupedDeps) NumGroups() int {
	return len(d.elements)
}

// NumElements returns the number of individual keys, as opposed to the
// number of groups: the sum of all group sizes.
func (d *GroupedDeps) NumElements() int {
	return d.size
}

// IsEmpty reports whether the store holds no keys.
func (d *GroupedDeps) IsEmpty() bool {
	return len(d.elements) == 0
}

// Contains reports whether needle is present in any group. Takes time
// proportional to the total number of keys; use WithHashSet or ToSet when
// doing repeated membership checks.
func (d *GroupedDeps) Contains(needle node.Key) bool {
	for _, e := range d.elements {
		if e.group == nil {
			if e.key == needle {
				return true
			}
			continue
		}
		for _, k := range e.group {
			if k == needle {
				return true
			}
		}
	}
	return false
}

// ToSet returns the set of all keys, ignoring grouping.
func (d *GroupedDeps) ToSet() map[node.Key]struct{} {
	set := make(map[node.Key]struct{}, d.size)
	for _, e := range d.elements {
		if e.group == nil {
			set[e.key] = struct{}{}
			continue
		}
		for _, k := range e.group {
			set[k] = struct{}{}
		}
	}
	return set
}

// Groups iterates over the dependency groups in order. Yielded slices must
// not be mutated.
func (d *GroupedDeps) Groups() iter.Seq[[]node.Key] {
	return func(yield func([]node.Key) bool) {
		for _, e := range d.elements {
			if !yield(e.keys()) {
				return
			}
		}
	}
}

// Keys iterates over every key of every group, in store order.
func (d *GroupedDeps) Keys() iter.Seq[node.Key] {
	return func(yield func(node.Key) bool) {
		for _, e := range d.elements {
			if e.group == nil {
				if !yield(e.key) {
					return
				}
				continue
			}
			for _, k := range e.group {
				if !yield(k) {
					return
				}
			}
		}
	}
}

// Compress returns the immutable, minimal-footprint representation of the
// store. The result shares group storage with the receiver; the receiver
// must not be mutated afterwards unless the compressed form is discarded.
func (d *GroupedDeps) Compress() Compressed {
	switch d.size {
	case 0:
		return Compressed{}
	case 1:
		return Compressed{single: d.elements[0].key, size: 1}
	default:
		return Compressed{many: append([]element(nil), d.elements...), size: d.size}
	}
}

// Equal reports whether two stores record the same dependencies: group i of
// one store must hold the same set of keys as group i of the other, but the
// order of keys within a group is ignored.
func (d *GroupedDeps) Equal(other *GroupedDeps) bool {
	if d == other {
		return true
	}
	if d.size != other.size || len(d.elements) != len(other.elements) {
		return false
	}
	for i := range d.elements {
		if !elementsEqual(d.elements[i], other.elements[i]) {
			return false
		}
	}
	return true
}

func elementsEqual(a, b element) bool {
	if a.group == nil || b.group == nil {
		return a.group == nil && b.group == nil && a.key == b.key
	}
	if len(a.group) != len(b.group) {
		return false
	}
	// The order-sensitive comparison usually succeeds; only fall back to a
	// set comparison when it does not.
	ordered := true
	for i := range a.group {
		if a.group[i] != b.group[i] {
			ordered = false
			break
		}
	}
	if ordered {
		return true
	}
	set := make(map[node.Key]struct{}, len(a.group))
	for _, k := range a.group {
		set[k] = struct{}{}
	}
	for _, k := range b.group {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// Hash is unsupported: computing an order-independent hash per group is too
// expensive to be worth a hash code, and a cheap order-sensitive hash would
// be inconsistent with Equal. It always panics.
func (d *GroupedDeps) Hash() uint64 {
	panic("deps: GroupedDeps is not hashable")
}

func (d *GroupedDeps) String() string {
	return fmt.Sprintf("GroupedDeps{elements: %v, size: %d}", d.elements, d.size)
}

// WithHashSet is a GroupedDeps which keeps a set of its keys up to date,
// trading memory for constant-time Contains.
type WithHashSet struct {
	GroupedDeps
	set map[node.Key]struct{}
}

func (d *WithHashSet) AppendSingleton(key node.Key) {
	d.GroupedDeps.AppendSingleton(key)
	if d.set == nil {
		d.set = make(map[node.Key]struct{})
	}
	d.set[key] = struct{}{}
}

func (d *WithHashSet) AppendGroup(group []node.Key) {
	d.GroupedDeps.AppendGroup(group)
	if d.set == nil {
		d.set = make(map[node.Key]struct{}, len(group))
	}
	for _, k := range group {
		d.set[k] = struct{}{}
	}
}

func (d *WithHashSet) Remove(toRemove map[node.Key]struct{}) {
	d.GroupedDeps.Remove(toRemove)
	for k := range toRemove {
		delete(d.set, k)
	}
}

func (d *WithHashSet) Contains(needle node.Key) bool {
	_, ok := d.set[needle]
	return ok
}

func (d *WithHashSet) ToSet() map[node.Key]struct{} {
	set := make(map[node.Key]struct{}, len(d.set))
	for k := range d.set {
		set[k] = struct{}{}
	}
	return set
}
