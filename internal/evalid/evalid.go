// Package evalid carries a per-evaluation identifier through contexts, so
// subscribers can correlate the events of one node evaluation.
package evalid

import (
	"context"
	"math/rand/v2"
)

// key is the context key for the evaluation ID.
type key struct{}

// NewContext returns a copy of parent with a new random evaluation ID
// stored. It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the evaluation ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(key{})
	id, ok := v.(int64)
	return id, ok
}
