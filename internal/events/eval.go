package events

import (
	"time"

	"github.com/sunmin89/bazel/internal/node"
)

// EvalStart is emitted when a node evaluation begins.
// Context carries the evaluation ID.
type EvalStart struct {
	Key node.Key
}

// EvalFinish is emitted when a node evaluation completes, successfully or
// not.
type EvalFinish struct {
	Key      node.Key
	Err      error
	Deps     int
	Groups   int
	Duration time.Duration
}

// DepGroup is emitted when a computation issues one dependency group.
type DepGroup struct {
	Owner node.Key
	Size  int
}
