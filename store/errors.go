package store

import (
	"fmt"

	"github.com/reqforge/reqpipe/internal/perr"
)

func illegalTransitionErr(from, to TaskStatus) error {
	return perr.New(perr.CodeConflict, fmt.Sprintf("illegal status transition %q -> %q", from, to))
}

// ErrNotFound is returned by TaskStore lookups for an unknown task id.
var ErrNotFound = perr.New(perr.CodeNotFound, "task not found")
