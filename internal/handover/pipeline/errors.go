package pipeline

import "fmt"

// StageInvariantError reports a failed post-stage validation check. It is
// fatal: no later stage runs once a gate fails.
type StageInvariantError struct {
	Stage  string
	Check  string
	Detail string
}

func (e *StageInvariantError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: invariant %q failed: %s", e.Stage, e.Check, e.Detail)
}

// StageTimeoutError reports that a stage exceeded its deadline. Partial
// results are discarded.
type StageTimeoutError struct {
	Stage string
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("pipeline: stage %s exceeded its deadline", e.Stage)
}
