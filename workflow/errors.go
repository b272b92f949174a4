package workflow

import "fmt"

// GraphIntegrityError reports an edge that names a node absent from the workflow,
// or a node ref declared twice. It is a fatal precondition: the run fails
// before any step is created.
type GraphIntegrityError struct {
	EdgeIndex int
	SourceRef string
	TargetRef string
	Missing   string
	Duplicate string
}

func (e *GraphIntegrityError) Error() string {
	if e.Duplicate != "" {
		return fmt.Sprintf("node ref %q is declared more than once", e.Duplicate)
	}
	return fmt.Sprintf("edge %d (%s -> %s) references unknown node %q", e.EdgeIndex, e.SourceRef, e.TargetRef, e.Missing)
}

// NodeExecutionError reports a handler that could not satisfy its contract.
// The executor isolates it to the node's step.
type NodeExecutionError struct {
	NodeRef string
	Err     error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeRef, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// EvaluationError reports a malformed or failing expression
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func nodeError(ref string, format string, args ...interface{}) *NodeExecutionError {
	return &NodeExecutionError{NodeRef: ref, Err: fmt.Errorf(format, args...)}
}
