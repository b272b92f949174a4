// Package store holds the persistence adapters for workflows, runs, steps,
// run logs and jobs.
package store

import (
	"errors"
	"sort"

	"netops-flow/shared"
)

var (
	// ErrNotFound is returned when a workflow, run or step does not exist
	ErrNotFound = errors.New("not found")
	// ErrRunNotQueued is returned when cancelling a run that already started
	ErrRunNotQueued = errors.New("run is not queued")
)

func cloneWorkflow(wf *shared.Workflow) *shared.Workflow {
	out := *wf
	out.Nodes = make([]shared.Node, len(wf.Nodes))
	for i, n := range wf.Nodes {
		n.Config = shared.CloneMap(n.Config)
		out.Nodes[i] = n
	}
	out.Edges = append([]shared.Edge(nil), wf.Edges...)
	return &out
}

func cloneRun(run *shared.Run) *shared.Run {
	out := *run
	out.Inputs = shared.CloneMap(run.Inputs)
	out.Outputs = shared.CloneMap(run.Outputs)
	out.Context = shared.CloneMap(run.Context)
	return &out
}

func cloneStep(step *shared.Step) *shared.Step {
	out := *step
	out.Output = shared.CloneMap(step.Output)
	return &out
}

// sortLogs orders entries by timestamp, then by insertion id
func sortLogs(entries []shared.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].ID < entries[j].ID
	})
}
