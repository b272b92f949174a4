package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netops-flow/shared"
)

// runJournal writes a run's audit timeline and step transitions through the store.
// Timestamps are strictly increasing within the run. The first store error is
// kept and reported when the run finishes; later writes are still attempted.
type runJournal struct {
	store  RunStore
	runID  int64
	logger *zap.Logger
	now    func() time.Time
	lastTS time.Time
	err    error
}

func newRunJournal(store RunStore, runID int64, logger *zap.Logger, now func() time.Time) *runJournal {
	return &runJournal{store: store, runID: runID, logger: logger, now: now}
}

// tick returns the current time, bumped past the previous entry if the clock did not advance
func (j *runJournal) tick() time.Time {
	ts := j.now().UTC()
	if !ts.After(j.lastTS) {
		ts = j.lastTS.Add(time.Nanosecond)
	}
	j.lastTS = ts
	return ts
}

func (j *runJournal) log(ctx context.Context, level shared.LogLevel, nodeRef, message string, fields map[string]interface{}) {
	entry := &shared.LogEntry{
		RunID:     j.runID,
		NodeRef:   nodeRef,
		Timestamp: j.tick(),
		Level:     level,
		Message:   message,
		Context:   fields,
	}
	if err := j.store.AppendLog(ctx, entry); err != nil {
		j.fail("append log", err)
	}
}

// transition moves a step to a new status and persists it.
// Illegal transitions are refused and reported to the process log.
// The caller must re-check step.Status after moving a step to success.
func (j *runJournal) transition(ctx context.Context, step *shared.Step, to shared.StepStatus) bool {
	if !shared.CanTransition(step.Status, to) {
		j.logger.Error("Illegal step transition",
			zap.Int64("runID", j.runID),
			zap.String("nodeRef", step.NodeRef),
			zap.String("from", string(step.Status)),
			zap.String("to", string(to)))
		return false
	}

	ts := j.tick()
	switch to {
	case shared.StepStatusRunning:
		step.StartedAt = ts
	default:
		step.FinishedAt = ts
	}
	step.Status = to

	if err := j.store.UpdateStep(ctx, step); err != nil {
		if to != shared.StepStatusSuccess {
			j.fail("update step", err)
			return true
		}
		// A success whose output cannot be stored is recorded as a failure without it.
		j.logger.Error("Step output could not be persisted",
			zap.Int64("runID", j.runID),
			zap.String("nodeRef", step.NodeRef),
			zap.Error(err))
		step.Status = shared.StepStatusFailed
		step.Output = nil
		step.Error = "persist output: " + err.Error()
		if err := j.store.UpdateStep(ctx, step); err != nil {
			j.fail("update step", err)
		}
	}
	return true
}

// resume continues the timeline of a run that already has log entries
func (j *runJournal) resume(entries []shared.LogEntry) {
	if n := len(entries); n > 0 && entries[n-1].Timestamp.After(j.lastTS) {
		j.lastTS = entries[n-1].Timestamp
	}
}

func (j *runJournal) fail(op string, err error) {
	j.logger.Error("Run journal write failed",
		zap.Int64("runID", j.runID),
		zap.String("operation", op),
		zap.Error(err))
	if j.err == nil {
		j.err = err
	}
}
