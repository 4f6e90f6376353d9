package domain

import "time"

// RunState enumerates the orchestrator's per-run states.
type RunState string

const (
	StateListing      RunState = "listing"
	StateFiltering    RunState = "filtering"
	StatePerCandidate RunState = "per_candidate"
	StateFlush        RunState = "flush"
	StateDone         RunState = "done"
	StateAborted      RunState = "aborted"
	StateSkipped      RunState = "skipped"
)

// RunSummary is the user-visible outcome of one source run.
type RunSummary struct {
	RunID             string
	Source            string
	State             RunState
	Listed            int
	SkippedOld        int
	SkippedDuplicate  int
	IngestedFull      int
	IngestedDegraded  int
	Inserted          int
	AttachmentsSaved  int
	AttachmentsFailed int
	Interrupted       bool
	AbortReason       string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Duration returns how long the run took.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Ingested returns the number of records appended to the batch.
func (s RunSummary) Ingested() int {
	return s.IngestedFull + s.IngestedDegraded
}
