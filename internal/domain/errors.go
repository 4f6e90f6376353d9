package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation marks adapter output that breaks pipeline invariants.
	ErrContractViolation = errors.New("adapter contract violation")
	// ErrStoreUnavailable marks a durable store that cannot be queried or written.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Stage names the pipeline step an error or degradation came from.
type Stage string

const (
	StageList    Stage = "list"
	StageDedup   Stage = "dedup"
	StageDetail  Stage = "detail"
	StageExtract Stage = "extract"
	StageRecord  Stage = "record"
	StageFlush   Stage = "flush"
)

// FatalError aborts the current run. Nothing after it is attempted.
type FatalError struct {
	Stage Stage
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a run-level failure.
func Fatal(stage Stage, err error) error {
	return &FatalError{Stage: stage, Err: err}
}

// IsFatal reports whether err aborts the run.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Degradation is a per-candidate failure. The candidate still yields an invalid record.
type Degradation struct {
	Stage Stage
	Err   error
}

func (d Degradation) String() string {
	if d.Err == nil {
		return string(d.Stage)
	}
	return fmt.Sprintf("%s: %v", d.Stage, d.Err)
}
