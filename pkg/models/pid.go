package models

// PidProcessResult is the resolved identifier for one natural key plus the
// identifiers of everything it relates to in this batch. Built fresh per
// batch, never persisted.
type PidProcessResult struct {
	OwnPID      string
	RelatedPIDs map[string]bool
}

// NewPidProcessResult builds a result with an initialized related set.
func NewPidProcessResult(pid string) PidProcessResult {
	return PidProcessResult{OwnPID: pid, RelatedPIDs: map[string]bool{}}
}
