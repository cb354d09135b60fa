package models

// Classification is the outcome of comparing one inbound event against the
// current persisted state for its natural key.
type Classification int

const (
	// ClassificationNew means no current record exists for the natural key.
	ClassificationNew Classification = iota
	// ClassificationChanged means a current record exists and the incoming
	// document (or its reconciled relationships) differs from it.
	ClassificationChanged
	// ClassificationEqual means the incoming document is identical to the
	// current record outside of regenerated fields.
	ClassificationEqual
)

func (c Classification) String() string {
	switch c {
	case ClassificationNew:
		return "new"
	case ClassificationChanged:
		return "changed"
	case ClassificationEqual:
		return "equal"
	}
	return "unknown"
}

// SpecimenUpdate pairs a Changed specimen event with the current record it
// supersedes, plus the relationship reconciliation for this cycle.
type SpecimenUpdate struct {
	Event         SpecimenEvent
	Current       SpecimenRecord
	Relationships MediaRelationshipResult
}

// MediaUpdate pairs a Changed media event with the current record it
// supersedes.
type MediaUpdate struct {
	Event   MediaEvent
	Current MediaRecord
}

// MediaRelationshipResult is the outcome of reconciling one specimen's
// hasMedia relationships for one batch cycle. Tombstoned and Unchanged
// partition the current relationship set; New holds the media events not
// reachable through any current relationship. Transient, consumed within the
// same processing pass.
type MediaRelationshipResult struct {
	Tombstoned []EntityRelationship
	New        []MediaEvent
	Unchanged  []EntityRelationship
}

// HasChanges reports whether the reconciliation produced any new or
// tombstoned relationships. Any change forces a Changed classification even
// when the rest of the document is identical.
func (r MediaRelationshipResult) HasChanges() bool {
	return len(r.New) > 0 || len(r.Tombstoned) > 0
}
