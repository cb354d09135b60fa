// Package equality decides whether an inbound event carries a real change
// against the current persisted version of the same entity. Relationship
// lists are kept outside the attribute document (on the record itself) and
// are reconciled separately, so comparison here only covers the attribute
// document minus regenerated fields.
package equality

import (
	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

// Engine compares attribute documents and carries relationship dates forward
// across updates.
type Engine struct {
	logger ectologger.Logger
}

// NewEngine creates a new equality engine.
func NewEngine(logger ectologger.Logger) *Engine {
	return &Engine{logger: logger}
}

// IsSpecimenEqual reports whether an incoming specimen event is equal to the
// current record. Any new or tombstoned hasMedia relationship from this
// cycle's reconciliation forces inequality, even when the documents match
// byte for byte.
func (e *Engine) IsSpecimenEqual(current models.SpecimenRecord, incoming models.SpecimenEvent, rel models.MediaRelationshipResult) bool {
	if rel.HasChanges() {
		return false
	}
	return Fingerprint(current.Attributes) == Fingerprint(incoming.Attributes)
}

// IsMediaEqual reports whether an incoming media event is equal to the
// current record. A new referencing specimen in this batch counts as a
// relationship change and forces inequality, mirroring the specimen-side
// gating.
func (e *Engine) IsMediaEqual(current models.MediaRecord, incoming models.MediaEvent, newOwner bool) bool {
	if newOwner {
		return false
	}
	return Fingerprint(current.Attributes) == Fingerprint(incoming.Attributes)
}

// SetEventDates carries relationship established dates forward from the
// current record for every incoming relationship whose identity matches a
// current one. On duplicate matches the first wins and a consistency warning
// is logged; ambiguous input is never fatal. The input slices are not
// mutated.
func (e *Engine) SetEventDates(pid string, current, incoming []models.EntityRelationship) []models.EntityRelationship {
	out := make([]models.EntityRelationship, len(incoming))
	for i, rel := range incoming {
		matches := 0
		for _, cur := range current {
			if !cur.SameIdentity(rel) {
				continue
			}
			matches++
			if matches == 1 {
				rel.EstablishedDate = cur.EstablishedDate
			}
		}
		if matches > 1 {
			e.logger.WithFields(map[string]any{
				"id":                  pid,
				"relationship_name":   rel.Name,
				"related_resource_id": rel.RelatedResourceID,
				"match_count":         matches,
			}).Warn("Duplicate relationship match while carrying dates forward, keeping first")
		}
		out[i] = rel
	}
	return out
}
