// Package relationships reconciles one specimen's hasMedia relationships
// against the media events bundled in its incoming event. Persisted
// relationships address media by PID; incoming events address media by access
// URI. The two sides are joined through the batch's URI->PID lookup table.
package relationships

import (
	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

// Reconciler partitions a specimen's current hasMedia relationships into
// tombstoned and unchanged, and its incoming media events into new and
// already-linked.
type Reconciler struct {
	logger ectologger.Logger
}

// NewReconciler creates a new relationship reconciler.
func NewReconciler(logger ectologger.Logger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Reconcile computes the relationship outcome for one specimen.
//
// currentRels are the specimen's persisted relationships (hasMedia entries are
// reconciled, anything else is passed through as unchanged). incoming are the
// media events bundled in this cycle's specimen event. mediaPIDs maps access
// URI -> PID for every media object currently known to the store.
//
// A hasMedia relationship whose PID cannot be resolved back to a URI is
// treated as unresolvable and tombstoned; prior corrupt state heals itself on
// the next sighting. Together, Tombstoned and Unchanged always partition
// currentRels.
func (r *Reconciler) Reconcile(currentRels []models.EntityRelationship, incoming []models.MediaEvent, mediaPIDs map[string]string) models.MediaRelationshipResult {
	pidToURI := make(map[string]string, len(mediaPIDs))
	for uri, pid := range mediaPIDs {
		pidToURI[pid] = uri
	}

	incomingURIs := make(map[string]bool, len(incoming))
	for _, ev := range incoming {
		incomingURIs[ev.AccessURI] = true
	}

	var result models.MediaRelationshipResult
	reachableURIs := make(map[string]bool, len(currentRels))

	for _, rel := range currentRels {
		if rel.Name != models.RelationshipHasMedia {
			result.Unchanged = append(result.Unchanged, rel)
			continue
		}
		uri, resolvable := pidToURI[rel.RelatedResourceID]
		if !resolvable {
			// Self-healing: the target no longer resolves, drop the link.
			r.logger.WithFields(map[string]any{
				"related_resource_id": rel.RelatedResourceID,
			}).Warn("Relationship target does not resolve to a known media object, tombstoning")
			result.Tombstoned = append(result.Tombstoned, rel)
			continue
		}
		reachableURIs[uri] = true
		if !incomingURIs[uri] {
			result.Tombstoned = append(result.Tombstoned, rel)
			continue
		}
		result.Unchanged = append(result.Unchanged, rel)
	}

	for _, ev := range incoming {
		if !reachableURIs[ev.AccessURI] {
			result.New = append(result.New, ev)
		}
	}

	return result
}
