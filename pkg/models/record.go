package models

import (
	"time"
)

// Relationship names for the two directions of the specimen<->media link.
const (
	RelationshipHasMedia    = "hasMedia"
	RelationshipHasSpecimen = "hasSpecimen"
)

// UnknownSpecimen is the owner linkage value for media that has been unlinked
// from its specimen.
const UnknownSpecimen = "UNKNOWN"

// EntityRelationship is a typed, directed link embedded in the owning record's
// document. Relationships have no independent lifecycle; they persist and die
// with the record that owns them. EstablishedDate must survive updates when
// the (Name, RelatedResourceID) pair is unchanged.
type EntityRelationship struct {
	Name              string    `json:"relationship_name"`
	RelatedResourceID string    `json:"related_resource_id"`
	EstablishedDate   time.Time `json:"relationship_established_date"`
	Remarks           string    `json:"remarks,omitempty"`
}

// SameIdentity reports whether two relationships link the same pair, ignoring
// the established date and remarks.
func (r EntityRelationship) SameIdentity(other EntityRelationship) bool {
	return r.Name == other.Name && r.RelatedResourceID == other.RelatedResourceID
}

// SpecimenRecord is the persisted form of a digital specimen. ID is the
// externally assigned PID; PhysicalSpecimenID is the upstream natural key.
// Version starts at 1 and increments on every non-equal sighting. Created is
// set on first write and never regenerated.
type SpecimenRecord struct {
	ID                 string               `json:"id"`
	Version            int                  `json:"version"`
	MidsLevel          int                  `json:"mids_level"`
	PhysicalSpecimenID string               `json:"physical_specimen_id"`
	Type               string               `json:"type"`
	Attributes         map[string]any       `json:"attributes"`
	OriginalAttributes map[string]any       `json:"original_attributes,omitempty"`
	Relationships      []EntityRelationship `json:"entity_relationships"`
	EnrichmentList     []string             `json:"enrichment_list,omitempty"`
	ForceSchedule      bool                 `json:"force_schedule,omitempty"`
	Created            time.Time            `json:"created"`
	LastChecked        time.Time            `json:"last_checked"`
}

// MediaRecord is the persisted form of a digital media object. AccessURI is
// the natural key; SpecimenID is the owning specimen PID, or UnknownSpecimen
// once unlinked.
type MediaRecord struct {
	ID                 string               `json:"id"`
	Version            int                  `json:"version"`
	AccessURI          string               `json:"access_uri"`
	SpecimenID         string               `json:"specimen_id"`
	Type               string               `json:"type"`
	Attributes         map[string]any       `json:"attributes"`
	OriginalAttributes map[string]any       `json:"original_attributes,omitempty"`
	Relationships      []EntityRelationship `json:"entity_relationships"`
	EnrichmentList     []string             `json:"enrichment_list,omitempty"`
	ForceSchedule      bool                 `json:"force_schedule,omitempty"`
	Created            time.Time            `json:"created"`
	LastChecked        time.Time            `json:"last_checked"`
}
