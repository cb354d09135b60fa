package models

// SpecimenEvent is one inbound digital specimen change event. Media events
// arrive nested inside the specimen event that references them; standalone
// media is carried by an event whose PhysicalSpecimenID is empty on the media
// side. Events are immutable once decoded.
type SpecimenEvent struct {
	PhysicalSpecimenID string         `json:"physical_specimen_id" validate:"required"`
	Type               string         `json:"type" validate:"required"`
	Attributes         map[string]any `json:"attributes" validate:"required"`
	OriginalAttributes map[string]any `json:"original_attributes,omitempty"`
	EnrichmentList     []string       `json:"enrichment_list,omitempty"`
	MediaEvents        []MediaEvent   `json:"media_events,omitempty"`
	ForceSchedule      bool           `json:"force_schedule,omitempty"`
}

// MediaEvent is one inbound digital media change event, bundled inside a
// specimen event. The access URI is the natural key.
type MediaEvent struct {
	AccessURI          string         `json:"access_uri" validate:"required"`
	PhysicalSpecimenID string         `json:"physical_specimen_id,omitempty"`
	Attributes         map[string]any `json:"attributes" validate:"required"`
	OriginalAttributes map[string]any `json:"original_attributes,omitempty"`
	EnrichmentList     []string       `json:"enrichment_list,omitempty"`
	ForceSchedule      bool           `json:"force_schedule,omitempty"`
}
