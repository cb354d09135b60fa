// Package mids computes the Minimum Information for Digital Specimens
// compliance level (0-3) of a specimen attribute document. The calculation is
// pure: it reads the document and returns a level, nothing else.
package mids

import (
	"strings"
)

// Attribute terms read by the calculator.
const (
	termLicense            = "dcterms:license"
	termModified           = "dcterms:modified"
	termPreparations       = "dwc:preparations"
	termSpecimenName       = "ods:specimenName"
	termTopicDiscipline    = "ods:topicDiscipline"
	termHasMedia           = "ods:isKnownToContainMedia"
	termMarkedAsType       = "ods:markedAsType"
	termOrganisationID     = "ods:organisationID"
	termRecordedBy         = "dwc:recordedBy"
	termRecordedByID       = "dwc:recordedByID"
	termEventDate          = "dwc:eventDate"
	termFieldNumber        = "dwc:fieldNumber"
	termIdentifiedBy       = "dwc:identifiedBy"
	termIdentifiedByID     = "dwc:identifiedByID"
	termScientificNameID   = "dwc:scientificNameID"
	termLatitude           = "dwc:decimalLatitude"
	termLongitude          = "dwc:decimalLongitude"
	termCoordUncertainty   = "dwc:coordinateUncertaintyInMeters"
	termCoordPrecision     = "dwc:coordinatePrecision"
	termFootprintWKT       = "dwc:footprintWKT"
)

// qualitativeLocationTerms: any non-blank value counts as a qualitative
// location statement.
var qualitativeLocationTerms = []string{
	"dwc:continent", "dwc:country", "dwc:countryCode", "dwc:island",
	"dwc:islandGroup", "dwc:locality", "dwc:municipality",
	"dwc:stateProvince", "dwc:waterBody", "dwc:higherGeography",
}

// stratigraphyTerms: any non-blank value counts as valid stratigraphy.
var stratigraphyTerms = []string{
	"dwc:bed", "dwc:member", "dwc:formation", "dwc:group",
	"dwc:lithostratigraphicTerms",
	"dwc:earliestEonOrLowestEonothem", "dwc:earliestEraOrLowestErathem",
	"dwc:earliestPeriodOrLowestSystem", "dwc:earliestEpochOrLowestSeries",
	"dwc:earliestAgeOrLowestStage",
}

var biologicalDisciplines = map[string]bool{
	"Anthropology": true,
	"Botany":       true,
	"Ecology":      true,
	"Microbiology": true,
	"Zoology":      true,
	"Other Biodiversity": true,
}

var paleoGeologicalDisciplines = map[string]bool{
	"Palaeontology": true,
	"Geology":       true,
	"Astrogeology":  true,
	"Other Geodiversity": true,
}

// blankValues are placeholder strings treated as absent, case-insensitive.
var blankValues = map[string]bool{
	"":                    true,
	"null":                true,
	"unknown":             true,
	"unknown:undigitized": true,
}

// Calculate returns the highest contiguous MIDS tier the document satisfies.
// Each tier short-circuits: failing tier n yields n-1 without evaluating
// further tiers.
func Calculate(doc map[string]any) int {
	if !meetsLevel1(doc) {
		return 0
	}
	if !meetsLevel2(doc) {
		return 1
	}
	if !meetsLevel3(doc) {
		return 2
	}
	return 3
}

func meetsLevel1(doc map[string]any) bool {
	return hasValue(doc, termLicense) &&
		hasValue(doc, termModified) &&
		hasValue(doc, termPreparations) &&
		hasValue(doc, termSpecimenName) &&
		hasValue(doc, termTopicDiscipline)
}

func meetsLevel2(doc map[string]any) bool {
	discipline, _ := stringValue(doc, termTopicDiscipline)
	switch {
	case biologicalDisciplines[discipline]:
		return boolValue(doc, termHasMedia) &&
			hasQualitativeLocation(doc) &&
			hasQuantitativeLocation(doc) &&
			(hasValue(doc, termEventDate) || hasValue(doc, termFieldNumber)) &&
			hasValue(doc, termRecordedBy)
	case paleoGeologicalDisciplines[discipline]:
		return boolValue(doc, termMarkedAsType) &&
			hasStratigraphy(doc) &&
			hasQualitativeLocation(doc) &&
			hasQuantitativeLocation(doc)
	default:
		// Unrecognized discipline caps the level at 1.
		return false
	}
}

func meetsLevel3(doc map[string]any) bool {
	if !hasValue(doc, termOrganisationID) {
		return false
	}
	if !hasValidIdentification(doc) {
		return false
	}
	if !hasValidGeoReference(doc) {
		return false
	}
	discipline, _ := stringValue(doc, termTopicDiscipline)
	if !paleoGeologicalDisciplines[discipline] && !hasValue(doc, termRecordedByID) {
		return false
	}
	return true
}

func hasValidIdentification(doc map[string]any) bool {
	return hasValue(doc, termScientificNameID) &&
		hasValue(doc, termIdentifiedBy) &&
		hasValue(doc, termIdentifiedByID)
}

func hasValidGeoReference(doc map[string]any) bool {
	if hasQuantitativeLocation(doc) && hasValue(doc, termCoordUncertainty) {
		return true
	}
	return hasValue(doc, termFootprintWKT) && hasValue(doc, termCoordPrecision)
}

func hasQualitativeLocation(doc map[string]any) bool {
	for _, term := range qualitativeLocationTerms {
		if hasValue(doc, term) {
			return true
		}
	}
	return false
}

func hasQuantitativeLocation(doc map[string]any) bool {
	return hasValue(doc, termLatitude) && hasValue(doc, termLongitude)
}

func hasStratigraphy(doc map[string]any) bool {
	for _, term := range stratigraphyTerms {
		if hasValue(doc, term) {
			return true
		}
	}
	return false
}

// hasValue reports whether the term is present with a non-blank value.
// Numeric and boolean values are always non-blank.
func hasValue(doc map[string]any, term string) bool {
	v, ok := doc[term]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return !blankValues[strings.ToLower(strings.TrimSpace(s))]
	}
	return true
}

func stringValue(doc map[string]any, term string) (string, bool) {
	v, ok := doc[term]
	if !ok {
		return "", false
	}
	s, isString := v.(string)
	return s, isString
}

func boolValue(doc map[string]any, term string) bool {
	v, ok := doc[term]
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return isBool && b
}
