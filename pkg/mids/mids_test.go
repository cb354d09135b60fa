package mids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func level1Doc() map[string]any {
	return map[string]any{
		"dcterms:license":     "CC0",
		"dcterms:modified":    "2024-03-01",
		"dwc:preparations":    "herbarium sheet",
		"ods:specimenName":    "Quercus robur",
		"ods:topicDiscipline": "Botany",
	}
}

func level2BotanyDoc() map[string]any {
	doc := level1Doc()
	doc["ods:isKnownToContainMedia"] = true
	doc["dwc:country"] = "Netherlands"
	doc["dwc:decimalLatitude"] = 52.08
	doc["dwc:decimalLongitude"] = 4.32
	doc["dwc:eventDate"] = "1997-06-12"
	doc["dwc:recordedBy"] = "A. Collector"
	return doc
}

func level3BotanyDoc() map[string]any {
	doc := level2BotanyDoc()
	doc["ods:organisationID"] = "https://ror.org/0566bfb96"
	doc["dwc:scientificNameID"] = "urn:lsid:ipni.org:names:295763-1"
	doc["dwc:identifiedBy"] = "B. Determiner"
	doc["dwc:identifiedByID"] = "https://orcid.org/0000-0002-1825-0097"
	doc["dwc:coordinateUncertaintyInMeters"] = 50
	doc["dwc:recordedByID"] = "https://orcid.org/0000-0001-2345-6789"
	return doc
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name     string
		doc      map[string]any
		expected int
	}{
		{
			name:     "empty document",
			doc:      map[string]any{},
			expected: 0,
		},
		{
			name: "missing license stays level 0",
			doc: func() map[string]any {
				doc := level1Doc()
				delete(doc, "dcterms:license")
				return doc
			}(),
			expected: 0,
		},
		{
			name:     "all level 1 terms",
			doc:      level1Doc(),
			expected: 1,
		},
		{
			name: "blank placeholder value counts as absent",
			doc: func() map[string]any {
				doc := level1Doc()
				doc["ods:specimenName"] = "Unknown"
				return doc
			}(),
			expected: 0,
		},
		{
			name: "placeholder matching is case-insensitive",
			doc: func() map[string]any {
				doc := level1Doc()
				doc["dwc:preparations"] = "  NULL  "
				return doc
			}(),
			expected: 0,
		},
		{
			name: "unrecognized discipline caps at level 1",
			doc: func() map[string]any {
				doc := level2BotanyDoc()
				doc["ods:topicDiscipline"] = "Numismatics"
				return doc
			}(),
			expected: 1,
		},
		{
			name:     "biological discipline meets level 2",
			doc:      level2BotanyDoc(),
			expected: 2,
		},
		{
			name: "field number substitutes for event date",
			doc: func() map[string]any {
				doc := level2BotanyDoc()
				delete(doc, "dwc:eventDate")
				doc["dwc:fieldNumber"] = "F-1234"
				return doc
			}(),
			expected: 2,
		},
		{
			name: "biological without media flag stays level 1",
			doc: func() map[string]any {
				doc := level2BotanyDoc()
				doc["ods:isKnownToContainMedia"] = false
				return doc
			}(),
			expected: 1,
		},
		{
			name: "paleo discipline meets level 2 without recorded by",
			doc: map[string]any{
				"dcterms:license":      "CC0",
				"dcterms:modified":     "2024-03-01",
				"dwc:preparations":     "fossil",
				"ods:specimenName":     "Tyrannosaurus rex",
				"ods:topicDiscipline":  "Palaeontology",
				"ods:markedAsType":     true,
				"dwc:formation":        "Hell Creek",
				"dwc:country":          "United States",
				"dwc:decimalLatitude":  47.5,
				"dwc:decimalLongitude": -106.9,
			},
			expected: 2,
		},
		{
			name:     "full level 3",
			doc:      level3BotanyDoc(),
			expected: 3,
		},
		{
			name: "level 3 needs recorded by id for biological disciplines",
			doc: func() map[string]any {
				doc := level3BotanyDoc()
				delete(doc, "dwc:recordedByID")
				return doc
			}(),
			expected: 2,
		},
		{
			name: "footprint WKT with precision substitutes for coordinates uncertainty",
			doc: func() map[string]any {
				doc := level3BotanyDoc()
				delete(doc, "dwc:coordinateUncertaintyInMeters")
				doc["dwc:footprintWKT"] = "POINT(4.32 52.08)"
				doc["dwc:coordinatePrecision"] = 0.0001
				return doc
			}(),
			expected: 3,
		},
		{
			name: "level 3 short-circuits when level 2 fails",
			doc: func() map[string]any {
				doc := level3BotanyDoc()
				delete(doc, "dwc:recordedBy")
				return doc
			}(),
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Calculate(tt.doc))
		})
	}
}

func TestHasValueNumericAndBool(t *testing.T) {
	doc := map[string]any{
		"dwc:decimalLatitude": 0.0,
		"ods:markedAsType":    false,
	}
	assert.True(t, hasValue(doc, "dwc:decimalLatitude"), "zero is a valid coordinate")
	assert.True(t, hasValue(doc, "ods:markedAsType"), "false is a present boolean")
	assert.False(t, hasValue(doc, "dwc:decimalLongitude"))
}
