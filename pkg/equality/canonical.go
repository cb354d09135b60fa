package equality

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// regeneratedFields are rewritten on every persist and carry no signal about
// whether the upstream data changed.
var regeneratedFields = map[string]bool{
	"dcterms:created":  true,
	"dcterms:modified": true,
	"ods:lastChecked":  true,
}

// Fingerprint returns a SHA256 hex digest of the canonical form of an
// attribute document, with regenerated fields stripped. Two documents are
// considered equal when their fingerprints match.
func Fingerprint(doc map[string]any) string {
	canonical := canonicalize(doc, "")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalize produces a deterministic string representation by sorting map
// keys and recursing into nested structures. path is the dot-notation location
// used for exclusion matching.
func canonicalize(data any, path string) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v, path)
	case []any:
		return canonicalizeSlice(v, path)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func canonicalizeMap(m map[string]any, path string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := "{"
	first := true
	for _, k := range keys {
		fieldPath := k
		if path != "" {
			fieldPath = path + "." + k
		}
		if regeneratedFields[fieldPath] {
			continue
		}
		if !first {
			result += ","
		}
		first = false
		keyJSON, _ := json.Marshal(k)
		result += string(keyJSON) + ":" + canonicalize(m[k], fieldPath)
	}
	return result + "}"
}

func canonicalizeSlice(arr []any, path string) string {
	result := "["
	for i, v := range arr {
		if i > 0 {
			result += ","
		}
		result += canonicalize(v, path)
	}
	return result + "]"
}
