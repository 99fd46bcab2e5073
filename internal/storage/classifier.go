package storage

import (
	"bytes"
	"strings"
)

// Classifier decides whether a serialized value looks like PHI. It is a
// defense-in-depth heuristic, not a compliance guarantee: PHI that matches
// no keyword slips through, so call-site discipline remains the real
// control. Swap in a stricter allow-list model via NewClientStore.
type Classifier func(value []byte) bool

// phiKeywords is the fixed restricted list. Matching is case-insensitive
// over the serialized value.
var phiKeywords = []string{
	"patient", "diagnosis", "medication", "transcript", "dob", "ssn",
	"mrn", "insurance", "treatment", "symptom", "allergy", "medical",
	"clinical", "lab", "result", "prescription", "icd10", "cpt",
}

// KeywordClassifier flags any value whose lowercased serialization contains
// one of the restricted keywords.
func KeywordClassifier(value []byte) bool {
	lowered := bytes.ToLower(value)
	for _, kw := range phiKeywords {
		if bytes.Contains(lowered, []byte(kw)) {
			return true
		}
	}
	return false
}

// legacyPHIKeys are client-storage keys the original portal was known to
// misuse for PHI. The migration sweep always relocates these regardless of
// content.
var legacyPHIKeys = []string{
	"dictation_draft",
	"last_patient",
	"soap_note_backup",
	"transcript_cache",
	"pump_selection",
}

func isLegacyPHIKey(key string) bool {
	for _, k := range legacyPHIKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
