package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"intake/pkg/domain"
)

// MatchCandidate is one scored hit from a deduplication run.
type MatchCandidate struct {
	MatchedID   domain.IndividualID `json:"matched_id"`
	DisplayName string              `json:"name"`
	Score       float64             `json:"score"`
	// Proximity is the hit's score minus the duplicate threshold that was in
	// force; positive values crossed it.
	Proximity float64 `json:"proximity_to_threshold"`
}

// DedupResults is the structured per-individual result payload of one
// deduplication pass, split by classification.
type DedupResults struct {
	Duplicates         []MatchCandidate `json:"duplicates"`
	PossibleDuplicates []MatchCandidate `json:"possible_duplicates"`
}

// IsEmpty reports whether the pass produced no candidates at all.
func (r DedupResults) IsEmpty() bool {
	return len(r.Duplicates) == 0 && len(r.PossibleDuplicates) == 0
}

// MarshalPayload serializes the results for storage.
func (r DedupResults) MarshalPayload() ([]byte, error) {
	return json.Marshal(r)
}

// ParseDedupResults validates and decodes a stored payload. The shape is
// checked on read rather than trusting what is in the row.
func ParseDedupResults(raw []byte) (DedupResults, error) {
	if len(raw) == 0 {
		return DedupResults{}, nil
	}
	var r DedupResults
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return DedupResults{}, fmt.Errorf("parse dedup results: %w", err)
	}
	for _, c := range append(r.Duplicates, r.PossibleDuplicates...) {
		if c.MatchedID.IsNil() {
			return DedupResults{}, fmt.Errorf("parse dedup results: candidate with nil matched_id")
		}
		if c.Score < 0 {
			return DedupResults{}, fmt.Errorf("parse dedup results: negative score %f", c.Score)
		}
	}
	return r, nil
}
