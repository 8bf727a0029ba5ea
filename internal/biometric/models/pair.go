// Package models defines the biometric deduplication records.
package models

import (
	"time"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

// SimilarityPair records one face-similarity hit between two individuals of a
// program, as reported by the remote deduplication engine.
//
// Invariants:
//   - Individual1 < Individual2 by UUID string order, so that the same pair
//     of people always produces the same row regardless of report order.
//   - An individual never pairs with itself.
//   - SimilarityScore is a 0-100 percentage.
type SimilarityPair struct {
	ProgramID   domain.ProgramID
	Individual1 domain.IndividualID
	Individual2 domain.IndividualID

	SimilarityScore float64

	CreatedAt time.Time
}

// NewSimilarityPair builds a pair in canonical order, rejecting self-pairs
// and out-of-range scores.
func NewSimilarityPair(programID domain.ProgramID, a, b domain.IndividualID, score float64, now time.Time) (*SimilarityPair, error) {
	if a == b {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"similarity pair cannot reference %s twice", a)
	}
	if score < 0 || score > 100 {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"similarity score %.2f outside [0, 100]", score)
	}
	if b.String() < a.String() {
		a, b = b, a
	}
	return &SimilarityPair{
		ProgramID:       programID,
		Individual1:     a,
		Individual2:     b,
		SimilarityScore: score,
		CreatedAt:       now,
	}, nil
}

// Other returns the counterpart of id within the pair, and false when id is
// not part of the pair at all.
func (p *SimilarityPair) Other(id domain.IndividualID) (domain.IndividualID, bool) {
	switch id {
	case p.Individual1:
		return p.Individual2, true
	case p.Individual2:
		return p.Individual1, true
	default:
		return domain.IndividualID{}, false
	}
}
