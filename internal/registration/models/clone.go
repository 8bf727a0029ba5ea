package models

import "intake/pkg/domain"

// Clone returns a deep copy safe for memory stores to hand out.
func (i *Individual) Clone() *Individual {
	out := *i
	if i.Documents != nil {
		out.Documents = make([]Document, len(i.Documents))
		copy(out.Documents, i.Documents)
	}
	out.DeduplicationBatchResults = i.DeduplicationBatchResults.clone()
	out.DeduplicationGoldenRecordResults = i.DeduplicationGoldenRecordResults.clone()
	return &out
}

// Clone returns a deep copy safe for memory stores to hand out.
func (h *Household) Clone() *Household {
	out := *h
	if h.Roles != nil {
		out.Roles = make(map[string]domain.IndividualID, len(h.Roles))
		for role, id := range h.Roles {
			out.Roles[role] = id
		}
	}
	return &out
}

func (r DedupResults) clone() DedupResults {
	out := DedupResults{}
	if r.Duplicates != nil {
		out.Duplicates = make([]MatchCandidate, len(r.Duplicates))
		copy(out.Duplicates, r.Duplicates)
	}
	if r.PossibleDuplicates != nil {
		out.PossibleDuplicates = make([]MatchCandidate, len(r.PossibleDuplicates))
		copy(out.PossibleDuplicates, r.PossibleDuplicates)
	}
	return out
}
