package searchindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"intake/pkg/domain"
)

// Memory is an in-memory Index used by unit tests and local runs.
//
// Scoring approximates the production engine deterministically: each clause
// contributes baseScore x boost, fuzzy clauses scaled by string similarity
// and gated on AUTO edit distance, and dis_max keeps the best subquery.
type Memory struct {
	mu   sync.RWMutex
	docs map[domain.IndividualID]Document
}

const baseScore = 5.0

func NewMemory() *Memory {
	return &Memory{docs: make(map[domain.IndividualID]Document)}
}

func (m *Memory) Upsert(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.docs[doc.ID] = doc
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ids []domain.IndividualID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *Memory) DeleteByImport(_ context.Context, importID domain.ImportID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range m.docs {
		if doc.ImportID == importID.String() {
			delete(m.docs, id)
		}
	}
	return nil
}

// Len reports the number of indexed documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *Memory) Search(_ context.Context, q Query) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, doc := range m.docs {
		if !matchesFilters(doc, q.Query.Bool.Filter) {
			continue
		}
		if excluded(doc, q.Query.Bool.MustNot) {
			continue
		}

		score := 0.0
		satisfied := true
		for _, clause := range q.Query.Bool.Must {
			s := scoreClause(doc, clause)
			if s <= 0 {
				satisfied = false
				break
			}
			score += s
		}
		if !satisfied || score < q.MinScore {
			continue
		}

		hits = append(hits, Hit{
			ID:           doc.ID,
			FullName:     doc.FullName,
			IdentityHash: doc.IdentityHash,
			Score:        score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
	return hits, nil
}

func matchesFilters(doc Document, filters []Clause) bool {
	for _, f := range filters {
		for field, params := range f.Term {
			if !equalsFold(fieldValue(doc, field), params.Value) {
				return false
			}
		}
	}
	return true
}

func excluded(doc Document, mustNot []Clause) bool {
	for _, c := range mustNot {
		for field, params := range c.Match {
			if equalsFold(fieldValue(doc, field), params.Query) {
				return true
			}
		}
		for field, params := range c.Term {
			if equalsFold(fieldValue(doc, field), params.Value) {
				return true
			}
		}
	}
	return false
}

func scoreClause(doc Document, c Clause) float64 {
	if c.DisMax != nil {
		best := 0.0
		for _, sub := range c.DisMax.Queries {
			if s := scoreClause(doc, sub); s > best {
				best = s
			}
		}
		return best
	}
	for field, params := range c.Term {
		if equalsFold(fieldValue(doc, field), params.Value) {
			return baseScore * boostOr1(params.Boost)
		}
	}
	for field, params := range c.Match {
		if analyzed(fieldValue(doc, field)) == analyzed(params.Query) && params.Query != "" {
			return baseScore * boostOr1(params.Boost)
		}
	}
	for field, params := range c.Fuzzy {
		if s := fuzzyScore(fieldValue(doc, field), params.Value); s > 0 {
			return s * boostOr1(params.Boost)
		}
	}
	return 0
}

// fuzzyScore applies AUTO fuzziness: terms shorter than 3 runes must match
// exactly, 3-5 runes allow one edit, longer terms allow two.
func fuzzyScore(value, query string) float64 {
	value = analyzed(value)
	query = analyzed(query)
	if value == "" || query == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(value, query)
	if dist > autoMaxEdits(query) {
		return 0
	}
	length := utf8.RuneCountInString(query)
	if l := utf8.RuneCountInString(value); l > length {
		length = l
	}
	return baseScore * (1 - float64(dist)/float64(length))
}

func autoMaxEdits(term string) int {
	switch n := utf8.RuneCountInString(term); {
	case n < 3:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

func fieldValue(doc Document, field string) string {
	switch field {
	case "id":
		return doc.ID.String()
	case "given_name":
		return doc.GivenName
	case "middle_name":
		return doc.MiddleName
	case "family_name":
		return doc.FamilyName
	case "full_name":
		return doc.FullName
	case "relationship":
		return doc.Relationship
	case "sex":
		return doc.Sex
	case "birth_date":
		return doc.BirthDate
	case "phone_no":
		return doc.PhoneNumber
	case "phone_no_alternative":
		return doc.PhoneNumberAlt
	case "identity_hash":
		return doc.IdentityHash
	case "business_area":
		return doc.BusinessArea.String()
	case "registration_data_import_id":
		return doc.ImportID
	default:
		return ""
	}
}

func boostOr1(boost float64) float64 {
	if boost == 0 {
		return 1
	}
	return boost
}

func analyzed(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func equalsFold(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
