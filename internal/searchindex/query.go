package searchindex

// Query is the wire shape of a similarity query:
//
//	{min_score, query: {bool: {must: [{dis_max: {queries: [...]}}],
//	                           must_not: [{match: {id: ...}}],
//	                           filter: [{term: {...}}]}}}
//
// Every query carries a must_not excluding the querying individual's own id
// and exactly one filter term scoping it to an import (batch scope) or a
// business area (population scope).
type Query struct {
	MinScore float64   `json:"min_score"`
	Query    BoolQuery `json:"query"`
}

// BoolQuery wraps the boolean clause tree.
type BoolQuery struct {
	Bool BoolClauses `json:"bool"`
}

// BoolClauses holds the three clause lists this pipeline uses.
type BoolClauses struct {
	Must    []Clause `json:"must"`
	MustNot []Clause `json:"must_not"`
	Filter  []Clause `json:"filter"`
}

// Clause is a union of the clause kinds the contract allows. Exactly one
// field is set.
type Clause struct {
	DisMax *DisMax                `json:"dis_max,omitempty"`
	Match  map[string]MatchParams `json:"match,omitempty"`
	Term   map[string]TermParams  `json:"term,omitempty"`
	Fuzzy  map[string]FuzzyParams `json:"fuzzy,omitempty"`
}

// DisMax scores a document with the best of its subqueries.
type DisMax struct {
	Queries []Clause `json:"queries"`
}

// MatchParams is an analyzed exact match with optional boost.
type MatchParams struct {
	Query string  `json:"query"`
	Boost float64 `json:"boost,omitempty"`
}

// TermParams is an unanalyzed exact match with optional boost.
type TermParams struct {
	Value string  `json:"value"`
	Boost float64 `json:"boost,omitempty"`
}

// FuzzyParams is an edit-distance match. Fuzziness is "AUTO" throughout this
// pipeline; transpositions count as single edits.
type FuzzyParams struct {
	Value          string  `json:"value"`
	Fuzziness      string  `json:"fuzziness"`
	Transpositions bool    `json:"transpositions"`
	Boost          float64 `json:"boost,omitempty"`
}

// TermClause builds a single-field term clause.
func TermClause(field, value string, boost float64) Clause {
	return Clause{Term: map[string]TermParams{field: {Value: value, Boost: boost}}}
}

// MatchClause builds a single-field match clause.
func MatchClause(field, value string, boost float64) Clause {
	return Clause{Match: map[string]MatchParams{field: {Query: value, Boost: boost}}}
}

// FuzzyClause builds a single-field AUTO-fuzziness clause.
func FuzzyClause(field, value string, boost float64) Clause {
	return Clause{Fuzzy: map[string]FuzzyParams{field: {
		Value:          value,
		Fuzziness:      "AUTO",
		Transpositions: true,
		Boost:          boost,
	}}}
}
