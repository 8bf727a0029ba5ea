// Package engine scores one individual against the similarity index and
// classifies the hits into duplicates and possible duplicates.
package engine

import (
	"context"
	"fmt"
	"strings"

	"intake/internal/registration/models"
	"intake/internal/searchindex"
	"intake/pkg/domain"
)

// Scope restricts a query to the individual's own import batch or to the
// business area's full merged population.
type Scope struct {
	importID     domain.ImportID
	businessArea domain.BusinessAreaSlug
}

// BatchScope restricts the search to the same import batch.
func BatchScope(importID domain.ImportID) Scope {
	return Scope{importID: importID}
}

// PopulationScope restricts the search to the business area's golden record.
func PopulationScope(slug domain.BusinessAreaSlug) Scope {
	return Scope{businessArea: slug}
}

// IsPopulation reports whether the scope covers the golden record. Only
// population-scope hits below the duplicate threshold become possible
// duplicates; batch scope flags hard duplicates only.
func (s Scope) IsPopulation() bool { return s.importID.IsNil() }

// Params carries the threshold pair in force for one call site: the loose
// batch pair or the strict golden-record pair.
type Params struct {
	// DuplicateScore is the automatic-duplicate threshold.
	DuplicateScore float64
	// PossibleDuplicateScore is the query's min_score; hits below it are
	// never returned.
	PossibleDuplicateScore float64
}

// Result is the classified outcome of one engine run.
type Result struct {
	DuplicateIDs         []domain.IndividualID
	PossibleDuplicateIDs []domain.IndividualID
	Results              models.DedupResults
}

// Fields is the fixed identity attribute set extracted for matching.
type Fields struct {
	GivenName      string
	MiddleName     string
	FamilyName     string
	FullName       string
	Relationship   string
	Sex            string
	BirthDate      string
	PhoneNumber    string
	PhoneNumberAlt string
	IdentityHash   string
}

// Engine runs similarity queries against an Index.
type Engine struct {
	index searchindex.Index
}

func New(index searchindex.Index) *Engine {
	return &Engine{index: index}
}

// PrepareFields extracts the identity attributes used for matching. Phone
// values are normalized to their raw string form.
func PrepareFields(ind *models.Individual) Fields {
	return Fields{
		GivenName:      strings.TrimSpace(ind.GivenName),
		MiddleName:     strings.TrimSpace(ind.MiddleName),
		FamilyName:     strings.TrimSpace(ind.FamilyName),
		FullName:       strings.TrimSpace(ind.FullName),
		Relationship:   strings.TrimSpace(ind.Relationship),
		Sex:            strings.TrimSpace(ind.Sex),
		BirthDate:      ind.BirthDate.Format("2006-01-02"),
		PhoneNumber:    strings.TrimSpace(ind.PhoneNumber),
		PhoneNumberAlt: strings.TrimSpace(ind.PhoneNumberAlt),
		IdentityHash:   ind.IdentityHash,
	}
}

// Boosts applied per field. An exact full-name match carries double weight;
// the hash term is boosted so an exact identity collision outscores any fuzzy
// combination.
const (
	boostIdentityHash = 4.0
	boostBirthDate    = 1.0
	boostFullName     = 2.0
	boostNameFuzzy    = 1.0
	boostNamePart     = 0.5
	boostPhone        = 1.0
	boostWeakField    = 0.2
)

// BuildQuery constructs the disjunctive-max multi-field query for one
// individual. The query always excludes the individual's own id and carries
// exactly one scope filter.
func BuildQuery(ind *models.Individual, f Fields, minScore float64, scope Scope) searchindex.Query {
	var queries []searchindex.Clause

	if f.IdentityHash != "" {
		queries = append(queries, searchindex.TermClause("identity_hash", f.IdentityHash, boostIdentityHash))
	}
	queries = append(queries, searchindex.TermClause("birth_date", f.BirthDate, boostBirthDate))
	if f.FullName != "" {
		queries = append(queries,
			searchindex.MatchClause("full_name", f.FullName, boostFullName),
			searchindex.FuzzyClause("full_name", f.FullName, boostNameFuzzy),
		)
	}
	for field, value := range map[string]string{
		"given_name":  f.GivenName,
		"middle_name": f.MiddleName,
		"family_name": f.FamilyName,
	} {
		if value != "" {
			queries = append(queries, searchindex.FuzzyClause(field, value, boostNamePart))
		}
	}
	for field, value := range map[string]string{
		"phone_no":             f.PhoneNumber,
		"phone_no_alternative": f.PhoneNumberAlt,
	} {
		if value != "" {
			queries = append(queries, searchindex.FuzzyClause(field, value, boostPhone))
		}
	}
	for field, value := range map[string]string{
		"relationship": f.Relationship,
		"sex":          f.Sex,
	} {
		if value != "" {
			queries = append(queries, searchindex.FuzzyClause(field, value, boostWeakField))
		}
	}

	filter := searchindex.TermClause("business_area", scope.businessArea.String(), 0)
	if !scope.IsPopulation() {
		filter = searchindex.TermClause("registration_data_import_id", scope.importID.String(), 0)
	}

	return searchindex.Query{
		MinScore: minScore,
		Query: searchindex.BoolQuery{
			Bool: searchindex.BoolClauses{
				Must:    []searchindex.Clause{{DisMax: &searchindex.DisMax{Queries: queries}}},
				MustNot: []searchindex.Clause{searchindex.MatchClause("id", ind.ID.String(), 0)},
				Filter:  []searchindex.Clause{filter},
			},
		},
	}
}

// Deduplicate finds and classifies the closest matches for one individual.
//
// A hit is a duplicate when its identity hash equals the individual's own
// (identical record, regardless of score or threshold) or its score reaches
// the duplicate threshold. Anything else is a possible duplicate, population
// scope only.
func (e *Engine) Deduplicate(ctx context.Context, ind *models.Individual, scope Scope, p Params) (Result, error) {
	fields := PrepareFields(ind)
	query := BuildQuery(ind, fields, p.PossibleDuplicateScore, scope)

	hits, err := e.index.Search(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("deduplicate individual %s: %w", ind.ID, err)
	}

	var result Result
	for _, hit := range hits {
		if hit.ID == ind.ID {
			// The query's must_not already excludes the individual; this
			// guards against an index that ignores it.
			continue
		}
		candidate := models.MatchCandidate{
			MatchedID:   hit.ID,
			DisplayName: hit.FullName,
			Score:       hit.Score,
			Proximity:   hit.Score - p.DuplicateScore,
		}
		switch {
		case hit.IdentityHash != "" && hit.IdentityHash == ind.IdentityHash,
			hit.Score >= p.DuplicateScore:
			result.DuplicateIDs = append(result.DuplicateIDs, hit.ID)
			result.Results.Duplicates = append(result.Results.Duplicates, candidate)
		case scope.IsPopulation():
			result.PossibleDuplicateIDs = append(result.PossibleDuplicateIDs, hit.ID)
			result.Results.PossibleDuplicates = append(result.Results.PossibleDuplicates, candidate)
		}
	}
	return result, nil
}
