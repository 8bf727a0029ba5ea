package searchindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intake/pkg/domain"
)

type MemoryIndexSuite struct {
	suite.Suite
	index *Memory
	ctx   context.Context
}

func (s *MemoryIndexSuite) SetupTest() {
	s.index = NewMemory()
	s.ctx = context.Background()
}

func TestMemoryIndexSuite(t *testing.T) {
	suite.Run(t, new(MemoryIndexSuite))
}

func newID() domain.IndividualID { return domain.IndividualID(uuid.New()) }

func (s *MemoryIndexSuite) seed(docs ...Document) {
	s.Require().NoError(s.index.Upsert(s.ctx, docs))
}

func boolQuery(must []Clause, mustNot []Clause, filter []Clause, minScore float64) Query {
	return Query{
		MinScore: minScore,
		Query:    BoolQuery{Bool: BoolClauses{Must: must, MustNot: mustNot, Filter: filter}},
	}
}

func (s *MemoryIndexSuite) TestScopeFilters() {
	importA := uuid.NewString()
	importB := uuid.NewString()
	inBatch := Document{ID: newID(), FullName: "Ayo Adeyemi", ImportID: importA}
	otherBatch := Document{ID: newID(), FullName: "Ayo Adeyemi", ImportID: importB}
	merged := Document{ID: newID(), FullName: "Ayo Adeyemi", ImportID: importB, BusinessArea: "nigeria"}
	s.seed(inBatch, otherBatch, merged)

	must := []Clause{MatchClause("full_name", "Ayo Adeyemi", 1)}

	s.Run("batch filter only sees the same import", func() {
		hits, err := s.index.Search(s.ctx,
			boolQuery(must, nil, []Clause{TermClause("registration_data_import_id", importA, 0)}, 0))
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.Equal(inBatch.ID, hits[0].ID)
	})

	s.Run("population filter only sees merged documents", func() {
		hits, err := s.index.Search(s.ctx,
			boolQuery(must, nil, []Clause{TermClause("business_area", "nigeria", 0)}, 0))
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.Equal(merged.ID, hits[0].ID)
	})

	s.Run("pending documents never match an empty business area", func() {
		hits, err := s.index.Search(s.ctx,
			boolQuery(must, nil, []Clause{TermClause("business_area", "", 0)}, 0))
		s.Require().NoError(err)
		s.Empty(hits)
	})
}

func (s *MemoryIndexSuite) TestMustNotExcludesOwnID() {
	importID := uuid.NewString()
	self := Document{ID: newID(), FullName: "Test Testowski", ImportID: importID}
	other := Document{ID: newID(), FullName: "Test Testowski", ImportID: importID}
	s.seed(self, other)

	hits, err := s.index.Search(s.ctx, boolQuery(
		[]Clause{MatchClause("full_name", "Test Testowski", 1)},
		[]Clause{MatchClause("id", self.ID.String(), 0)},
		[]Clause{TermClause("registration_data_import_id", importID, 0)},
		0))
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Equal(other.ID, hits[0].ID)
}

func (s *MemoryIndexSuite) TestMinScoreCut() {
	importID := uuid.NewString()
	doc := Document{ID: newID(), FullName: "Test Testowski", ImportID: importID}
	s.seed(doc)

	filter := []Clause{TermClause("registration_data_import_id", importID, 0)}
	must := []Clause{MatchClause("full_name", "Test Testowski", 1)} // scores 5.0

	hits, err := s.index.Search(s.ctx, boolQuery(must, nil, filter, 5.0))
	s.Require().NoError(err)
	s.Len(hits, 1, "hit exactly at min_score is kept")

	hits, err = s.index.Search(s.ctx, boolQuery(must, nil, filter, 5.01))
	s.Require().NoError(err)
	s.Empty(hits, "hit below min_score is dropped")
}

func (s *MemoryIndexSuite) TestFuzzyAutoGates() {
	importID := uuid.NewString()
	filter := []Clause{TermClause("registration_data_import_id", importID, 0)}

	s.Run("short terms tolerate no edits", func() {
		s.seed(Document{ID: newID(), GivenName: "Al", ImportID: importID})
		hits, err := s.index.Search(s.ctx,
			boolQuery([]Clause{FuzzyClause("given_name", "Ax", 1)}, nil, filter, 0))
		s.Require().NoError(err)
		s.Empty(hits)
	})

	s.Run("medium terms tolerate one edit", func() {
		doc := Document{ID: newID(), GivenName: "Amina", ImportID: importID}
		s.seed(doc)
		hits, err := s.index.Search(s.ctx,
			boolQuery([]Clause{FuzzyClause("given_name", "Amena", 1)}, nil, filter, 0))
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.InDelta(baseScore*(1-1.0/5.0), hits[0].Score, 1e-9)

		hits, err = s.index.Search(s.ctx,
			boolQuery([]Clause{FuzzyClause("given_name", "Aqxna", 1)}, nil, filter, 0))
		s.Require().NoError(err)
		s.Empty(hits, "two edits exceed the one-edit gate")
	})

	s.Run("long terms tolerate two edits", func() {
		doc := Document{ID: newID(), FamilyName: "Testowski", ImportID: importID}
		s.seed(doc)
		hits, err := s.index.Search(s.ctx,
			boolQuery([]Clause{FuzzyClause("family_name", "Testowsky", 1)}, nil, filter, 0))
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.InDelta(baseScore*(1-1.0/9.0), hits[0].Score, 1e-9)
	})
}

func (s *MemoryIndexSuite) TestDisMaxTakesBestSubquery() {
	importID := uuid.NewString()
	doc := Document{
		ID:        newID(),
		FullName:  "Test Testowski",
		BirthDate: "1990-05-01",
		ImportID:  importID,
	}
	s.seed(doc)

	disMax := Clause{DisMax: &DisMax{Queries: []Clause{
		MatchClause("full_name", "Test Testowski", 2.0), // 10.0
		TermClause("birth_date", "1990-05-01", 1.0),     // 5.0
	}}}
	hits, err := s.index.Search(s.ctx, boolQuery(
		[]Clause{disMax}, nil,
		[]Clause{TermClause("registration_data_import_id", importID, 0)}, 0))
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.InDelta(10.0, hits[0].Score, 1e-9, "dis_max keeps the best clause, it does not sum")
}

func (s *MemoryIndexSuite) TestResultsSortedByScoreThenID() {
	importID := uuid.NewString()
	exact := Document{ID: newID(), FullName: "Test Testowski", ImportID: importID}
	fuzzy := Document{ID: newID(), FullName: "Tesa Testowski", ImportID: importID}
	s.seed(exact, fuzzy)

	disMax := Clause{DisMax: &DisMax{Queries: []Clause{
		MatchClause("full_name", "Test Testowski", 2.0),
		FuzzyClause("full_name", "Test Testowski", 1.0),
	}}}
	hits, err := s.index.Search(s.ctx, boolQuery(
		[]Clause{disMax}, nil,
		[]Clause{TermClause("registration_data_import_id", importID, 0)}, 0))
	s.Require().NoError(err)
	s.Require().Len(hits, 2)
	s.Equal(exact.ID, hits[0].ID)
	s.Greater(hits[0].Score, hits[1].Score)
}

func (s *MemoryIndexSuite) TestDeleteByImport() {
	importA := uuid.NewString()
	importB := uuid.NewString()
	s.seed(
		Document{ID: newID(), ImportID: importA},
		Document{ID: newID(), ImportID: importA},
		Document{ID: newID(), ImportID: importB},
	)

	parsed, err := domain.ParseImportID(importA)
	s.Require().NoError(err)
	s.Require().NoError(s.index.DeleteByImport(s.ctx, parsed))
	s.Equal(1, s.index.Len())
}
