package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intake/internal/registration/models"
	"intake/internal/searchindex"
	"intake/pkg/domain"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	index  *searchindex.Memory
	engine *Engine
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.index = searchindex.NewMemory()
	s.engine = New(s.index)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

const area = domain.BusinessAreaSlug("nigeria")

func birthday(day int) time.Time {
	return time.Date(1990, time.May, day, 0, 0, 0, 0, time.UTC)
}

// person builds a pending individual with a refreshed identity hash.
func person(importID domain.ImportID, fullName, phone string, born time.Time) *models.Individual {
	parts := splitName(fullName)
	ind := &models.Individual{
		ID:           domain.IndividualID(uuid.New()),
		ImportID:     importID,
		BusinessArea: area,
		GivenName:    parts[0],
		FamilyName:   parts[1],
		FullName:     fullName,
		Sex:          "FEMALE",
		BirthDate:    born,
		PhoneNumber:  phone,
		MergeStatus:  models.MergeStatusPending,
	}
	ind.RefreshIdentityHash()
	return ind
}

func splitName(full string) [2]string {
	for i := 0; i < len(full); i++ {
		if full[i] == ' ' {
			return [2]string{full[:i], full[i+1:]}
		}
	}
	return [2]string{full, ""}
}

func merged(ind *models.Individual) *models.Individual {
	cp := ind.Clone()
	cp.ID = domain.IndividualID(uuid.New())
	cp.ApplyMerge(time.Now())
	return cp
}

func (s *EngineSuite) seed(inds ...*models.Individual) {
	s.Require().NoError(s.index.Upsert(s.ctx, searchindex.FromIndividuals(inds)))
}

func (s *EngineSuite) TestSelfExclusion() {
	importID := domain.ImportID(uuid.New())
	ind := person(importID, "Test Testowski", "111", birthday(1))
	s.seed(ind)

	res, err := s.engine.Deduplicate(s.ctx, ind, BatchScope(importID),
		Params{DuplicateScore: 0, PossibleDuplicateScore: 0})
	s.Require().NoError(err)
	s.NotContains(res.DuplicateIDs, ind.ID)
	s.NotContains(res.PossibleDuplicateIDs, ind.ID)
	s.Empty(res.DuplicateIDs)
}

func (s *EngineSuite) TestHashEqualityImpliesDuplicate() {
	importID := domain.ImportID(uuid.New())
	a := person(importID, "Test Testowski", "111", birthday(1))
	b := person(importID, "Test Testowski", "111", birthday(1))
	s.seed(a, b)
	s.Require().Equal(a.IdentityHash, b.IdentityHash)

	// Even with an unreachable duplicate threshold, equal hashes classify as
	// duplicates.
	res, err := s.engine.Deduplicate(s.ctx, a, BatchScope(importID),
		Params{DuplicateScore: 1000, PossibleDuplicateScore: 0})
	s.Require().NoError(err)
	s.Require().Len(res.DuplicateIDs, 1)
	s.Equal(b.ID, res.DuplicateIDs[0])
}

func (s *EngineSuite) TestClassificationIsIdempotent() {
	importID := domain.ImportID(uuid.New())
	a := person(importID, "Test Testowski", "111", birthday(1))
	b := person(importID, "Test Testowski", "111", birthday(1))
	s.seed(a, b)

	params := Params{DuplicateScore: 6, PossibleDuplicateScore: 6}
	first, err := s.engine.Deduplicate(s.ctx, a, BatchScope(importID), params)
	s.Require().NoError(err)
	second, err := s.engine.Deduplicate(s.ctx, a, BatchScope(importID), params)
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *EngineSuite) TestBatchScopeNeverYieldsPossibleDuplicates() {
	importID := domain.ImportID(uuid.New())
	a := person(importID, "Test Testowski", "111", birthday(1))
	near := person(importID, "Tesa Testowski", "222", birthday(2))
	s.seed(a, near)

	// With min_score low enough the near-match is a hit, but batch scope
	// only flags hard duplicates.
	res, err := s.engine.Deduplicate(s.ctx, a, BatchScope(importID),
		Params{DuplicateScore: 6, PossibleDuplicateScore: 4})
	s.Require().NoError(err)
	s.Empty(res.DuplicateIDs)
	s.Empty(res.PossibleDuplicateIDs)
}

func (s *EngineSuite) TestPopulationScopeProximity() {
	importID := domain.ImportID(uuid.New())
	ind := person(importID, "Tesa Testowski", "222", birthday(2))
	golden := merged(person(domain.ImportID(uuid.New()), "Test Testowski", "111", birthday(1)))
	s.seed(ind, golden)

	res, err := s.engine.Deduplicate(s.ctx, ind, PopulationScope(area),
		Params{DuplicateScore: 6, PossibleDuplicateScore: 4})
	s.Require().NoError(err)
	s.Require().Len(res.PossibleDuplicateIDs, 1)
	s.Equal(golden.ID, res.PossibleDuplicateIDs[0])

	candidate := res.Results.PossibleDuplicates[0]
	// Fuzzy full-name hit: one edit over 14 runes.
	s.InDelta(5.0*(1-1.0/14.0), candidate.Score, 1e-9)
	s.InDelta(candidate.Score-6.0, candidate.Proximity, 1e-9)
	s.Negative(candidate.Proximity)
}

// TestCrossImportGoldenPass covers the strict-threshold population pass: with
// min_score 11 only identity-hash hits (score 20) survive, so the household
// line shared by two merged imports produces four duplicates and nothing for
// adjudication.
func (s *EngineSuite) TestCrossImportGoldenPass() {
	importA := domain.ImportID(uuid.New())
	importB := domain.ImportID(uuid.New())

	population := []*models.Individual{
		merged(person(importA, "Test Testowski", "111", birthday(1))),
		merged(person(importA, "Tessta Testowski", "222", birthday(2))),
		merged(person(importB, "Test Testowski", "111", birthday(1))),
		merged(person(importB, "Tessta Testowski", "222", birthday(2))),
	}
	s.seed(population...)

	params := Params{DuplicateScore: 6, PossibleDuplicateScore: 11}
	duplicates, adjudication := 0, 0
	for _, ind := range population {
		res, err := s.engine.Deduplicate(s.ctx, ind, PopulationScope(area), params)
		s.Require().NoError(err)
		if len(res.DuplicateIDs) > 0 {
			duplicates++
		}
		adjudication += len(res.PossibleDuplicateIDs)
	}
	s.Equal(4, duplicates)
	s.Equal(0, adjudication)
}
