package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intake/pkg/domain"
)

type IndividualSuite struct {
	suite.Suite
}

func TestIndividualSuite(t *testing.T) {
	suite.Run(t, new(IndividualSuite))
}

func (s *IndividualSuite) newIndividual() *Individual {
	return &Individual{
		ID:          domain.IndividualID(uuid.New()),
		GivenName:   "Test",
		FamilyName:  "Testowski",
		FullName:    "Test Testowski",
		Sex:         "MALE",
		BirthDate:   time.Date(1990, time.May, 1, 0, 0, 0, 0, time.UTC),
		PhoneNumber: "+234 800 000 0001",
		MergeStatus: MergeStatusPending,
	}
}

func (s *IndividualSuite) TestIdentityHashIsDeterministic() {
	a := s.newIndividual()
	b := s.newIndividual()
	s.Equal(a.ComputeIdentityHash(), b.ComputeIdentityHash())
}

func (s *IndividualSuite) TestIdentityHashNormalizesCaseAndSpacing() {
	a := s.newIndividual()
	b := s.newIndividual()
	b.FullName = "  test   TESTOWSKI "
	b.GivenName = "TEST"
	s.Equal(a.ComputeIdentityHash(), b.ComputeIdentityHash())
}

func (s *IndividualSuite) TestIdentityHashChangesWithIdentityFields() {
	a := s.newIndividual()
	base := a.ComputeIdentityHash()

	for name, mutate := range map[string]func(*Individual){
		"full name":  func(i *Individual) { i.FullName = "Tessta Testowski" },
		"birth date": func(i *Individual) { i.BirthDate = i.BirthDate.AddDate(0, 0, 1) },
		"phone":      func(i *Individual) { i.PhoneNumber = "+234 800 000 0002" },
		"sex":        func(i *Individual) { i.Sex = "FEMALE" },
	} {
		changed := s.newIndividual()
		mutate(changed)
		s.NotEqual(base, changed.ComputeIdentityHash(), name)
	}
}

func (s *IndividualSuite) TestEligibleForBiometrics() {
	s.Run("needs a photo", func() {
		ind := s.newIndividual()
		s.False(ind.EligibleForBiometrics())
		ind.PhotoKey = "faces/a.jpg"
		s.True(ind.EligibleForBiometrics())
	})

	s.Run("withdrawn and removed individuals are skipped", func() {
		ind := s.newIndividual()
		ind.PhotoKey = "faces/a.jpg"
		ind.Withdrawn = true
		s.False(ind.EligibleForBiometrics())

		ind = s.newIndividual()
		ind.PhotoKey = "faces/a.jpg"
		ind.Removed = true
		s.False(ind.EligibleForBiometrics())
	})

	s.Run("confirmed biographical duplicates are skipped", func() {
		ind := s.newIndividual()
		ind.PhotoKey = "faces/a.jpg"
		ind.DeduplicationGoldenRecordStatus = GoldenRecordStatusDuplicate
		s.False(ind.EligibleForBiometrics())
	})
}

func (s *IndividualSuite) TestParseDedupResults() {
	s.Run("round trip", func() {
		in := DedupResults{
			Duplicates: []MatchCandidate{
				{MatchedID: domain.IndividualID(uuid.New()), DisplayName: "Test Testowski", Score: 20, Proximity: 14},
			},
			PossibleDuplicates: []MatchCandidate{
				{MatchedID: domain.IndividualID(uuid.New()), DisplayName: "Tesa Testowski", Score: 4.6, Proximity: -1.4},
			},
		}
		raw, err := in.MarshalPayload()
		s.Require().NoError(err)
		out, err := ParseDedupResults(raw)
		s.Require().NoError(err)
		s.Equal(in, out)
	})

	s.Run("empty payload is empty results", func() {
		out, err := ParseDedupResults(nil)
		s.Require().NoError(err)
		s.True(out.IsEmpty())
	})

	s.Run("unknown fields are rejected", func() {
		_, err := ParseDedupResults([]byte(`{"duplicates":[],"extra":true}`))
		s.Require().Error(err)
	})

	s.Run("nil matched id is rejected", func() {
		_, err := ParseDedupResults([]byte(
			`{"duplicates":[{"matched_id":"00000000-0000-0000-0000-000000000000","name":"x","score":1,"proximity_to_threshold":0}]}`))
		s.Require().Error(err)
	})

	s.Run("negative score is rejected", func() {
		id := uuid.NewString()
		_, err := ParseDedupResults([]byte(
			`{"duplicates":[{"matched_id":"` + id + `","name":"x","score":-1,"proximity_to_threshold":0}]}`))
		s.Require().Error(err)
	})
}
