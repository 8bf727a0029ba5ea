package merge

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	bamodels "intake/internal/businessarea/models"
	areastore "intake/internal/businessarea/store"
	biomodels "intake/internal/biometric/models"
	pairstore "intake/internal/biometric/store"
	"intake/internal/deduplication"
	"intake/internal/deduplication/engine"
	"intake/internal/events"
	gmodels "intake/internal/grievance/models"
	ticketstore "intake/internal/grievance/store"
	"intake/internal/registration/models"
	householdstore "intake/internal/registration/store/household"
	individualstore "intake/internal/registration/store/individual"
	programstore "intake/internal/registration/store/program"
	rdistore "intake/internal/registration/store/rdi"
	"intake/internal/searchindex"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/tx"
)

// failingImportStore fails Update once a condition matches, to force a
// rollback late in the transaction.
type failingImportStore struct {
	*rdistore.InMemory
	failOn models.ImportStatus
}

func (s *failingImportStore) Update(ctx context.Context, rdi *models.RegistrationDataImport) error {
	if rdi.Status == s.failOn {
		return errors.New("simulated store failure")
	}
	return s.InMemory.Update(ctx, rdi)
}

type MergeSuite struct {
	suite.Suite
	ctx         context.Context
	imports     *rdistore.InMemory
	individuals *individualstore.InMemory
	households  *householdstore.InMemory
	programs    *programstore.InMemory
	areas       *areastore.InMemory
	tickets     *ticketstore.InMemory
	pairs       *pairstore.InMemory
	index       *searchindex.Memory
	published   *events.Memory
	service     *Service

	program *models.Program
	area    *bamodels.BusinessArea
}

func (s *MergeSuite) SetupTest() {
	s.ctx = context.Background()
	s.imports = rdistore.NewInMemory()
	s.individuals = individualstore.NewInMemory()
	s.households = householdstore.NewInMemory()
	s.programs = programstore.NewInMemory()
	s.areas = areastore.NewInMemory()
	s.tickets = ticketstore.NewInMemory()
	s.pairs = pairstore.NewInMemory()
	s.index = searchindex.NewMemory()
	s.published = events.NewMemory()

	s.area = &bamodels.BusinessArea{
		Slug:       "nigeria",
		Name:       "Nigeria",
		Thresholds: bamodels.DefaultThresholds(),
	}
	s.areas.Seed(s.area)
	s.program = &models.Program{
		ID:           domain.ProgramID(uuid.New()),
		Name:         "cash transfer",
		BusinessArea: "nigeria",
	}
	s.programs.Seed(s.program)

	s.service = s.newService(s.imports)
}

func (s *MergeSuite) newService(imports ImportStore, opts ...Option) *Service {
	return NewService(
		tx.NoopRunner{}, imports, s.individuals, s.households, s.programs,
		s.areas, s.tickets, s.pairs, s.index, engine.New(s.index),
		slog.New(slog.DiscardHandler),
		append([]Option{WithPublisher(s.published)}, opts...)...,
	)
}

func TestMergeSuite(t *testing.T) {
	suite.Run(t, new(MergeSuite))
}

func (s *MergeSuite) seedImport() *models.RegistrationDataImport {
	dedupedAt := time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)
	rdi := &models.RegistrationDataImport{
		ID:           domain.ImportID(uuid.New()),
		Name:         "village intake",
		ProgramID:    s.program.ID,
		BusinessArea: "nigeria",
		Status:       models.ImportStatusInReview,
		DedupedAt:    &dedupedAt,
	}
	s.imports.Seed(rdi)
	return rdi
}

func (s *MergeSuite) seedHousehold(importID domain.ImportID, key string) *models.Household {
	hh := &models.Household{
		ID:                domain.HouseholdID(uuid.New()),
		ImportID:          importID,
		ProgramID:         s.program.ID,
		BusinessArea:      "nigeria",
		IdentificationKey: key,
		MergeStatus:       models.MergeStatusPending,
	}
	s.households.Seed(hh)
	return hh
}

func (s *MergeSuite) seedMember(importID domain.ImportID, householdID domain.HouseholdID, fullName string) *models.Individual {
	ind := &models.Individual{
		ID:           domain.IndividualID(uuid.New()),
		HouseholdID:  householdID,
		ImportID:     importID,
		ProgramID:    s.program.ID,
		BusinessArea: "nigeria",
		FullName:     fullName,
		MergeStatus:  models.MergeStatusPending,

		DeduplicationBatchStatus:        models.BatchStatusUnique,
		DeduplicationGoldenRecordStatus: models.GoldenRecordStatusUnique,
	}
	ind.RefreshIdentityHash()
	s.individuals.Seed(ind)
	return ind
}

// identify gives the member a concrete identity and reseeds it.
func (s *MergeSuite) identify(ind *models.Individual, given, family, phone string, birth time.Time) {
	ind.GivenName = given
	ind.FamilyName = family
	ind.PhoneNumber = phone
	ind.BirthDate = birth
	ind.Sex = "FEMALE"
	ind.RefreshIdentityHash()
	s.individuals.Seed(ind)
}

// seedGoldenIndividual merges an individual under another import and indexes
// it, as if a different import had already promoted that person.
func (s *MergeSuite) seedGoldenIndividual(fullName, given, family, phone string, birth time.Time) *models.Individual {
	ind := &models.Individual{
		ID:           domain.IndividualID(uuid.New()),
		HouseholdID:  domain.HouseholdID(uuid.New()),
		ImportID:     domain.ImportID(uuid.New()),
		ProgramID:    s.program.ID,
		BusinessArea: "nigeria",
		GivenName:    given,
		FamilyName:   family,
		FullName:     fullName,
		PhoneNumber:  phone,
		BirthDate:    birth,
		Sex:          "FEMALE",
		MergeStatus:  models.MergeStatusMerged,
	}
	ind.RefreshIdentityHash()
	s.individuals.Seed(ind)
	s.Require().NoError(s.index.Upsert(s.ctx, searchindex.FromIndividuals([]*models.Individual{ind})))
	return ind
}

func born(d int) time.Time {
	return time.Date(1990, time.May, d, 0, 0, 0, 0, time.UTC)
}

func (s *MergeSuite) TestMergePromotesImport() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	a := s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	b := s.seedMember(rdi.ID, hh.ID, "Tessta Testowski")

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	updated, err := s.imports.Get(s.ctx, rdi.ID)
	s.Require().NoError(err)
	s.Equal(models.ImportStatusMerged, updated.Status)

	for _, id := range []domain.IndividualID{a.ID, b.ID} {
		ind, err := s.individuals.Get(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.MergeStatusMerged, ind.MergeStatus)
	}

	merged, err := s.households.Get(s.ctx, hh.ID)
	s.Require().NoError(err)
	s.Equal(models.MergeStatusMerged, merged.MergeStatus)
	s.Equal(2, merged.Size)

	s.Equal(2, s.index.Len(), "merged individuals are indexed")
	s.Len(s.published.ByType(events.TypeMergeStarted), 1)
	s.Len(s.published.ByType(events.TypeMerged), 1)
	s.Zero(s.tickets.Len(), "clean individuals raise no tickets")
}

func (s *MergeSuite) TestAdjudicationTicketForPossibleDuplicate() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	flagged := s.seedMember(rdi.ID, hh.ID, "Test Example")
	s.identify(flagged, "Test", "Example", "500", born(1))
	other := s.seedMember(rdi.ID, hh.ID, "Tescik Testowski")
	s.identify(other, "Tescik", "Testowski", "400", born(4))

	// Shares a birth date with the flagged member, nothing with the other.
	candidate := s.seedGoldenIndividual("Test Testowski", "Test", "Testowski", "100", born(1))

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	s.Run("exactly one ticket for the flagged individual", func() {
		s.Require().Equal(1, s.tickets.Len())
		open, err := s.tickets.ListOpenByProgram(s.ctx, s.program.ID, gmodels.CategoryNeedsAdjudication)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		ticket := open[0]
		s.Equal(gmodels.IssueBiographicalPossible, ticket.IssueType)
		s.Equal(gmodels.StatusNew, ticket.Status)
		s.Equal(flagged.ID, ticket.GoldenIndividual)
		s.Equal([]domain.IndividualID{candidate.ID}, ticket.PossibleDuplicates)
	})

	s.Run("the flagged individual's status reflects the pass", func() {
		ind, err := s.individuals.Get(s.ctx, flagged.ID)
		s.Require().NoError(err)
		s.Equal(models.GoldenRecordStatusNeedsAdjudication, ind.DeduplicationGoldenRecordStatus)
	})
}

// TestTicketsReflectGoldenRecordAtMergeTime covers the window between the
// batch-time pass and the merge: a twin merged elsewhere in the meantime must
// still surface as a hard duplicate, even though the stored status says
// unique.
func (s *MergeSuite) TestTicketsReflectGoldenRecordAtMergeTime() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	member := s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	s.identify(member, "Test", "Testowski", "100", born(1))
	s.Require().Equal(models.GoldenRecordStatusUnique, member.DeduplicationGoldenRecordStatus)

	twin := s.seedGoldenIndividual("Test Testowski", "Test", "Testowski", "100", born(1))

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	s.Run("the stale status is rewritten", func() {
		ind, err := s.individuals.Get(s.ctx, member.ID)
		s.Require().NoError(err)
		s.Equal(models.GoldenRecordStatusDuplicate, ind.DeduplicationGoldenRecordStatus)
		s.Require().Len(ind.DeduplicationGoldenRecordResults.Duplicates, 1)
		s.Equal(twin.ID, ind.DeduplicationGoldenRecordResults.Duplicates[0].MatchedID)
	})

	s.Run("the import counters follow", func() {
		updated, err := s.imports.Get(s.ctx, rdi.ID)
		s.Require().NoError(err)
		s.Equal(1, updated.GoldenRecordDuplicates)
		s.Zero(updated.GoldenRecordUnique)
	})

	s.Run("a hard-duplicate ticket is raised", func() {
		open, err := s.tickets.ListOpenByProgram(s.ctx, s.program.ID, gmodels.CategoryNeedsAdjudication)
		s.Require().NoError(err)
		s.Require().Len(open, 1)
		s.Equal(gmodels.IssueBiographicalDuplicate, open[0].IssueType)
		s.Equal(member.ID, open[0].GoldenIndividual)
		s.Equal([]domain.IndividualID{twin.ID}, open[0].PossibleDuplicates)
	})
}

func (s *MergeSuite) TestOpenTicketIsNotDuplicated() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	member := s.seedMember(rdi.ID, hh.ID, "Tesa Testowski")
	s.identify(member, "Tesa", "Testowski", "300", born(3))
	twin := s.seedGoldenIndividual("Tesa Testowski", "Tesa", "Testowski", "300", born(3))

	existing, err := gmodels.NewTicket(domain.TicketID(uuid.New()),
		gmodels.CategoryNeedsAdjudication, gmodels.IssueBiographicalDuplicate,
		rdi.ID, s.program.ID, "nigeria", member.ID, []domain.IndividualID{twin.ID}, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.tickets.Create(s.ctx, existing))

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))
	s.Equal(1, s.tickets.Len(), "the open ticket already covers the case")
}

func (s *MergeSuite) TestBiometricTickets() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	member := s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	weak := s.seedMember(rdi.ID, hh.ID, "Tescik Testowski")
	outsider := domain.IndividualID(uuid.New())
	other := domain.IndividualID(uuid.New())

	strong, err := biomodels.NewSimilarityPair(s.program.ID, member.ID, outsider, 80, time.Now())
	s.Require().NoError(err)
	below, err := biomodels.NewSimilarityPair(s.program.ID, weak.ID, other, 40, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.pairs.BulkCreate(s.ctx, []*biomodels.SimilarityPair{strong, below}))

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	s.Require().Equal(1, s.tickets.Len(), "only the pair above the threshold raises a ticket")
	open, err := s.tickets.ListOpenByProgram(s.ctx, s.program.ID, gmodels.CategoryNeedsAdjudication)
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(gmodels.IssueBiometricDuplicate, open[0].IssueType)
	s.Equal(member.ID, open[0].GoldenIndividual)
	s.Equal([]domain.IndividualID{outsider}, open[0].PossibleDuplicates)
	s.Equal("Face similarity 80.0%", open[0].Comment)
}

// TestBiometricTicketsSkipBatchInternalPairs pins that only pairs linking an
// import member to the existing population are ticketed; pairs between two
// members of the same import are covered by the batch counters.
func (s *MergeSuite) TestBiometricTicketsSkipBatchInternalPairs() {
	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	a := s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	b := s.seedMember(rdi.ID, hh.ID, "Tessta Testowski")
	outsider := domain.IndividualID(uuid.New())

	internal, err := biomodels.NewSimilarityPair(s.program.ID, a.ID, b.ID, 90, time.Now())
	s.Require().NoError(err)
	population, err := biomodels.NewSimilarityPair(s.program.ID, a.ID, outsider, 80, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.pairs.BulkCreate(s.ctx, []*biomodels.SimilarityPair{internal, population}))

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	open, err := s.tickets.ListOpenByProgram(s.ctx, s.program.ID, gmodels.CategoryNeedsAdjudication)
	s.Require().NoError(err)
	s.Require().Len(open, 1, "the batch-internal pair raises no ticket")
	s.Equal(a.ID, open[0].GoldenIndividual)
	s.Equal([]domain.IndividualID{outsider}, open[0].PossibleDuplicates)
}

func (s *MergeSuite) TestCollisionReconciliation() {
	s.program.CollisionDetectionEnabled = true
	s.programs.Seed(s.program)

	retained := &models.Household{
		ID:                domain.HouseholdID(uuid.New()),
		ImportID:          domain.ImportID(uuid.New()),
		ProgramID:         s.program.ID,
		BusinessArea:      "nigeria",
		IdentificationKey: "NG-HH-001",
		Size:              3,
		MergeStatus:       models.MergeStatusMerged,
	}
	s.households.Seed(retained)

	rdi := s.seedImport()
	incoming := s.seedHousehold(rdi.ID, "NG-HH-001")
	incoming.Address = "12 Market Road"
	s.households.Seed(incoming)
	a := s.seedMember(rdi.ID, incoming.ID, "Test Testowski")
	b := s.seedMember(rdi.ID, incoming.ID, "Tessta Testowski")

	s.Require().NoError(s.service.MergeImport(s.ctx, rdi.ID))

	s.Run("members move into the retained household", func() {
		for _, id := range []domain.IndividualID{a.ID, b.ID} {
			ind, err := s.individuals.Get(s.ctx, id)
			s.Require().NoError(err)
			s.Equal(retained.ID, ind.HouseholdID)
			s.Equal(models.MergeStatusMerged, ind.MergeStatus)
		}
	})

	s.Run("the retained household absorbs size and address", func() {
		kept, err := s.households.Get(s.ctx, retained.ID)
		s.Require().NoError(err)
		s.Equal(5, kept.Size)
		s.Equal("12 Market Road", kept.Address)
	})

	s.Run("the colliding household is dropped", func() {
		_, err := s.households.Get(s.ctx, incoming.ID)
		s.Require().Error(err)
	})
}

func (s *MergeSuite) TestRejectsMergeBeforeDeduplication() {
	rdi := s.seedImport()
	rdi.DedupedAt = nil
	s.imports.Seed(rdi)
	hh := s.seedHousehold(rdi.ID, "")
	s.seedMember(rdi.ID, hh.ID, "Test Testowski")

	err := s.service.MergeImport(s.ctx, rdi.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Empty(s.published.Events(), "nothing started, nothing emitted")
}

func (s *MergeSuite) TestRejectsEmptyImport() {
	rdi := s.seedImport()

	err := s.service.MergeImport(s.ctx, rdi.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	updated, err := s.imports.Get(s.ctx, rdi.ID)
	s.Require().NoError(err)
	s.Equal(models.ImportStatusMergeError, updated.Status)
}

func (s *MergeSuite) TestFailedMergeCompensatesIndex() {
	failing := &failingImportStore{InMemory: s.imports, failOn: models.ImportStatusMerged}
	service := s.newService(failing)

	rdi := s.seedImport()
	hh := s.seedHousehold(rdi.ID, "")
	s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	s.seedMember(rdi.ID, hh.ID, "Tessta Testowski")

	err := service.MergeImport(s.ctx, rdi.ID)
	s.Require().Error(err)

	s.Zero(s.index.Len(), "index writes are unwound after rollback")

	updated, err := s.imports.Get(s.ctx, rdi.ID)
	s.Require().NoError(err)
	s.Equal(models.ImportStatusMergeError, updated.Status)
	s.Contains(updated.ErrorMessage, "simulated store failure")

	failed := s.published.ByType(events.TypeMergeFailed)
	s.Require().Len(failed, 1)
	s.Empty(s.published.ByType(events.TypeMerged))
}

// TestPostponedDeduplicationRunsAfterMerge wires the real orchestrator: the
// postponed pass must run against the import it just merged and persist
// golden-record statuses for its individuals.
func (s *MergeSuite) TestPostponedDeduplicationRunsAfterMerge() {
	s.area.PostponeDeduplication = true
	s.areas.Seed(s.area)
	dedupSvc := deduplication.NewService(
		engine.New(s.index), s.index, s.individuals, s.imports, s.areas,
		slog.New(slog.DiscardHandler),
		deduplication.WithPublisher(s.published),
	)
	service := s.newService(s.imports, WithDeduplicator(dedupSvc))

	rdi := s.seedImport()
	rdi.DedupedAt = nil
	s.imports.Seed(rdi)
	hh := s.seedHousehold(rdi.ID, "")
	member := s.seedMember(rdi.ID, hh.ID, "Test Testowski")
	s.identify(member, "Test", "Testowski", "100", born(1))
	// No batch pass ran for this area.
	member.DeduplicationBatchStatus = ""
	member.DeduplicationGoldenRecordStatus = ""
	s.individuals.Seed(member)

	twin := s.seedGoldenIndividual("Test Testowski", "Test", "Testowski", "100", born(1))

	s.Require().NoError(service.MergeImport(s.ctx, rdi.ID))

	s.Run("the import stays merged and records the pass", func() {
		updated, err := s.imports.Get(s.ctx, rdi.ID)
		s.Require().NoError(err)
		s.Equal(models.ImportStatusMerged, updated.Status)
		s.Require().NotNil(updated.DedupedAt, "the postponed pass completed")
		s.Equal(1, updated.GoldenRecordDuplicates)
	})

	s.Run("the merged individual is classified against the population", func() {
		ind, err := s.individuals.Get(s.ctx, member.ID)
		s.Require().NoError(err)
		s.Equal(models.GoldenRecordStatusDuplicate, ind.DeduplicationGoldenRecordStatus)
		s.Require().Len(ind.DeduplicationGoldenRecordResults.Duplicates, 1)
		s.Equal(twin.ID, ind.DeduplicationGoldenRecordResults.Duplicates[0].MatchedID)
	})

	s.Len(s.published.ByType(events.TypeDeduplicationDone), 1)
}
