// Package merge promotes an approved import batch into the golden record as
// one transaction: households and individuals flip to MERGED, collisions
// reconcile into existing households, adjudication tickets are raised, and
// the search index learns about the new population members.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	bamodels "intake/internal/businessarea/models"
	biomodels "intake/internal/biometric/models"
	dedupengine "intake/internal/deduplication/engine"
	"intake/internal/events"
	gmodels "intake/internal/grievance/models"
	mergemetrics "intake/internal/merge/metrics"
	"intake/internal/registration/models"
	"intake/internal/screening"
	"intake/internal/searchindex"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
	"intake/pkg/platform/tx"
	"intake/pkg/requestcontext"
)

// ImportStore loads and persists registration data imports.
type ImportStore interface {
	Get(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error)
	// GetForUpdate locks the import row inside the merge transaction.
	GetForUpdate(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error)
	Update(ctx context.Context, rdi *models.RegistrationDataImport) error
}

// IndividualStore is the slice of the individual store the merge needs.
type IndividualStore interface {
	ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error)
	BulkUpsert(ctx context.Context, individuals []*models.Individual) error
}

// HouseholdStore is the slice of the household store the merge needs.
type HouseholdStore interface {
	ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Household, error)
	FindMergedByIdentificationKey(ctx context.Context, area domain.BusinessAreaSlug, key string) (*models.Household, error)
	FindMergedByUnicefID(ctx context.Context, area domain.BusinessAreaSlug, unicefID string) ([]*models.Household, error)
	BulkUpdate(ctx context.Context, households []*models.Household) error
	DeleteByIDs(ctx context.Context, ids []domain.HouseholdID) error
}

// ProgramStore resolves the owning program's feature flags.
type ProgramStore interface {
	Get(ctx context.Context, id domain.ProgramID) (*models.Program, error)
}

// BusinessAreaStore resolves threshold configuration.
type BusinessAreaStore interface {
	Get(ctx context.Context, slug domain.BusinessAreaSlug) (*bamodels.BusinessArea, error)
}

// TicketStore raises and deduplicates grievance tickets.
type TicketStore interface {
	Create(ctx context.Context, ticket *gmodels.Ticket) error
	FindOpenCovering(ctx context.Context, programID domain.ProgramID, category gmodels.Category, ids []domain.IndividualID) (*gmodels.Ticket, error)
}

// PairStore reads biometric similarity pairs for ticket creation.
type PairStore interface {
	ListForIndividuals(ctx context.Context, programID domain.ProgramID, ids []domain.IndividualID) ([]*biomodels.SimilarityPair, error)
}

// Deduplicator runs the postponed biographical pass once the merge landed
// and the import's individuals are MERGED.
type Deduplicator interface {
	DeduplicateMergedImport(ctx context.Context, importID domain.ImportID) error
}

// Engine re-runs the population-scope similarity pass during the merge, so
// tickets reflect the golden record as it stands now rather than as it stood
// when the batch pass ran.
type Engine interface {
	Deduplicate(ctx context.Context, ind *models.Individual, scope dedupengine.Scope, p dedupengine.Params) (dedupengine.Result, error)
}

// Service is the merge task.
type Service struct {
	runner      tx.Runner
	imports     ImportStore
	individuals IndividualStore
	households  HouseholdStore
	programs    ProgramStore
	areas       BusinessAreaStore
	tickets     TicketStore
	pairs       PairStore
	index       searchindex.Index
	engine      Engine
	screener    screening.Screener
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *mergemetrics.Metrics
	dedup       Deduplicator
	tracer      trace.Tracer

	newTicketID func() domain.TicketID
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *mergemetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithScreener sets the sanctions screener.
func WithScreener(sc screening.Screener) Option {
	return func(s *Service) { s.screener = sc }
}

// WithDeduplicator sets the service running postponed deduplication.
func WithDeduplicator(d Deduplicator) Option {
	return func(s *Service) { s.dedup = d }
}

// WithTicketIDFunc overrides ticket id generation, for deterministic tests.
func WithTicketIDFunc(fn func() domain.TicketID) Option {
	return func(s *Service) { s.newTicketID = fn }
}

func NewService(
	runner tx.Runner,
	imports ImportStore,
	individuals IndividualStore,
	households HouseholdStore,
	programs ProgramStore,
	areas BusinessAreaStore,
	tickets TicketStore,
	pairs PairStore,
	index searchindex.Index,
	eng Engine,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		runner:      runner,
		imports:     imports,
		individuals: individuals,
		households:  households,
		programs:    programs,
		areas:       areas,
		tickets:     tickets,
		pairs:       pairs,
		index:       index,
		engine:      eng,
		screener:    screening.Noop{},
		publisher:   events.Noop{},
		logger:      logger,
		tracer:      otel.Tracer("intake/merge"),
		newTicketID: func() domain.TicketID { return domain.TicketID(uuid.New()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MergeImport promotes the import into the golden record. The relational work
// runs in one transaction holding a row lock on the import; the search index
// is compensated with explicit deletes if the transaction rolls back after
// documents were written.
func (s *Service) MergeImport(ctx context.Context, importID domain.ImportID) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "merge.import",
		trace.WithAttributes(attribute.String("import_id", importID.String())))
	defer span.End()

	rdi, err := s.imports.Get(ctx, importID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load import")
	}
	area, err := s.areas.Get(ctx, rdi.BusinessArea)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load business area")
	}
	program, err := s.programs.Get(ctx, rdi.ProgramID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load program")
	}
	if err := rdi.CanMerge(area.PostponeDeduplication); err != nil {
		return err
	}

	s.emit(ctx, events.TypeMergeStarted, rdi, "")

	// Index writes inside the transaction are remembered so a rollback can
	// unwind them.
	var indexed []domain.IndividualID
	var merged int

	txErr := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.imports.GetForUpdate(ctx, importID)
		if err != nil {
			return fmt.Errorf("lock import: %w", err)
		}
		if err := locked.CanMerge(area.PostponeDeduplication); err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		locked.ApplyMerging(now)
		if err := s.imports.Update(ctx, locked); err != nil {
			return fmt.Errorf("mark merging: %w", err)
		}

		n, docs, err := s.mergeRecords(ctx, locked, program, area, now)
		if err != nil {
			return err
		}
		merged = n
		for _, doc := range docs {
			indexed = append(indexed, doc.ID)
		}
		if err := s.index.Upsert(ctx, docs); err != nil {
			return fmt.Errorf("reindex merged individuals: %w", err)
		}

		locked.ApplyMerged(now)
		return s.imports.Update(ctx, locked)
	})
	if txErr != nil {
		s.compensate(ctx, indexed)
		s.failMerge(ctx, importID, txErr)
		s.metrics.ObserveMerge("error", start)
		return txErr
	}

	s.metrics.AddIndividuals(merged)
	s.metrics.ObserveMerge("merged", start)
	s.emit(ctx, events.TypeMerged, rdi, "")

	if area.PostponeDeduplication && s.dedup != nil {
		// The merge itself is committed; a failure here must surface so the
		// pass can be retried against the now-merged import.
		if err := s.dedup.DeduplicateMergedImport(ctx, importID); err != nil {
			return fmt.Errorf("post-merge deduplication: %w", err)
		}
	}
	return nil
}

// mergeRecords does the relational promotion and ticket creation, returning
// the number of promoted individuals and the documents to index.
func (s *Service) mergeRecords(ctx context.Context, rdi *models.RegistrationDataImport,
	program *models.Program, area *bamodels.BusinessArea, now time.Time) (int, []searchindex.Document, error) {

	households, err := s.households.ListPendingByImport(ctx, rdi.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("list pending households: %w", err)
	}
	individuals, err := s.individuals.ListPendingByImport(ctx, rdi.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("list pending individuals: %w", err)
	}
	if len(individuals) == 0 {
		return 0, nil, dErrors.New(dErrors.CodeInvariantViolation, "import has no individuals to merge")
	}

	members := make(map[domain.HouseholdID][]*models.Individual, len(households))
	for _, ind := range individuals {
		members[ind.HouseholdID] = append(members[ind.HouseholdID], ind)
	}

	var (
		keepHouseholds []*models.Household
		dropHouseholds []domain.HouseholdID
	)
	for _, hh := range households {
		retained, reconciled, err := s.resolveCollision(ctx, program, hh, now)
		if err != nil {
			return 0, nil, err
		}
		if reconciled {
			// Members of the colliding household move to the retained one.
			for _, ind := range members[hh.ID] {
				ind.HouseholdID = retained.ID
			}
			retained.RecomputeSize(retained.Size+len(members[hh.ID]), now)
			keepHouseholds = append(keepHouseholds, retained)
			dropHouseholds = append(dropHouseholds, hh.ID)
			s.metrics.IncCollision()
			continue
		}

		hh.ApplyMerge(now)
		hh.RecomputeSize(len(members[hh.ID]), now)
		if err := s.linkCollection(ctx, rdi, hh); err != nil {
			return 0, nil, err
		}
		keepHouseholds = append(keepHouseholds, hh)
	}

	for _, ind := range individuals {
		ind.ApplyMerge(now)
	}
	if !area.PostponeDeduplication {
		if err := s.refreshGoldenStatuses(ctx, rdi, area, individuals, now); err != nil {
			return 0, nil, err
		}
	}
	if err := s.individuals.BulkUpsert(ctx, individuals); err != nil {
		return 0, nil, fmt.Errorf("promote individuals: %w", err)
	}
	if err := s.households.BulkUpdate(ctx, keepHouseholds); err != nil {
		return 0, nil, fmt.Errorf("promote households: %w", err)
	}
	if len(dropHouseholds) > 0 {
		if err := s.households.DeleteByIDs(ctx, dropHouseholds); err != nil {
			return 0, nil, fmt.Errorf("drop reconciled households: %w", err)
		}
	}

	if err := s.raiseAdjudicationTickets(ctx, rdi, individuals, now); err != nil {
		return 0, nil, err
	}
	if err := s.raiseBiometricTickets(ctx, rdi, area, individuals, now); err != nil {
		return 0, nil, err
	}
	if err := s.raiseScreeningTickets(ctx, rdi, program, individuals, now); err != nil {
		return 0, nil, err
	}

	return len(individuals), searchindex.FromIndividuals(individuals), nil
}

// resolveCollision checks the incoming household against the golden record by
// identification key. The bool result reports whether the household was
// reconciled into an existing one.
func (s *Service) resolveCollision(ctx context.Context, program *models.Program, hh *models.Household, now time.Time) (*models.Household, bool, error) {
	if !program.CollisionDetectionEnabled || hh.IdentificationKey == "" {
		return nil, false, nil
	}
	retained, err := s.households.FindMergedByIdentificationKey(ctx, hh.BusinessArea, hh.IdentificationKey)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("collision lookup: %w", err)
	}
	reconcileHousehold(retained, hh, now)
	return retained, true, nil
}

// linkCollection joins households sharing a unicef_id across imports into one
// collection. Only population-sourced imports participate.
func (s *Service) linkCollection(ctx context.Context, rdi *models.RegistrationDataImport, hh *models.Household) error {
	if rdi.DataSource != models.DataSourceProgramPopulation || hh.UnicefID == "" {
		return nil
	}
	siblings, err := s.households.FindMergedByUnicefID(ctx, hh.BusinessArea, hh.UnicefID)
	if err != nil {
		return fmt.Errorf("collection lookup: %w", err)
	}
	for _, sibling := range siblings {
		if sibling.CollectionID != "" {
			hh.CollectionID = sibling.CollectionID
			return nil
		}
	}
	if hh.CollectionID == "" {
		hh.CollectionID = uuid.NewString()
	}
	return nil
}

// refreshGoldenStatuses re-runs the population pass right before ticketing:
// the golden record may have gained members since the batch-time pass, and
// tickets must reflect what the individual collides with now. This import's
// own documents are not indexed yet, so only previously merged population
// members can match.
func (s *Service) refreshGoldenStatuses(ctx context.Context, rdi *models.RegistrationDataImport,
	area *bamodels.BusinessArea, individuals []*models.Individual, now time.Time) error {

	params := dedupengine.Params{
		DuplicateScore:         area.Thresholds.GoldenRecordDuplicateScore,
		PossibleDuplicateScore: area.Thresholds.GoldenRecordPossibleDuplicateScore,
	}
	rdi.GoldenRecordDuplicates, rdi.GoldenRecordPossibleDuplicates, rdi.GoldenRecordUnique = 0, 0, 0
	for _, ind := range individuals {
		res, err := s.engine.Deduplicate(ctx, ind, dedupengine.PopulationScope(area.Slug), params)
		if err != nil {
			return fmt.Errorf("refresh golden statuses: %w", err)
		}
		ind.DeduplicationGoldenRecordResults = res.Results
		switch {
		case len(res.DuplicateIDs) > 0:
			ind.DeduplicationGoldenRecordStatus = models.GoldenRecordStatusDuplicate
			rdi.GoldenRecordDuplicates++
		case len(res.PossibleDuplicateIDs) > 0:
			ind.DeduplicationGoldenRecordStatus = models.GoldenRecordStatusNeedsAdjudication
			rdi.GoldenRecordPossibleDuplicates++
		default:
			ind.DeduplicationGoldenRecordStatus = models.GoldenRecordStatusUnique
			rdi.GoldenRecordUnique++
		}
		ind.UpdatedAt = now
	}
	return nil
}

// raiseAdjudicationTickets creates one ticket per individual whose golden
// pass found candidates, skipping cases an open ticket already covers.
func (s *Service) raiseAdjudicationTickets(ctx context.Context, rdi *models.RegistrationDataImport,
	individuals []*models.Individual, now time.Time) error {

	for _, ind := range individuals {
		var issue gmodels.IssueType
		var matches []models.MatchCandidate
		switch ind.DeduplicationGoldenRecordStatus {
		case models.GoldenRecordStatusDuplicate:
			issue = gmodels.IssueBiographicalDuplicate
			matches = ind.DeduplicationGoldenRecordResults.Duplicates
		case models.GoldenRecordStatusNeedsAdjudication:
			issue = gmodels.IssueBiographicalPossible
			matches = ind.DeduplicationGoldenRecordResults.PossibleDuplicates
		default:
			continue
		}
		if len(matches) == 0 {
			continue
		}

		duplicateIDs := make([]domain.IndividualID, 0, len(matches))
		for _, match := range matches {
			duplicateIDs = append(duplicateIDs, match.MatchedID)
		}
		if err := s.createTicketOnce(ctx, rdi, gmodels.CategoryNeedsAdjudication, issue,
			ind.ID, duplicateIDs, "", now); err != nil {
			return err
		}
	}
	return nil
}

// raiseBiometricTickets creates adjudication tickets for similarity pairs at
// or above the area's biometric threshold that link an import member to an
// individual merged elsewhere.
func (s *Service) raiseBiometricTickets(ctx context.Context, rdi *models.RegistrationDataImport,
	area *bamodels.BusinessArea, individuals []*models.Individual, now time.Time) error {

	ids := make([]domain.IndividualID, 0, len(individuals))
	inImport := make(map[domain.IndividualID]struct{}, len(individuals))
	for _, ind := range individuals {
		ids = append(ids, ind.ID)
		inImport[ind.ID] = struct{}{}
	}
	pairs, err := s.pairs.ListForIndividuals(ctx, rdi.ProgramID, ids)
	if err != nil {
		return fmt.Errorf("list similarity pairs: %w", err)
	}

	for _, pair := range pairs {
		if pair.SimilarityScore < area.Thresholds.BiometricDeduplicationThreshold {
			continue
		}
		_, in1 := inImport[pair.Individual1]
		_, in2 := inImport[pair.Individual2]
		if in1 && in2 {
			// Batch-internal pair; the per-import batch counters already
			// cover it. Only collisions with the existing population
			// need adjudication.
			continue
		}
		golden := pair.Individual1
		if in2 {
			golden = pair.Individual2
		}
		other, _ := pair.Other(golden)
		comment := fmt.Sprintf("Face similarity %.1f%%", pair.SimilarityScore)
		if err := s.createTicketOnce(ctx, rdi, gmodels.CategoryNeedsAdjudication,
			gmodels.IssueBiometricDuplicate, golden,
			[]domain.IndividualID{other}, comment, now); err != nil {
			return err
		}
	}
	return nil
}

// raiseScreeningTickets flags merged individuals matching the sanctions list.
func (s *Service) raiseScreeningTickets(ctx context.Context, rdi *models.RegistrationDataImport,
	program *models.Program, individuals []*models.Individual, now time.Time) error {

	if !program.SanctionScreeningEnabled {
		return nil
	}
	flags, err := s.screener.Screen(ctx, individuals)
	if err != nil {
		return fmt.Errorf("sanction screening: %w", err)
	}
	for _, flag := range flags {
		comment := fmt.Sprintf("Matched sanctioned party %q (%s)", flag.MatchedName, flag.Reference)
		if err := s.createTicketOnce(ctx, rdi, gmodels.CategorySystemFlagging,
			gmodels.IssueSanctionMatch, flag.IndividualID, nil, comment, now); err != nil {
			return err
		}
	}
	return nil
}

// createTicketOnce creates a ticket unless an open one already covers the
// same individuals.
func (s *Service) createTicketOnce(ctx context.Context, rdi *models.RegistrationDataImport,
	category gmodels.Category, issue gmodels.IssueType, golden domain.IndividualID,
	duplicates []domain.IndividualID, comment string, now time.Time) error {

	involved := append([]domain.IndividualID{golden}, duplicates...)
	if existing, err := s.tickets.FindOpenCovering(ctx, rdi.ProgramID, category, involved); err == nil && existing != nil {
		return nil
	} else if err != nil && !isNotFound(err) {
		return fmt.Errorf("ticket lookup: %w", err)
	}

	ticket, err := gmodels.NewTicket(s.newTicketID(), category, issue,
		rdi.ID, rdi.ProgramID, rdi.BusinessArea, golden, duplicates, now)
	if err != nil {
		return err
	}
	ticket.Comment = comment
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	s.metrics.IncTicket(string(issue))
	return nil
}

// compensate unwinds index writes after a rolled-back transaction.
func (s *Service) compensate(ctx context.Context, indexed []domain.IndividualID) {
	if len(indexed) == 0 {
		return
	}
	if err := s.index.Delete(context.WithoutCancel(ctx), indexed); err != nil {
		s.logger.Error("compensating index delete failed", "count", len(indexed), "error", err)
	}
}

// failMerge records the merge error on the import outside the rolled-back
// transaction.
func (s *Service) failMerge(ctx context.Context, importID domain.ImportID, cause error) {
	rdi, err := s.imports.Get(ctx, importID)
	if err != nil {
		s.logger.Error("load import after failed merge", "import_id", importID, "error", err)
		return
	}
	rdi.ApplyMergeError(cause.Error(), requestcontext.Now(ctx))
	if err := s.imports.Update(ctx, rdi); err != nil {
		s.logger.Error("flag merge error", "import_id", importID, "error", err)
		return
	}
	s.emit(ctx, events.TypeMergeFailed, rdi, cause.Error())
}

func (s *Service) emit(ctx context.Context, eventType string, rdi *models.RegistrationDataImport, message string) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:         eventType,
		ImportID:     rdi.ID,
		ProgramID:    rdi.ProgramID,
		BusinessArea: rdi.BusinessArea,
		Message:      message,
		At:           requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.Error("publish lifecycle event", "type", eventType, "import_id", rdi.ID, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) || dErrors.CodeOf(err) == dErrors.CodeNotFound
}
