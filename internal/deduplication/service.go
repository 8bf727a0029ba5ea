// Package deduplication drives the engine across an entire import batch,
// enforcing duplicate quotas and finalizing statuses.
package deduplication

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bamodels "intake/internal/businessarea/models"
	"intake/internal/deduplication/engine"
	dedupmetrics "intake/internal/deduplication/metrics"
	"intake/internal/events"
	"intake/internal/registration/models"
	"intake/internal/searchindex"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

// IndividualStore is the slice of the individual store this service needs.
type IndividualStore interface {
	// ListPendingByImport returns the batch's individuals in registration
	// order.
	ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error)
	// ListByImport returns every individual of the import regardless of
	// merge status, in registration order.
	ListByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error)
	// BulkUpdateDeduplication persists statuses and result payloads.
	BulkUpdateDeduplication(ctx context.Context, individuals []*models.Individual) error
}

// ImportStore loads and persists registration data imports.
type ImportStore interface {
	Get(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error)
	Update(ctx context.Context, rdi *models.RegistrationDataImport) error
}

// BusinessAreaStore resolves threshold configuration.
type BusinessAreaStore interface {
	Get(ctx context.Context, slug domain.BusinessAreaSlug) (*bamodels.BusinessArea, error)
}

// Service is the batch orchestrator.
type Service struct {
	engine      *engine.Engine
	index       searchindex.Index
	individuals IndividualStore
	imports     ImportStore
	areas       BusinessAreaStore
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *dedupmetrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *dedupmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(
	eng *engine.Engine,
	index searchindex.Index,
	individuals IndividualStore,
	imports ImportStore,
	areas BusinessAreaStore,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		engine:      eng,
		index:       index,
		individuals: individuals,
		imports:     imports,
		areas:       areas,
		publisher:   events.Noop{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runScope threads the current business area, program and import through the
// whole run. It replaces any notion of shared mutable state: two concurrent
// runs never observe each other's scope.
type runScope struct {
	area *bamodels.BusinessArea
	rdi  *models.RegistrationDataImport
}

// DeduplicateImport runs batch-scope and population-scope deduplication over
// every individual of the import, in registration order.
//
// Quota breaches are business outcomes, not errors: the import is flagged
// DEDUPLICATION_FAILED with a message and the method returns nil. Unexpected
// infrastructure failures propagate as errors.
func (s *Service) DeduplicateImport(ctx context.Context, importID domain.ImportID) error {
	start := time.Now()
	now := requestcontext.Now(ctx)

	rdi, err := s.imports.Get(ctx, importID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load import")
	}
	if err := rdi.CanStartDeduplication(); err != nil {
		return err
	}
	area, err := s.areas.Get(ctx, rdi.BusinessArea)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load business area")
	}

	rdi.ApplyDeduplicationStarted(now)
	if err := s.imports.Update(ctx, rdi); err != nil {
		return fmt.Errorf("mark deduplication started: %w", err)
	}
	s.emit(ctx, events.TypeDeduplicationStarted, rdi, "")

	individuals, err := s.individuals.ListPendingByImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("list pending individuals: %w", err)
	}

	// Repopulate the batch's slice of the index before querying it.
	if err := s.index.Upsert(ctx, searchindex.FromIndividuals(individuals)); err != nil {
		return fmt.Errorf("populate index: %w", err)
	}

	scope := runScope{area: area, rdi: rdi}
	outcome, err := s.run(ctx, scope, individuals)
	if err != nil {
		return err
	}

	s.metrics.AddIndividuals(len(individuals))
	s.metrics.ObserveRun(outcome, start)
	return nil
}

// DeduplicateMergedImport runs the population-scope pass over an already
// merged import. Business areas that postpone deduplication reach here from
// the merge task, once the import and its individuals are MERGED. Quota caps
// do not apply: the records are already part of the population, so only
// golden-record statuses, results and counters are written.
func (s *Service) DeduplicateMergedImport(ctx context.Context, importID domain.ImportID) error {
	start := time.Now()
	now := requestcontext.Now(ctx)

	rdi, err := s.imports.Get(ctx, importID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load import")
	}
	if rdi.Status != models.ImportStatusMerged {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"cannot run post-merge deduplication on import in status %s", rdi.Status)
	}
	area, err := s.areas.Get(ctx, rdi.BusinessArea)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load business area")
	}

	all, err := s.individuals.ListByImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("list merged individuals: %w", err)
	}
	var individuals []*models.Individual
	for _, ind := range all {
		if ind.IsMerged() {
			individuals = append(individuals, ind)
		}
	}
	if len(individuals) == 0 {
		return nil
	}

	// Merged individuals carry their business area into the index, so they
	// are visible to population-scope queries, including each other's.
	if err := s.index.Upsert(ctx, searchindex.FromIndividuals(individuals)); err != nil {
		return fmt.Errorf("populate index: %w", err)
	}

	th := area.Thresholds
	goldenParams := engine.Params{
		DuplicateScore:         th.GoldenRecordDuplicateScore,
		PossibleDuplicateScore: th.GoldenRecordPossibleDuplicateScore,
	}

	rdi.GoldenRecordDuplicates, rdi.GoldenRecordPossibleDuplicates, rdi.GoldenRecordUnique = 0, 0, 0
	for _, ind := range individuals {
		res, err := s.engine.Deduplicate(ctx, ind, engine.PopulationScope(area.Slug), goldenParams)
		if err != nil {
			return err
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

	if err := s.individuals.BulkUpdateDeduplication(ctx, individuals); err != nil {
		return fmt.Errorf("persist deduplication results: %w", err)
	}
	rdi.ApplyPostMergeDeduplicated(now)
	if err := s.imports.Update(ctx, rdi); err != nil {
		return fmt.Errorf("finalize import: %w", err)
	}
	s.emit(ctx, events.TypeDeduplicationDone, rdi, "")

	s.metrics.AddIndividuals(len(individuals))
	s.metrics.ObserveRun("post_merge", start)
	return nil
}

type runState struct {
	checked          map[domain.IndividualID]bool
	batchDuplicates  map[domain.IndividualID]bool
	goldenDuplicates map[domain.IndividualID]bool
}

func (s *Service) run(ctx context.Context, scope runScope, individuals []*models.Individual) (string, error) {
	th := scope.area.Thresholds
	state := runState{
		checked:          make(map[domain.IndividualID]bool, len(individuals)),
		batchDuplicates:  make(map[domain.IndividualID]bool),
		goldenDuplicates: make(map[domain.IndividualID]bool),
	}
	goldenStatus := make(map[domain.IndividualID]models.DeduplicationGoldenRecordStatus, len(individuals))

	batchParams := engine.Params{
		DuplicateScore:         th.BatchDuplicateScore,
		PossibleDuplicateScore: th.BatchPossibleDuplicateScore,
	}
	goldenParams := engine.Params{
		DuplicateScore:         th.GoldenRecordDuplicateScore,
		PossibleDuplicateScore: th.GoldenRecordPossibleDuplicateScore,
	}

	for _, ind := range individuals {
		batchRes, err := s.engine.Deduplicate(ctx, ind, engine.BatchScope(scope.rdi.ID), batchParams)
		if err != nil {
			return "", err
		}
		goldenRes, err := s.engine.Deduplicate(ctx, ind, engine.PopulationScope(scope.area.Slug), goldenParams)
		if err != nil {
			return "", err
		}

		ind.DeduplicationBatchResults = batchRes.Results
		ind.DeduplicationGoldenRecordResults = goldenRes.Results
		state.checked[ind.ID] = true

		switch {
		case len(goldenRes.DuplicateIDs) > 0:
			goldenStatus[ind.ID] = models.GoldenRecordStatusDuplicate
		case len(goldenRes.PossibleDuplicateIDs) > 0:
			goldenStatus[ind.ID] = models.GoldenRecordStatusNeedsAdjudication
		default:
			goldenStatus[ind.ID] = models.GoldenRecordStatusUnique
		}

		if len(batchRes.DuplicateIDs) > th.BatchDuplicatesCountAllowed {
			msg := fmt.Sprintf(
				"The number of individuals (%d) who are duplicates of %s exceeds the allowed amount (%d)",
				len(batchRes.DuplicateIDs), ind.FullName, th.BatchDuplicatesCountAllowed)
			s.metrics.IncQuotaAbort("batch_count")
			return "aborted", s.abort(ctx, scope, individuals, state, goldenStatus, msg)
		}

		for _, id := range batchRes.DuplicateIDs {
			state.batchDuplicates[id] = true
		}
		for _, id := range goldenRes.DuplicateIDs {
			state.goldenDuplicates[id] = true
		}

		if breached, msg := percentageBreached("batch",
			len(state.batchDuplicates), len(individuals), th.BatchDuplicatesPercentAllowed); breached {
			s.metrics.IncQuotaAbort("batch_percentage")
			return "aborted", s.abort(ctx, scope, individuals, state, goldenStatus, msg)
		}
		if len(state.goldenDuplicates) > th.GoldenRecordDuplicatesCountAllowed {
			msg := fmt.Sprintf(
				"The number of golden-record duplicates (%d) exceeds the allowed amount (%d)",
				len(state.goldenDuplicates), th.GoldenRecordDuplicatesCountAllowed)
			s.metrics.IncQuotaAbort("golden_count")
			return "aborted", s.abort(ctx, scope, individuals, state, goldenStatus, msg)
		}
		if breached, msg := percentageBreached("golden record",
			len(state.goldenDuplicates), len(individuals), th.GoldenRecordDuplicatesPercentAllowed); breached {
			s.metrics.IncQuotaAbort("golden_percentage")
			return "aborted", s.abort(ctx, scope, individuals, state, goldenStatus, msg)
		}
	}

	return "completed", s.finalize(ctx, scope, individuals, state, goldenStatus)
}

// finalize categorizes by set membership and persists the happy path.
func (s *Service) finalize(ctx context.Context, scope runScope, individuals []*models.Individual,
	state runState, goldenStatus map[domain.IndividualID]models.DeduplicationGoldenRecordStatus) error {

	now := requestcontext.Now(ctx)
	rdi := scope.rdi
	rdi.BatchDuplicates, rdi.BatchUnique = 0, 0
	rdi.GoldenRecordDuplicates, rdi.GoldenRecordPossibleDuplicates, rdi.GoldenRecordUnique = 0, 0, 0

	for _, ind := range individuals {
		if state.batchDuplicates[ind.ID] {
			ind.DeduplicationBatchStatus = models.BatchStatusDuplicate
			rdi.BatchDuplicates++
		} else {
			ind.DeduplicationBatchStatus = models.BatchStatusUnique
			rdi.BatchUnique++
		}

		ind.DeduplicationGoldenRecordStatus = goldenStatus[ind.ID]
		switch goldenStatus[ind.ID] {
		case models.GoldenRecordStatusDuplicate:
			rdi.GoldenRecordDuplicates++
		case models.GoldenRecordStatusNeedsAdjudication:
			rdi.GoldenRecordPossibleDuplicates++
		default:
			rdi.GoldenRecordUnique++
		}
		ind.UpdatedAt = now
	}

	if err := s.individuals.BulkUpdateDeduplication(ctx, individuals); err != nil {
		return fmt.Errorf("persist deduplication results: %w", err)
	}

	rdi.ApplyDeduplicated(now)
	if err := s.imports.Update(ctx, rdi); err != nil {
		return fmt.Errorf("finalize import: %w", err)
	}
	s.emit(ctx, events.TypeDeduplicationDone, rdi, "")
	return nil
}

// abort stops the run after a quota breach. Individuals already evaluated
// keep their provisional statuses; unchecked ones become NOT_PROCESSED. Only
// the import as a whole is flagged failed.
func (s *Service) abort(ctx context.Context, scope runScope, individuals []*models.Individual,
	state runState, goldenStatus map[domain.IndividualID]models.DeduplicationGoldenRecordStatus,
	message string) error {

	now := requestcontext.Now(ctx)
	for _, ind := range individuals {
		if !state.checked[ind.ID] {
			if ind.DeduplicationBatchStatus == "" || ind.DeduplicationBatchStatus == models.BatchStatusNotProcessed {
				ind.DeduplicationBatchStatus = models.BatchStatusNotProcessed
			}
			if ind.DeduplicationGoldenRecordStatus == "" || ind.DeduplicationGoldenRecordStatus == models.GoldenRecordStatusNotProcessed {
				ind.DeduplicationGoldenRecordStatus = models.GoldenRecordStatusNotProcessed
			}
			ind.UpdatedAt = now
			continue
		}
		if state.batchDuplicates[ind.ID] {
			ind.DeduplicationBatchStatus = models.BatchStatusDuplicate
		} else {
			ind.DeduplicationBatchStatus = models.BatchStatusUnique
		}
		ind.DeduplicationGoldenRecordStatus = goldenStatus[ind.ID]
		ind.UpdatedAt = now
	}

	if err := s.individuals.BulkUpdateDeduplication(ctx, individuals); err != nil {
		return fmt.Errorf("persist aborted run: %w", err)
	}

	scope.rdi.ApplyDeduplicationFailed(message, now)
	if err := s.imports.Update(ctx, scope.rdi); err != nil {
		return fmt.Errorf("flag import failed: %w", err)
	}

	s.logger.Warn("deduplication aborted",
		"import_id", scope.rdi.ID, "business_area", scope.area.Slug, "reason", message)
	s.emit(ctx, events.TypeDeduplicationFailed, scope.rdi, message)
	return nil
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

func percentageBreached(kind string, duplicates, batchSize int, allowed float64) (bool, string) {
	if batchSize == 0 {
		return false, ""
	}
	pct := float64(duplicates) / float64(batchSize) * 100
	if pct > allowed {
		return true, fmt.Sprintf(
			"The percentage of %s duplicates (%.1f%%) exceeds the allowed amount (%.1f%%)",
			kind, pct, allowed)
	}
	return false, ""
}
