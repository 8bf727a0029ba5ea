package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bamodels "intake/internal/businessarea/models"
	biomodels "intake/internal/biometric/models"
	biometrics "intake/internal/biometric/metrics"
	"intake/internal/events"
	"intake/internal/photos"
	"intake/internal/registration/models"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

// ProgramStore is the slice of the program store this service needs.
type ProgramStore interface {
	Get(ctx context.Context, id domain.ProgramID) (*models.Program, error)
	Update(ctx context.Context, p *models.Program) error
}

// ImportStore loads and persists registration data imports.
type ImportStore interface {
	Get(ctx context.Context, id domain.ImportID) (*models.RegistrationDataImport, error)
	Update(ctx context.Context, rdi *models.RegistrationDataImport) error
	ListByProgramAndEngineStatus(ctx context.Context, programID domain.ProgramID, statuses ...models.EngineStatus) ([]*models.RegistrationDataImport, error)
}

// IndividualStore reads individuals for upload and result mapping.
type IndividualStore interface {
	ListPendingByImport(ctx context.Context, importID domain.ImportID) ([]*models.Individual, error)
	GetByIDs(ctx context.Context, ids []domain.IndividualID) ([]*models.Individual, error)
}

// BusinessAreaStore resolves threshold configuration.
type BusinessAreaStore interface {
	Get(ctx context.Context, slug domain.BusinessAreaSlug) (*bamodels.BusinessArea, error)
}

// PairStore persists similarity pairs.
type PairStore interface {
	BulkCreate(ctx context.Context, pairs []*biomodels.SimilarityPair) error
	DeleteByProgram(ctx context.Context, programID domain.ProgramID) error
	ListForIndividuals(ctx context.Context, programID domain.ProgramID, ids []domain.IndividualID) ([]*biomodels.SimilarityPair, error)
}

// Service drives the per-program biometric deduplication pipeline.
type Service struct {
	client      EngineClient
	programs    ProgramStore
	imports     ImportStore
	individuals IndividualStore
	areas       BusinessAreaStore
	pairs       PairStore
	photos      photos.Store
	leaser      Leaser
	publisher   events.Publisher
	logger      *slog.Logger
	metrics     *biometrics.Metrics

	// notificationBaseURL is the externally reachable base for the
	// program-scoped completion webhook.
	notificationBaseURL string
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *biometrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNotificationBaseURL sets the webhook base announced to the engine.
func WithNotificationBaseURL(base string) Option {
	return func(s *Service) { s.notificationBaseURL = base }
}

func NewService(
	client EngineClient,
	programs ProgramStore,
	imports ImportStore,
	individuals IndividualStore,
	areas BusinessAreaStore,
	pairs PairStore,
	photoStore photos.Store,
	leaser Leaser,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		client:      client,
		programs:    programs,
		imports:     imports,
		individuals: individuals,
		areas:       areas,
		pairs:       pairs,
		photos:      photoStore,
		leaser:      leaser,
		publisher:   events.Noop{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDeduplicationSet registers a program-scoped set with the engine and
// records its id. Idempotent: an existing set is returned as-is.
func (s *Service) CreateDeduplicationSet(ctx context.Context, programID domain.ProgramID) (domain.DeduplicationSetID, error) {
	program, err := s.programs.Get(ctx, programID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeNotFound, "load program")
	}
	if !program.BiometricDeduplicationEnabled {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation,
			"biometric deduplication is not enabled for program %s", programID)
	}
	if program.HasDeduplicationSet() {
		return program.DeduplicationSetID, nil
	}

	area, err := s.areas.Get(ctx, program.BusinessArea)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeNotFound, "load business area")
	}

	set, err := s.client.CreateSet(ctx, CreateSetRequest{
		ReferencePK:     programID.String(),
		NotificationURL: s.notificationURL(programID),
		Config: SetConfig{
			FaceDistanceThreshold: area.Thresholds.FaceDistanceThreshold(),
		},
	})
	if err != nil {
		return "", err
	}

	program.ApplyDeduplicationSet(domain.DeduplicationSetID(set.ID), requestcontext.Now(ctx))
	if err := s.programs.Update(ctx, program); err != nil {
		return "", fmt.Errorf("store deduplication set id: %w", err)
	}
	return program.DeduplicationSetID, nil
}

// UploadIndividuals pushes the import's eligible photos into the program's
// set. An import without a single eligible individual goes straight to
// FINISHED; an upload failure flags UPLOAD_ERROR and keeps the import
// retryable.
func (s *Service) UploadIndividuals(ctx context.Context, setID domain.DeduplicationSetID, rdi *models.RegistrationDataImport) error {
	now := requestcontext.Now(ctx)

	individuals, err := s.individuals.ListPendingByImport(ctx, rdi.ID)
	if err != nil {
		return fmt.Errorf("list individuals for upload: %w", err)
	}

	var images []ImageRef
	for _, ind := range individuals {
		if !ind.EligibleForBiometrics() {
			continue
		}
		url, err := s.photos.PresignedURL(ctx, ind.PhotoKey)
		if err != nil {
			return fmt.Errorf("resolve photo for %s: %w", ind.ID, err)
		}
		images = append(images, ImageRef{ReferencePK: ind.ID.String(), Filename: url})
	}

	if len(images) == 0 {
		rdi.ApplyEngineStatus(models.EngineStatusFinished, now)
		if err := s.imports.Update(ctx, rdi); err != nil {
			return fmt.Errorf("finish empty upload: %w", err)
		}
		s.metrics.ObserveUpload("empty")
		return nil
	}

	if err := s.client.UploadImages(ctx, setID.String(), images); err != nil {
		rdi.ApplyEngineStatus(models.EngineStatusUploadError, now)
		if updateErr := s.imports.Update(ctx, rdi); updateErr != nil {
			s.logger.Error("flag upload error", "import_id", rdi.ID, "error", updateErr)
		}
		s.metrics.ObserveUpload("error")
		return err
	}

	rdi.ApplyEngineStatus(models.EngineStatusUploaded, now)
	if err := s.imports.Update(ctx, rdi); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	s.metrics.ObserveUpload("uploaded")
	return nil
}

// UploadAndProcessDeduplicationSet uploads every retryable import of the
// program and asks the engine to process the set. A Redis lease serializes
// rounds per program; a held lease surfaces as sentinel.ErrAlreadyProcessing.
func (s *Service) UploadAndProcessDeduplicationSet(ctx context.Context, programID domain.ProgramID) error {
	release, err := s.leaser.Acquire(ctx, programID)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyProcessing) {
			s.metrics.IncLeaseRejection()
		}
		return err
	}
	defer release()

	setID, err := s.CreateDeduplicationSet(ctx, programID)
	if err != nil {
		return err
	}

	pending, err := s.imports.ListByProgramAndEngineStatus(ctx, programID,
		models.EngineStatusPending, models.EngineStatusUploadError, models.EngineStatusError)
	if err != nil {
		return fmt.Errorf("list retryable imports: %w", err)
	}
	uploaded, err := s.imports.ListByProgramAndEngineStatus(ctx, programID, models.EngineStatusUploaded)
	if err != nil {
		return fmt.Errorf("list uploaded imports: %w", err)
	}

	var failed int
	for _, rdi := range pending {
		if err := s.UploadIndividuals(ctx, setID, rdi); err != nil {
			s.logger.Error("image upload failed", "import_id", rdi.ID, "error", err)
			failed++
			continue
		}
		if rdi.DeduplicationEngineStatus == models.EngineStatusUploaded {
			uploaded = append(uploaded, rdi)
		}
	}
	if failed > 0 {
		// Processing a partial cohort would publish results that silently
		// miss the failed imports. They are flagged UPLOAD_ERROR and retry
		// on the next round.
		return fmt.Errorf("upload failed for %d of %d imports; processing skipped", failed, len(pending))
	}
	if len(uploaded) == 0 {
		return nil
	}

	if err := s.client.Process(ctx, setID.String()); err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	for _, rdi := range uploaded {
		rdi.ApplyEngineStatus(models.EngineStatusInProgress, now)
		if err := s.imports.Update(ctx, rdi); err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}
		s.emit(ctx, rdi, string(models.EngineStatusInProgress))
	}
	return nil
}

// MarkProcessing records the engine's notification that a run started.
func (s *Service) MarkProcessing(ctx context.Context, programID domain.ProgramID) error {
	imports, err := s.imports.ListByProgramAndEngineStatus(ctx, programID, models.EngineStatusInProgress)
	if err != nil {
		return fmt.Errorf("list in-progress imports: %w", err)
	}
	now := requestcontext.Now(ctx)
	for _, rdi := range imports {
		rdi.ApplyEngineStatus(models.EngineStatusProcessing, now)
		if err := s.imports.Update(ctx, rdi); err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		s.emit(ctx, rdi, string(models.EngineStatusProcessing))
	}
	return nil
}

// FetchResultsAndProcess pulls the engine's duplicates for the program's set,
// replaces the program's stored pairs wholesale, and finalizes every
// in-flight import with its batch and population duplicate counts.
func (s *Service) FetchResultsAndProcess(ctx context.Context, programID domain.ProgramID) error {
	start := time.Now()
	now := requestcontext.Now(ctx)

	program, err := s.programs.Get(ctx, programID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "load program")
	}
	if !program.HasDeduplicationSet() {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"program %s has no deduplication set", programID)
	}

	inFlight, err := s.imports.ListByProgramAndEngineStatus(ctx, programID,
		models.EngineStatusInProgress, models.EngineStatusProcessing, models.EngineStatusUploaded)
	if err != nil {
		return fmt.Errorf("list in-flight imports: %w", err)
	}
	if len(inFlight) == 0 {
		return nil
	}

	set, err := s.client.GetSet(ctx, program.DeduplicationSetID.String())
	if err != nil {
		return err
	}
	if set.State == SetStateError {
		return s.finishAll(ctx, inFlight, models.EngineStatusError, now)
	}
	if set.State != SetStateClean {
		// Still running; the poller or the next webhook retries.
		return nil
	}

	duplicates, err := s.client.ListDuplicates(ctx, program.DeduplicationSetID.String())
	if err != nil {
		return err
	}

	// A clean set reports the full duplicate list for the whole program, so
	// the fetched pairs replace everything stored before, including pairs
	// whose individuals no longer appear in any result.
	pairs := s.buildPairs(programID, duplicates, now)
	if err := s.pairs.DeleteByProgram(ctx, programID); err != nil {
		return fmt.Errorf("clear previous pairs: %w", err)
	}
	if len(pairs) > 0 {
		if err := s.pairs.BulkCreate(ctx, pairs); err != nil {
			return fmt.Errorf("store pairs: %w", err)
		}
	}

	if err := s.finalizeImports(ctx, programID, inFlight, now); err != nil {
		return err
	}

	s.metrics.ObserveFetch(len(pairs), start)
	return nil
}

// buildPairs converts engine duplicates into canonical pairs, rescaling face
// distance d into a 0-100 similarity score (1-d)*100. Malformed entries are
// logged and skipped rather than failing the whole round.
func (s *Service) buildPairs(programID domain.ProgramID, duplicates []Duplicate, now time.Time) []*biomodels.SimilarityPair {
	pairs := make([]*biomodels.SimilarityPair, 0, len(duplicates))

	for _, dup := range duplicates {
		first, err := domain.ParseIndividualID(dup.First.ReferencePK)
		if err != nil {
			s.logger.Warn("skipping malformed duplicate", "reference", dup.First.ReferencePK)
			continue
		}
		second, err := domain.ParseIndividualID(dup.Second.ReferencePK)
		if err != nil {
			s.logger.Warn("skipping malformed duplicate", "reference", dup.Second.ReferencePK)
			continue
		}
		score := (1 - dup.Distance) * 100
		pair, err := biomodels.NewSimilarityPair(programID, first, second, score, now)
		if err != nil {
			s.logger.Warn("skipping invalid pair", "first", first, "second", second, "error", err)
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// finalizeImports computes per-import duplicate counts and moves every
// in-flight import to FINISHED. A batch duplicate pairs with someone in the
// same import; everything else counts against the population.
func (s *Service) finalizeImports(ctx context.Context, programID domain.ProgramID, imports []*models.RegistrationDataImport, now time.Time) error {
	for _, rdi := range imports {
		individuals, err := s.individuals.ListPendingByImport(ctx, rdi.ID)
		if err != nil {
			return fmt.Errorf("list individuals for stats: %w", err)
		}
		inImport := make(map[domain.IndividualID]struct{}, len(individuals))
		ids := make([]domain.IndividualID, 0, len(individuals))
		for _, ind := range individuals {
			inImport[ind.ID] = struct{}{}
			ids = append(ids, ind.ID)
		}

		var batchDup, populationDup int
		if len(ids) > 0 {
			pairs, err := s.pairs.ListForIndividuals(ctx, programID, ids)
			if err != nil {
				return fmt.Errorf("list pairs for stats: %w", err)
			}
			batchHit := make(map[domain.IndividualID]struct{})
			populationHit := make(map[domain.IndividualID]struct{})
			for _, pair := range pairs {
				for _, id := range ids {
					other, ok := pair.Other(id)
					if !ok {
						continue
					}
					if _, same := inImport[other]; same {
						batchHit[id] = struct{}{}
					} else {
						populationHit[id] = struct{}{}
					}
				}
			}
			batchDup, populationDup = len(batchHit), len(populationHit)
		}

		rdi.BiometricDuplicatesAgainstBatch = batchDup
		rdi.BiometricDuplicatesAgainstPopulation = populationDup
		rdi.ApplyEngineStatus(models.EngineStatusFinished, now)
		if err := s.imports.Update(ctx, rdi); err != nil {
			return fmt.Errorf("finish import: %w", err)
		}
		s.emit(ctx, rdi, string(models.EngineStatusFinished))
	}
	return nil
}

func (s *Service) finishAll(ctx context.Context, imports []*models.RegistrationDataImport, status models.EngineStatus, now time.Time) error {
	for _, rdi := range imports {
		rdi.ApplyEngineStatus(status, now)
		if err := s.imports.Update(ctx, rdi); err != nil {
			return fmt.Errorf("flag engine status: %w", err)
		}
		s.emit(ctx, rdi, string(status))
	}
	return nil
}

func (s *Service) emit(ctx context.Context, rdi *models.RegistrationDataImport, status string) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:         events.TypeBiometricStatus,
		ImportID:     rdi.ID,
		ProgramID:    rdi.ProgramID,
		BusinessArea: rdi.BusinessArea,
		Message:      status,
		At:           requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.Error("publish biometric event", "import_id", rdi.ID, "error", err)
	}
}

func (s *Service) notificationURL(programID domain.ProgramID) string {
	if s.notificationBaseURL == "" {
		return ""
	}
	return s.notificationBaseURL + "/api/programs/" + programID.String() + "/deduplication/callback"
}
