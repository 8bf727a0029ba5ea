package models

import (
	"time"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

// ImportStatus is the lifecycle state of a registration data import.
type ImportStatus string

const (
	ImportStatusLoading             ImportStatus = "LOADING"
	ImportStatusDeduplication       ImportStatus = "DEDUPLICATION"
	ImportStatusInReview            ImportStatus = "IN_REVIEW"
	ImportStatusMergeScheduled      ImportStatus = "MERGE_SCHEDULED"
	ImportStatusMerging             ImportStatus = "MERGING"
	ImportStatusMerged              ImportStatus = "MERGED"
	ImportStatusDeduplicationFailed ImportStatus = "DEDUPLICATION_FAILED"
	ImportStatusMergeError          ImportStatus = "MERGE_ERROR"
	ImportStatusImportError         ImportStatus = "IMPORT_ERROR"
)

// EngineStatus tracks the separate biometric deduplication pipeline per import.
type EngineStatus string

const (
	EngineStatusPending     EngineStatus = "PENDING"
	EngineStatusUploaded    EngineStatus = "UPLOADED"
	EngineStatusInProgress  EngineStatus = "IN_PROGRESS"
	EngineStatusProcessing  EngineStatus = "PROCESSING"
	EngineStatusFinished    EngineStatus = "FINISHED"
	EngineStatusError       EngineStatus = "ERROR"
	EngineStatusUploadError EngineStatus = "UPLOAD_ERROR"
)

// NeedsUpload reports whether the import is a retry source for image upload.
func (s EngineStatus) NeedsUpload() bool {
	return s == EngineStatusPending || s == EngineStatusUploadError || s == EngineStatusError
}

// RegistrationDataImport is the unit of one import batch.
//
// Invariants:
//   - Status reaches MERGED only through MERGING, and MERGING is only entered
//     from MERGE_SCHEDULED/IN_REVIEW after deduplication completed (unless the
//     business area postpones deduplication).
//   - Error states carry a human-readable message for the review UI.
type RegistrationDataImport struct {
	ID           domain.ImportID
	Name         string
	ProgramID    domain.ProgramID
	BusinessArea domain.BusinessAreaSlug
	DataSource   string

	Status       ImportStatus
	ErrorMessage string

	DeduplicationEngineStatus EngineStatus

	BatchDuplicates                int
	BatchPossibleDuplicates        int
	BatchUnique                    int
	GoldenRecordDuplicates         int
	GoldenRecordPossibleDuplicates int
	GoldenRecordUnique             int

	BiometricDuplicatesAgainstBatch      int
	BiometricDuplicatesAgainstPopulation int

	DedupedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DataSourceProgramPopulation marks imports sourced from another program's
// population; only these participate in cross-import collection linking.
const DataSourceProgramPopulation = "PROGRAM_POPULATION"

// Deduplicated reports whether the biographical deduplication pass completed.
func (r *RegistrationDataImport) Deduplicated() bool { return r.DedupedAt != nil }

// CanStartDeduplication checks whether a batch deduplication run may begin.
func (r *RegistrationDataImport) CanStartDeduplication() error {
	switch r.Status {
	case ImportStatusLoading, ImportStatusDeduplication, ImportStatusDeduplicationFailed, ImportStatusInReview:
		return nil
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"cannot deduplicate import in status %s", r.Status)
	}
}

// ApplyDeduplicationStarted moves the import into the deduplication state.
func (r *RegistrationDataImport) ApplyDeduplicationStarted(now time.Time) {
	r.Status = ImportStatusDeduplication
	r.ErrorMessage = ""
	r.UpdatedAt = now
}

// ApplyDeduplicationFailed records a quota-breach abort. This is an expected
// business outcome, stored as data rather than raised as an error.
func (r *RegistrationDataImport) ApplyDeduplicationFailed(message string, now time.Time) {
	r.Status = ImportStatusDeduplicationFailed
	r.ErrorMessage = message
	r.UpdatedAt = now
}

// ApplyDeduplicated records a successful batch pass and moves to review.
func (r *RegistrationDataImport) ApplyDeduplicated(now time.Time) {
	r.Status = ImportStatusInReview
	r.ErrorMessage = ""
	r.DedupedAt = &now
	r.UpdatedAt = now
}

// ApplyPostMergeDeduplicated records a population pass that ran after the
// merge, for business areas that postpone deduplication. The import stays
// MERGED.
func (r *RegistrationDataImport) ApplyPostMergeDeduplicated(now time.Time) {
	r.DedupedAt = &now
	r.UpdatedAt = now
}

// CanMerge checks the ordering invariant: no merge without deduplication,
// unless the business area postpones it, and never twice.
func (r *RegistrationDataImport) CanMerge(postponeDeduplication bool) error {
	switch r.Status {
	case ImportStatusInReview, ImportStatusMergeScheduled, ImportStatusMergeError:
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"cannot merge import in status %s", r.Status)
	}
	if !postponeDeduplication && !r.Deduplicated() {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot merge import before deduplication completes")
	}
	return nil
}

// ApplyMerging marks the merge transaction as in flight.
func (r *RegistrationDataImport) ApplyMerging(now time.Time) {
	r.Status = ImportStatusMerging
	r.ErrorMessage = ""
	r.UpdatedAt = now
}

// ApplyMerged finalizes the import.
func (r *RegistrationDataImport) ApplyMerged(now time.Time) {
	r.Status = ImportStatusMerged
	r.ErrorMessage = ""
	r.UpdatedAt = now
}

// ApplyMergeError records a failed merge attempt after rollback.
func (r *RegistrationDataImport) ApplyMergeError(message string, now time.Time) {
	r.Status = ImportStatusMergeError
	r.ErrorMessage = message
	r.UpdatedAt = now
}

// ApplyEngineStatus records a biometric pipeline transition.
func (r *RegistrationDataImport) ApplyEngineStatus(status EngineStatus, now time.Time) {
	r.DeduplicationEngineStatus = status
	r.UpdatedAt = now
}
