package models

import (
	"time"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

// Thresholds is the per-business-area deduplication configuration. It is
// read-only during a run and drives every scoring and quota decision.
type Thresholds struct {
	// Batch (loose) pair: catches literal re-submissions within one import.
	BatchDuplicateScore         float64
	BatchPossibleDuplicateScore float64

	// Golden record (strict) pair: keeps false positives against the full
	// historical population off the case workers' desks.
	GoldenRecordDuplicateScore         float64
	GoldenRecordPossibleDuplicateScore float64

	// Caps before the whole import is rejected.
	BatchDuplicatesCountAllowed          int
	BatchDuplicatesPercentAllowed        float64
	GoldenRecordDuplicatesCountAllowed   int
	GoldenRecordDuplicatesPercentAllowed float64

	// BiometricDeduplicationThreshold is a 0-100 similarity percentage.
	BiometricDeduplicationThreshold float64
}

// DefaultThresholds returns the configuration applied to business areas that
// never overrode theirs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BatchDuplicateScore:                  6.0,
		BatchPossibleDuplicateScore:          6.0,
		GoldenRecordDuplicateScore:           6.0,
		GoldenRecordPossibleDuplicateScore:   4.0,
		BatchDuplicatesCountAllowed:          5,
		BatchDuplicatesPercentAllowed:        50,
		GoldenRecordDuplicatesCountAllowed:   5,
		GoldenRecordDuplicatesPercentAllowed: 50,
		BiometricDeduplicationThreshold:      55.0,
	}
}

// Validate checks the configuration is internally consistent.
func (t Thresholds) Validate() error {
	if t.BatchPossibleDuplicateScore > t.BatchDuplicateScore {
		return dErrors.New(dErrors.CodeInvalidInput,
			"batch possible-duplicate score cannot exceed the duplicate score")
	}
	if t.GoldenRecordPossibleDuplicateScore > t.GoldenRecordDuplicateScore {
		return dErrors.New(dErrors.CodeInvalidInput,
			"golden-record possible-duplicate score cannot exceed the duplicate score")
	}
	if t.BatchDuplicatesPercentAllowed < 0 || t.BatchDuplicatesPercentAllowed > 100 ||
		t.GoldenRecordDuplicatesPercentAllowed < 0 || t.GoldenRecordDuplicatesPercentAllowed > 100 {
		return dErrors.New(dErrors.CodeInvalidInput, "percentage caps must be within [0, 100]")
	}
	if t.BiometricDeduplicationThreshold < 0 || t.BiometricDeduplicationThreshold > 100 {
		return dErrors.New(dErrors.CodeInvalidInput, "biometric threshold must be within [0, 100]")
	}
	return nil
}

// FaceDistanceThreshold converts the 0-100 similarity percentage into the
// engine's 0-1 face distance.
func (t Thresholds) FaceDistanceThreshold() float64 {
	return 1 - t.BiometricDeduplicationThreshold/100
}

// BusinessArea scopes a population and its deduplication configuration.
type BusinessArea struct {
	Slug domain.BusinessAreaSlug
	Name string

	// PostponeDeduplication lets an area merge imports before running
	// biographical deduplication; the check is then run out of band.
	PostponeDeduplication bool

	Thresholds Thresholds

	CreatedAt time.Time
	UpdatedAt time.Time
}
