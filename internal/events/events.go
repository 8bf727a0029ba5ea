// Package events publishes import lifecycle transitions to an event stream.
// Publishing is fail-open: a lost event never fails the business operation.
package events

import (
	"context"
	"time"

	"intake/pkg/domain"
)

// Event types emitted by the pipeline.
const (
	TypeDeduplicationStarted = "import.deduplication_started"
	TypeDeduplicationDone    = "import.deduplicated"
	TypeDeduplicationFailed  = "import.deduplication_failed"
	TypeMergeStarted         = "import.merge_started"
	TypeMerged               = "import.merged"
	TypeMergeFailed          = "import.merge_failed"
	TypeBiometricStatus      = "import.biometric_status_changed"
)

// Event is one lifecycle transition of an import.
type Event struct {
	Type         string                  `json:"type"`
	ImportID     domain.ImportID         `json:"import_id"`
	ProgramID    domain.ProgramID        `json:"program_id,omitempty"`
	BusinessArea domain.BusinessAreaSlug `json:"business_area"`
	Message      string                  `json:"message,omitempty"`
	At           time.Time               `json:"at"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards events; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
