package models

import (
	"time"

	"intake/pkg/domain"
)

// Program is the targeting unit inside a business area. The flags below are
// the only program attributes this pipeline reads or writes.
type Program struct {
	ID           domain.ProgramID
	Name         string
	BusinessArea domain.BusinessAreaSlug

	BiometricDeduplicationEnabled bool
	CollisionDetectionEnabled     bool
	SanctionScreeningEnabled      bool

	// DeduplicationSetID is the remote biometric set registered for this
	// program; empty until CreateDeduplicationSet ran.
	DeduplicationSetID domain.DeduplicationSetID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDeduplicationSet reports whether a remote biometric set exists.
func (p *Program) HasDeduplicationSet() bool { return p.DeduplicationSetID != "" }

// ApplyDeduplicationSet stores the remote set id returned by the engine.
func (p *Program) ApplyDeduplicationSet(id domain.DeduplicationSetID, now time.Time) {
	p.DeduplicationSetID = id
	p.UpdatedAt = now
}

// ClearDeduplicationSet detaches the remote set after a reset.
func (p *Program) ClearDeduplicationSet(now time.Time) {
	p.DeduplicationSetID = ""
	p.UpdatedAt = now
}
