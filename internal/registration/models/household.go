package models

import (
	"time"

	"intake/pkg/domain"
)

// Role assignment names within a household.
const (
	RolePrimaryCollector   = "PRIMARY"
	RoleAlternateCollector = "ALTERNATE"
)

// Household groups individuals registered together.
type Household struct {
	ID           domain.HouseholdID
	ImportID     domain.ImportID
	ProgramID    domain.ProgramID
	BusinessArea domain.BusinessAreaSlug

	UnicefID    string
	CountryCode string
	AdminArea   string
	Address     string
	Size        int

	// IdentificationKey is the stable key used by collision detection; empty
	// disables collision checks for this household.
	IdentificationKey string

	// Roles maps collector roles to the individuals holding them.
	Roles map[string]domain.IndividualID

	// CollectionID links households sharing a unicef_id across imports for
	// cross-import history display.
	CollectionID string

	MergeStatus MergeStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsMerged reports whether the household belongs to the golden record.
func (h *Household) IsMerged() bool { return h.MergeStatus == MergeStatusMerged }

// ApplyMerge promotes the household into the golden record.
func (h *Household) ApplyMerge(now time.Time) {
	h.MergeStatus = MergeStatusMerged
	h.UpdatedAt = now
}

// RecomputeSize refreshes the population-size aggregate from member count.
func (h *Household) RecomputeSize(members int, now time.Time) {
	h.Size = members
	h.UpdatedAt = now
}
