// Package domain defines the typed identifiers shared across the pipeline.
//
// Every aggregate gets its own UUID-backed type so the compiler catches
// cross-entity mixups (an ImportID can never be passed where an IndividualID
// is expected). Parse helpers enforce the invariant that IDs are valid,
// non-nil UUIDs at trust boundaries.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "intake/pkg/domain-errors"
)

type (
	// IndividualID identifies a person record, staging or merged.
	IndividualID uuid.UUID
	// HouseholdID identifies a household record, staging or merged.
	HouseholdID uuid.UUID
	// ImportID identifies one registration data import batch.
	ImportID uuid.UUID
	// ProgramID identifies a program within a business area.
	ProgramID uuid.UUID
	// TicketID identifies a grievance ticket.
	TicketID uuid.UUID
)

// BusinessAreaSlug is the stable, human-readable key for a business area.
// It scopes population-wide deduplication and threshold configuration.
type BusinessAreaSlug string

func (s BusinessAreaSlug) String() string { return string(s) }

// IsEmpty reports whether the slug is unset.
func (s BusinessAreaSlug) IsEmpty() bool { return strings.TrimSpace(string(s)) == "" }

// DeduplicationSetID is the opaque identifier the biometric engine returns
// for a program-scoped deduplication set.
type DeduplicationSetID string

func (s DeduplicationSetID) String() string { return string(s) }

func (id IndividualID) String() string { return uuid.UUID(id).String() }
func (id HouseholdID) String() string  { return uuid.UUID(id).String() }
func (id ImportID) String() string     { return uuid.UUID(id).String() }
func (id ProgramID) String() string    { return uuid.UUID(id).String() }
func (id TicketID) String() string     { return uuid.UUID(id).String() }

func (id IndividualID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id HouseholdID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ImportID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ProgramID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TicketID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// ParseIndividualID parses and validates an individual ID.
func ParseIndividualID(raw string) (IndividualID, error) {
	u, err := parseUUID(raw)
	return IndividualID(u), err
}

// ParseHouseholdID parses and validates a household ID.
func ParseHouseholdID(raw string) (HouseholdID, error) {
	u, err := parseUUID(raw)
	return HouseholdID(u), err
}

// ParseImportID parses and validates an import ID.
func ParseImportID(raw string) (ImportID, error) {
	u, err := parseUUID(raw)
	return ImportID(u), err
}

// ParseProgramID parses and validates a program ID.
func ParseProgramID(raw string) (ProgramID, error) {
	u, err := parseUUID(raw)
	return ProgramID(u), err
}

// ParseTicketID parses and validates a ticket ID.
func ParseTicketID(raw string) (TicketID, error) {
	u, err := parseUUID(raw)
	return TicketID(u), err
}

func parseUUID(raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
