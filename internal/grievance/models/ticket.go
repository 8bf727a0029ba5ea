// Package models defines grievance tickets raised by the merge pipeline.
package models

import (
	"time"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

// Category of a ticket.
type Category string

const (
	// CategoryNeedsAdjudication groups duplicate-resolution tickets created
	// by the merge task.
	CategoryNeedsAdjudication Category = "NEEDS_ADJUDICATION"
	// CategorySystemFlagging groups sanction screening hits.
	CategorySystemFlagging Category = "SYSTEM_FLAGGING"
)

// IssueType distinguishes what raised the ticket.
type IssueType string

const (
	IssueBiographicalDuplicate IssueType = "BIOGRAPHICAL_DUPLICATE"
	IssueBiographicalPossible  IssueType = "BIOGRAPHICAL_POSSIBLE_DUPLICATE"
	IssueBiometricDuplicate    IssueType = "BIOMETRIC_DUPLICATE"
	IssueSanctionMatch         IssueType = "SANCTION_MATCH"
)

// Status of a ticket.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
)

// Ticket is one case for the adjudication workflow. GoldenIndividual is the
// record under review; PossibleDuplicates are its candidate matches.
type Ticket struct {
	ID        domain.TicketID
	Category  Category
	IssueType IssueType
	Status    Status

	BusinessArea domain.BusinessAreaSlug
	ProgramID    domain.ProgramID
	ImportID     domain.ImportID

	GoldenIndividual   domain.IndividualID
	PossibleDuplicates []domain.IndividualID

	Comment string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTicket builds a ticket in NEW state.
func NewTicket(id domain.TicketID, category Category, issue IssueType,
	rdiImport domain.ImportID, programID domain.ProgramID, area domain.BusinessAreaSlug,
	golden domain.IndividualID, duplicates []domain.IndividualID, now time.Time) (*Ticket, error) {

	if golden.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ticket requires a golden individual")
	}
	return &Ticket{
		ID:                 id,
		Category:           category,
		IssueType:          issue,
		Status:             StatusNew,
		BusinessArea:       area,
		ProgramID:          programID,
		ImportID:           rdiImport,
		GoldenIndividual:   golden,
		PossibleDuplicates: duplicates,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Open reports whether the ticket still needs adjudication.
func (t *Ticket) Open() bool { return t.Status != StatusClosed }

// Individuals returns every individual the ticket references.
func (t *Ticket) Individuals() []domain.IndividualID {
	out := make([]domain.IndividualID, 0, len(t.PossibleDuplicates)+1)
	out = append(out, t.GoldenIndividual)
	out = append(out, t.PossibleDuplicates...)
	return out
}

// Covers reports whether the ticket already references every given
// individual; used to avoid duplicate open tickets for the same case.
func (t *Ticket) Covers(ids []domain.IndividualID) bool {
	member := make(map[domain.IndividualID]struct{})
	for _, id := range t.Individuals() {
		member[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := member[id]; !ok {
			return false
		}
	}
	return true
}
