package searchindex

import (
	"intake/internal/registration/models"
	"intake/pkg/domain"
)

// FromIndividual denormalizes an individual into its index document.
//
// The business-area tag is only set once the individual is merged: population
// scope filters on it, so still-pending rows from this or any other import
// can never leak into a golden-record query. Batch scope filters on the
// import tag, which is always present.
func FromIndividual(ind *models.Individual) Document {
	area := domain.BusinessAreaSlug("")
	if ind.IsMerged() {
		area = ind.BusinessArea
	}
	return Document{
		ID:             ind.ID,
		GivenName:      ind.GivenName,
		MiddleName:     ind.MiddleName,
		FamilyName:     ind.FamilyName,
		FullName:       ind.FullName,
		Relationship:   ind.Relationship,
		Sex:            ind.Sex,
		BirthDate:      ind.BirthDate.Format("2006-01-02"),
		PhoneNumber:    ind.PhoneNumber,
		PhoneNumberAlt: ind.PhoneNumberAlt,
		IdentityHash:   ind.IdentityHash,
		BusinessArea:   area,
		ImportID:       ind.ImportID.String(),
	}
}

// FromIndividuals maps a batch of individuals to documents.
func FromIndividuals(inds []*models.Individual) []Document {
	docs := make([]Document, 0, len(inds))
	for _, ind := range inds {
		docs = append(docs, FromIndividual(ind))
	}
	return docs
}
