// Package searchindex defines the similarity search contract the
// deduplication engine queries, together with the production Elasticsearch
// client and an in-memory implementation used by unit tests.
package searchindex

import (
	"context"

	"intake/pkg/domain"
)

// Document is the denormalized copy of an individual held by the index.
type Document struct {
	ID             domain.IndividualID     `json:"id"`
	GivenName      string                  `json:"given_name"`
	MiddleName     string                  `json:"middle_name"`
	FamilyName     string                  `json:"family_name"`
	FullName       string                  `json:"full_name"`
	Relationship   string                  `json:"relationship"`
	Sex            string                  `json:"sex"`
	BirthDate      string                  `json:"birth_date"`
	PhoneNumber    string                  `json:"phone_no"`
	PhoneNumberAlt string                  `json:"phone_no_alternative"`
	IdentityHash   string                  `json:"identity_hash"`
	BusinessArea   domain.BusinessAreaSlug `json:"business_area"`
	ImportID       string                  `json:"registration_data_import_id"`
}

// Hit is one scored result of a similarity query.
type Hit struct {
	ID           domain.IndividualID
	FullName     string
	IdentityHash string
	Score        float64
}

// Index is the similarity search collaborator. It is an eventually
// consistent side store: writes are not transactional with the relational
// store, which is why Delete exists as explicit compensation.
type Index interface {
	// Search runs a similarity query and returns hits ordered by descending
	// score. An empty or unpopulated scope yields no hits, not an error.
	Search(ctx context.Context, q Query) ([]Hit, error)

	// Upsert (re)indexes documents, replacing any previous version.
	Upsert(ctx context.Context, docs []Document) error

	// Delete removes documents by individual id. Missing ids are ignored.
	Delete(ctx context.Context, ids []domain.IndividualID) error

	// DeleteByImport removes every document tagged with the import, used by
	// administrative import deletion.
	DeleteByImport(ctx context.Context, importID domain.ImportID) error
}
