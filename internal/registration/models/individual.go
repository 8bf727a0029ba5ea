package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"intake/pkg/domain"
)

// DeduplicationBatchStatus is the in-batch deduplication outcome for an
// individual.
type DeduplicationBatchStatus string

const (
	BatchStatusUnique       DeduplicationBatchStatus = "UNIQUE_IN_BATCH"
	BatchStatusDuplicate    DeduplicationBatchStatus = "DUPLICATE_IN_BATCH"
	BatchStatusSimilar      DeduplicationBatchStatus = "SIMILAR_IN_BATCH"
	BatchStatusNotProcessed DeduplicationBatchStatus = "NOT_PROCESSED"
)

// DeduplicationGoldenRecordStatus is the population-scope deduplication
// outcome for an individual.
type DeduplicationGoldenRecordStatus string

const (
	GoldenRecordStatusUnique            DeduplicationGoldenRecordStatus = "UNIQUE"
	GoldenRecordStatusDuplicate         DeduplicationGoldenRecordStatus = "DUPLICATE"
	GoldenRecordStatusNeedsAdjudication DeduplicationGoldenRecordStatus = "NEEDS_ADJUDICATION"
	GoldenRecordStatusNotProcessed      DeduplicationGoldenRecordStatus = "NOT_PROCESSED"
)

// MergeStatus separates staging rows from the merged golden record.
type MergeStatus string

const (
	MergeStatusPending MergeStatus = "PENDING"
	MergeStatusMerged  MergeStatus = "MERGED"
)

// Document is an identity document attached to an individual.
type Document struct {
	Type        string `json:"type"`
	Number      string `json:"number"`
	CountryCode string `json:"country_code"`
}

// Individual is a person record. Rows with MergeStatus PENDING belong to an
// in-review import batch; rows with MergeStatus MERGED form the golden record.
//
// Invariants:
//   - IdentityHash is derived from the identity fields and recomputed on any
//     change to them; two individuals with equal hashes are the same person
//     as far as deduplication is concerned.
//   - Deduplication statuses and result payloads are mutated only by the
//     deduplication pipeline; merged rows change only through grievance-driven
//     correction.
type Individual struct {
	ID           domain.IndividualID
	HouseholdID  domain.HouseholdID
	ImportID     domain.ImportID
	ProgramID    domain.ProgramID
	BusinessArea domain.BusinessAreaSlug

	UnicefID       string
	GivenName      string
	MiddleName     string
	FamilyName     string
	FullName       string
	Relationship   string
	Sex            string
	BirthDate      time.Time
	PhoneNumber    string
	PhoneNumberAlt string
	Documents      []Document

	// PhotoKey is the object-store key of the face photo; empty when the
	// individual registered without one.
	PhotoKey string

	Withdrawn bool
	Removed   bool

	IdentityHash string
	MergeStatus  MergeStatus

	DeduplicationBatchStatus         DeduplicationBatchStatus
	DeduplicationGoldenRecordStatus  DeduplicationGoldenRecordStatus
	DeduplicationBatchResults        DedupResults
	DeduplicationGoldenRecordResults DedupResults

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeIdentityHash derives the content hash over the identity fields.
// Field order and normalization are part of the hash contract: changing
// either invalidates every stored hash.
func (i *Individual) ComputeIdentityHash() string {
	parts := []string{
		normalize(i.GivenName),
		normalize(i.MiddleName),
		normalize(i.FamilyName),
		normalize(i.FullName),
		normalize(i.Sex),
		i.BirthDate.Format("2006-01-02"),
		normalize(i.PhoneNumber),
		normalize(i.PhoneNumberAlt),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// RefreshIdentityHash recomputes and stores the identity hash.
func (i *Individual) RefreshIdentityHash() {
	i.IdentityHash = i.ComputeIdentityHash()
}

// IsMerged reports whether the individual belongs to the golden record.
func (i *Individual) IsMerged() bool { return i.MergeStatus == MergeStatusMerged }

// EligibleForBiometrics reports whether the individual's photo should be
// uploaded to the biometric engine.
func (i *Individual) EligibleForBiometrics() bool {
	return !i.Removed && !i.Withdrawn &&
		i.DeduplicationGoldenRecordStatus != GoldenRecordStatusDuplicate &&
		i.PhotoKey != ""
}

// ApplyMerge promotes the individual into the golden record, carrying the
// deduplication statuses and payloads over unchanged.
func (i *Individual) ApplyMerge(now time.Time) {
	i.MergeStatus = MergeStatusMerged
	i.UpdatedAt = now
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
