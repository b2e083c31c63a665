// Package evidence manages evidence records: collection on the hot ledger
// and the frozen copies the archival protocol lands on cold.
package evidence

import (
	id "custodia/pkg/domain"
)

// RecordType discriminates evidence documents for equality-selector queries.
const RecordType = "evidence"

// Chain designations. Hot evidence is mutable; cold evidence is frozen by
// the archive guard.
const (
	ChainHot  = "hot"
	ChainCold = "cold"
)

// Status is an evidence handling state.
type Status string

const (
	StatusCollected       Status = "collected"
	StatusAnalyzed        Status = "analyzed"
	StatusReviewed        Status = "reviewed"
	StatusReadyForArchive Status = "ready-for-archive"
	StatusArchived        Status = "archived"
	StatusDisposed        Status = "disposed"
)

var validStatuses = map[Status]bool{
	StatusCollected:       true,
	StatusAnalyzed:        true,
	StatusReviewed:        true,
	StatusReadyForArchive: true,
	StatusArchived:        true,
	StatusDisposed:        true,
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool { return validStatuses[s] }

// Evidence is one item of digital evidence. Only hashes and pointers are
// stored, never file content. The Archived*/Source* fields are zero on hot
// and stamped by the archive guard on cold.
type Evidence struct {
	ID              id.EvidenceID `json:"id"`
	RecordType      string        `json:"record_type"`
	CaseID          id.CaseID     `json:"case_id"`
	Type            string        `json:"type"`
	Description     string        `json:"description"`
	Hash            string        `json:"hash"`
	IPFSHash        string        `json:"ipfs_hash"`
	Location        string        `json:"location"`
	Custodian       string        `json:"custodian"`
	CollectedBy     id.ActorID    `json:"collected_by"`
	Timestamp       int64         `json:"timestamp"`
	Status          Status        `json:"status"`
	Metadata        string        `json:"metadata"`
	FileSize        int64         `json:"file_size"`
	ChainType       string        `json:"chain_type"`
	TransactionID   string        `json:"transaction_id"`
	CustodyChainRef string        `json:"custody_chain_ref"`
	CreatedBy       id.ActorID    `json:"created_by"`
	ArchivedBy      id.ActorID    `json:"archived_by,omitempty"`
	CreatedAt       int64         `json:"created_at"`
	ArchivedAt      int64         `json:"archived_at,omitempty"`
	UpdatedAt       int64         `json:"updated_at"`
	SourceChain     string        `json:"source_chain,omitempty"`
	SourceTxID      string        `json:"source_tx_id,omitempty"`
}
