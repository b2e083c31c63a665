// Package investigation manages case records on both ledger variants: the
// active lifecycle on the hot ledger and the frozen archival copy on cold.
package investigation

import (
	id "custodia/pkg/domain"
)

// RecordType discriminates investigation documents in the shared record
// space for equality-selector queries.
const RecordType = "investigation"

// Status is an investigation lifecycle state. The transferring_* states are
// owned by the cross-ledger transfer protocol and are never set through
// UpdateStatus directly.
type Status string

const (
	StatusOpen               Status = "open"
	StatusUnderInvestigation Status = "under_investigation"
	StatusClosed             Status = "closed"
	StatusArchived           Status = "archived"

	// Transfer protocol substates.
	StatusTransferringToArchive Status = "transferring_to_archive"
	StatusArchivedOnCold        Status = "archived_on_cold"
	StatusTransferringToHot     Status = "transferring_to_hot"
	StatusTransferredToHot      Status = "transferred_to_hot"
)

var transitions = map[Status][]Status{
	StatusOpen:                  {StatusUnderInvestigation, StatusClosed},
	StatusUnderInvestigation:    {StatusOpen, StatusClosed},
	StatusClosed:                {StatusOpen, StatusUnderInvestigation, StatusArchived, StatusTransferringToArchive},
	StatusArchived:              {StatusOpen, StatusTransferringToHot},
	StatusTransferringToArchive: {StatusArchivedOnCold},
	StatusArchivedOnCold:        {StatusOpen},
	StatusTransferringToHot:     {StatusTransferredToHot},
	StatusTransferredToHot:      {},
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Investigation is a case record. The Archived* fields are zero on the hot
// ledger and stamped when the archival protocol lands the record on cold.
type Investigation struct {
	ID               id.CaseID  `json:"id"`
	RecordType       string     `json:"record_type"`
	CaseNumber       string     `json:"case_number"`
	CaseName         string     `json:"case_name"`
	InvestigatingOrg string     `json:"investigating_org"`
	LeadInvestigator string     `json:"lead_investigator"`
	Status           Status     `json:"status"`
	OpenedDate       int64      `json:"opened_date"`
	ClosedDate       int64      `json:"closed_date"`
	ArchivedDate     int64      `json:"archived_date,omitempty"`
	Description      string     `json:"description"`
	EvidenceCount    int        `json:"evidence_count"`
	CreatedBy        id.ActorID `json:"created_by"`
	ArchivedBy       id.ActorID `json:"archived_by,omitempty"`
	CreatedAt        int64      `json:"created_at"`
	ArchivedAt       int64      `json:"archived_at,omitempty"`
	UpdatedAt        int64      `json:"updated_at"`
}
