// Package transfer implements the three-phase cross-ledger case handoff:
// export on the source ledger, import on the destination, completion back on
// the source. No cross-store transaction exists, so each phase is atomic on
// its own ledger only and the completion phases are retry-safe; a case stuck
// in a transferring_* state is an operator signal, not corruption.
package transfer

import (
	"custodia/internal/evidence"
	"custodia/internal/investigation"
	id "custodia/pkg/domain"
)

// CaseExportPackage carries a complete case between ledgers: the case
// record, every evidence item, and the authority under which it moves.
type CaseExportPackage struct {
	Investigation investigation.Investigation `json:"investigation"`
	Evidence      []evidence.Evidence         `json:"evidence"`
	CourtOrder    string                      `json:"court_order"`
	ExportedAt    int64                       `json:"exported_at"`
	ExportedBy    id.ActorID                  `json:"exported_by"`
	SourceChain   string                      `json:"source_chain"`
	TransferTxID  string                      `json:"transfer_tx_id"`
}

// ImportRecord documents one applied import on the destination ledger.
type ImportRecord struct {
	InvestigationID id.CaseID  `json:"investigation_id"`
	SourceChain     string     `json:"source_chain"`
	SourceTxID      string     `json:"source_tx_id"`
	CourtOrder      string     `json:"court_order"`
	ImportedAt      int64      `json:"imported_at"`
	ImportedBy      id.ActorID `json:"imported_by"`
	ImportTxID      string     `json:"import_tx_id"`
	EvidenceCount   int        `json:"evidence_count"`
}

// ArchiveReceipt closes the hot→cold handoff on the hot ledger.
type ArchiveReceipt struct {
	InvestigationID id.CaseID `json:"investigation_id"`
	ColdChainTxID   string    `json:"cold_chain_tx_id"`
	CompletedAt     int64     `json:"completed_at"`
}

// ReactivationReceipt closes the cold→hot handoff on the cold ledger.
type ReactivationReceipt struct {
	InvestigationID id.CaseID `json:"investigation_id"`
	HotChainTxID    string    `json:"hot_chain_tx_id"`
	CompletedAt     int64     `json:"completed_at"`
}

// Ledger keys for the protocol's bookkeeping records.
func ExportKey(caseID id.CaseID, txID string) string { return "export_" + string(caseID) + "_" + txID }
func ImportKey(caseID id.CaseID, txID string) string { return "import_" + string(caseID) + "_" + txID }
func ArchiveCompleteKey(caseID id.CaseID) string     { return "archive_complete_" + string(caseID) }
func ReactivationCompleteKey(caseID id.CaseID) string {
	return "reactivation_complete_" + string(caseID)
}
