package audit

import (
	id "custodia/pkg/domain"
)

// Result classifies an operation outcome in the audit trail.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// RecordType discriminates audit entries in the shared record space so the
// equality-selector query can address the whole trail.
const RecordType = "audit_log"

// Entry is one append-only audit record, keyed by the enclosing transaction
// ID. Every permission decision and every mutation outcome produces one.
type Entry struct {
	ID            string     `json:"id"`
	RecordType    string     `json:"record_type"`
	ActorID       id.ActorID `json:"actor_id"`
	Action        string     `json:"action"`
	Resource      string     `json:"resource"`
	ResourceID    string     `json:"resource_id"`
	Result        Result     `json:"result"`
	Reason        string     `json:"reason"`
	Timestamp     int64      `json:"timestamp"`
	ActorOrg      string     `json:"actor_org"`
	TransactionID string     `json:"transaction_id"`
}

// Key derives the ledger key for an entry.
func Key(txID string) string { return "audit_" + txID }
