// Package domain holds shared identifier types for the custody ledger.
//
// Case and evidence identifiers are caller-assigned (case numbers come from
// the investigating organization's numbering scheme), so they are typed
// strings rather than generated UUIDs.
package domain

// CaseID identifies an investigation.
type CaseID string

func (id CaseID) String() string { return string(id) }
func (id CaseID) IsEmpty() bool  { return id == "" }

// EvidenceID identifies a piece of evidence.
type EvidenceID string

func (id EvidenceID) String() string { return string(id) }
func (id EvidenceID) IsEmpty() bool  { return id == "" }

// ActorID is the caller's verified identity, supplied by the external
// identity layer. Opaque to this system.
type ActorID string

func (id ActorID) String() string { return string(id) }
func (id ActorID) IsEmpty() bool  { return id == "" }

// TransferID identifies a custody transfer record.
type TransferID string

func (id TransferID) String() string { return string(id) }

// GUID is a pseudonymous identifier standing in for a real identity until a
// court-role actor resolves it.
type GUID string

func (g GUID) String() string { return string(g) }
func (g GUID) IsEmpty() bool  { return g == "" }
