package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"custodia/internal/attestation"
	"custodia/internal/custody"
	"custodia/internal/evidence"
	"custodia/internal/investigation"
	"custodia/internal/platform/middleware"
	"custodia/internal/transfer"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/httputil"
)

const defaultPageSize = 50

type handler struct {
	side *Side
	log  *slog.Logger
}

func newHandler(side *Side, log *slog.Logger) *handler {
	return &handler{side: side, log: log}
}

// Register mounts the variant's endpoints.
func (h *handler) Register(r chi.Router) {
	r.Route("/investigations", func(r chi.Router) {
		r.Post("/", h.createInvestigation)
		r.Get("/", h.listInvestigations)
		r.Get("/{id}", h.getInvestigation)
		r.Put("/{id}/status", h.updateInvestigationStatus)
		r.Post("/{id}/archive", h.archiveInvestigation)
		r.Post("/{id}/reopen", h.reopenInvestigation)
		r.Get("/{id}/evidence", h.queryEvidenceByCase)
	})

	r.Route("/evidence", func(r chi.Router) {
		r.Post("/", h.createEvidence)
		r.Get("/", h.listEvidence)
		r.Get("/{id}", h.getEvidence)
		r.Put("/{id}/status", h.updateEvidenceStatus)
		r.Get("/{id}/history", h.evidenceHistory)
		r.Get("/{id}/custody", h.custodyHistory)
	})

	r.Post("/custody/transfers", h.transferCustody)
	r.Post("/guids/resolve", h.resolveGUID)
	r.Post("/guids", h.registerGUID)

	r.Route("/attestation", func(r chi.Router) {
		r.Post("/init", h.initAttestation)
		r.Post("/register", h.registerAttestation)
		r.Get("/config", h.attestationConfig)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Get("/logs", h.listAllAudits)
		r.Get("/logs/self", h.listOwnAudits)
	})

	r.Route("/archive", func(r chi.Router) {
		r.Post("/evidence", h.archiveEvidence)
		r.Post("/investigations", h.archiveInvestigationRecord)
		r.Get("/metadata/{id}", h.archiveMetadata)
		r.Get("/verify/{id}", h.verifyArchiveIntegrity)
	})

	r.Route("/transfers", func(r chi.Router) {
		r.Post("/archive/export", h.exportForArchive)
		r.Post("/archive/import", h.importArchived)
		r.Post("/archive/complete", h.completeArchive)
		r.Post("/reactivation/export", h.exportForReactivation)
		r.Post("/reactivation/import", h.importReactivated)
		r.Post("/reactivation/complete", h.completeReactivation)
	})
}

func pageParams(r *http.Request) (int, string) {
	pageSize := defaultPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}
	return pageSize, r.URL.Query().Get("bookmark")
}

type pagedResponse struct {
	Items    any    `json:"items"`
	Bookmark string `json:"bookmark,omitempty"`
}

// Investigations

func (h *handler) createInvestigation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[investigation.CreateParams](w, r, h.log)
	if !ok {
		return
	}
	inv, err := h.side.Investigations.Create(r.Context(), middleware.Actor(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) getInvestigation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.side.Investigations.Get(r.Context(), middleware.Actor(r.Context()), id.CaseID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) listInvestigations(w http.ResponseWriter, r *http.Request) {
	pageSize, bookmark := pageParams(r)
	items, next, err := h.side.Investigations.List(r.Context(), middleware.Actor(r.Context()), pageSize, bookmark)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: items, Bookmark: next})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handler) updateInvestigationStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[statusRequest](w, r, h.log)
	if !ok {
		return
	}
	inv, err := h.side.Investigations.UpdateStatus(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(chi.URLParam(r, "id")), investigation.Status(req.Status))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

type courtOrderRequest struct {
	CourtOrder string `json:"court_order"`
}

func (h *handler) archiveInvestigation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[courtOrderRequest](w, r, h.log)
	if !ok {
		return
	}
	inv, err := h.side.Investigations.Archive(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(chi.URLParam(r, "id")), req.CourtOrder)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) reopenInvestigation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[courtOrderRequest](w, r, h.log)
	if !ok {
		return
	}
	inv, err := h.side.Investigations.Reopen(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(chi.URLParam(r, "id")), req.CourtOrder)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

// Evidence

func (h *handler) createEvidence(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[evidence.CreateParams](w, r, h.log)
	if !ok {
		return
	}
	ev, err := h.side.Evidence.Create(r.Context(), middleware.Actor(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ev)
}

func (h *handler) getEvidence(w http.ResponseWriter, r *http.Request) {
	ev, err := h.side.Evidence.Get(r.Context(), middleware.Actor(r.Context()), id.EvidenceID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}

// listEvidence serves the paginated listing plus the custodian and hash
// lookups, selected by query parameter.
func (h *handler) listEvidence(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context())

	if hash := r.URL.Query().Get("hash"); hash != "" {
		ev, err := h.side.Evidence.QueryByHash(r.Context(), actor, hash)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ev)
		return
	}
	if custodian := r.URL.Query().Get("custodian"); custodian != "" {
		items, err := h.side.Evidence.QueryByCustodian(r.Context(), actor, custodian)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: items})
		return
	}

	pageSize, bookmark := pageParams(r)
	items, next, err := h.side.Evidence.List(r.Context(), actor, pageSize, bookmark)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: items, Bookmark: next})
}

func (h *handler) queryEvidenceByCase(w http.ResponseWriter, r *http.Request) {
	items, err := h.side.Evidence.QueryByCase(r.Context(), middleware.Actor(r.Context()), id.CaseID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: items})
}

func (h *handler) updateEvidenceStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[statusRequest](w, r, h.log)
	if !ok {
		return
	}
	ev, err := h.side.Evidence.UpdateStatus(r.Context(), middleware.Actor(r.Context()),
		id.EvidenceID(chi.URLParam(r, "id")), evidence.Status(req.Status))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}

func (h *handler) evidenceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.side.Evidence.GetHistory(r.Context(), middleware.Actor(r.Context()), id.EvidenceID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: history})
}

// Custody

func (h *handler) transferCustody(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[custody.TransferParams](w, r, h.log)
	if !ok {
		return
	}
	t, err := h.side.Custody.Transfer(r.Context(), middleware.Actor(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *handler) custodyHistory(w http.ResponseWriter, r *http.Request) {
	chain, err := h.side.Custody.History(r.Context(), middleware.Actor(r.Context()), id.EvidenceID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: chain})
}

// GUID resolution

type resolveGUIDRequest struct {
	GUID       string `json:"guid"`
	CourtOrder string `json:"court_order"`
}

func (h *handler) resolveGUID(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[resolveGUIDRequest](w, r, h.log)
	if !ok {
		return
	}
	mapping, err := h.side.GUIDs.Resolve(r.Context(), middleware.Actor(r.Context()), id.GUID(req.GUID), req.CourtOrder)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, mapping)
}

type registerGUIDRequest struct {
	GUID         string `json:"guid"`
	RealID       string `json:"real_id"`
	ResourceType string `json:"resource_type"`
}

func (h *handler) registerGUID(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerGUIDRequest](w, r, h.log)
	if !ok {
		return
	}
	mapping, err := h.side.GUIDs.Register(r.Context(), middleware.Actor(r.Context()), id.GUID(req.GUID), req.RealID, req.ResourceType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, mapping)
}

// Attestation

func (h *handler) initAttestation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[attestation.InitParams](w, r, h.log)
	if !ok {
		return
	}
	config, err := h.side.Attestation.Init(r.Context(), middleware.Actor(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, config)
}

type registerAttestationRequest struct {
	AttestationDoc string `json:"attestation_doc"`
}

func (h *handler) registerAttestation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[registerAttestationRequest](w, r, h.log)
	if !ok {
		return
	}
	config, err := h.side.Attestation.Register(r.Context(), middleware.Actor(r.Context()), req.AttestationDoc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, config)
}

func (h *handler) attestationConfig(w http.ResponseWriter, r *http.Request) {
	config, err := h.side.Attestation.Config(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, config)
}

// Audit

func (h *handler) listAllAudits(w http.ResponseWriter, r *http.Request) {
	entries, err := h.side.Audits.ListAll(r.Context(), middleware.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: entries})
}

func (h *handler) listOwnAudits(w http.ResponseWriter, r *http.Request) {
	entries, err := h.side.Audits.ListByActor(r.Context(), middleware.Actor(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagedResponse{Items: entries})
}

// Archive guard

type archiveEvidenceRequest struct {
	Evidence      json.RawMessage `json:"evidence"`
	SourceTxID    string          `json:"source_tx_id"`
	IntegrityHash string          `json:"integrity_hash"`
}

type archiveInvestigationRequest struct {
	Investigation json.RawMessage `json:"investigation"`
	SourceTxID    string          `json:"source_tx_id"`
}

func (h *handler) archiveEvidence(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[archiveEvidenceRequest](w, r, h.log)
	if !ok {
		return
	}
	ev, err := h.side.Archive.ArchiveEvidence(r.Context(), middleware.Actor(r.Context()),
		req.Evidence, req.SourceTxID, req.IntegrityHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ev)
}

func (h *handler) archiveInvestigationRecord(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[archiveInvestigationRequest](w, r, h.log)
	if !ok {
		return
	}
	inv, err := h.side.Archive.ArchiveInvestigation(r.Context(), middleware.Actor(r.Context()),
		req.Investigation, req.SourceTxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) archiveMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.side.Archive.GetMetadata(r.Context(), middleware.Actor(r.Context()), id.EvidenceID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meta)
}

func (h *handler) verifyArchiveIntegrity(w http.ResponseWriter, r *http.Request) {
	err := h.side.Archive.VerifyIntegrity(r.Context(), middleware.Actor(r.Context()), id.EvidenceID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// Cross-ledger transfer protocol

type caseTransferRequest struct {
	InvestigationID string `json:"investigation_id"`
	CourtOrder      string `json:"court_order"`
}

func (h *handler) exportForArchive(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[caseTransferRequest](w, r, h.log)
	if !ok {
		return
	}
	pkg, err := h.side.Transfers.ExportCaseForArchive(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(req.InvestigationID), req.CourtOrder)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

func (h *handler) importArchived(w http.ResponseWriter, r *http.Request) {
	pkg, ok := httputil.Decode[transfer.CaseExportPackage](w, r, h.log)
	if !ok {
		return
	}
	record, err := h.side.Transfers.ImportArchivedCase(r.Context(), middleware.Actor(r.Context()), pkg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

type completeTransferRequest struct {
	InvestigationID string `json:"investigation_id"`
	RemoteTxID      string `json:"remote_tx_id"`
}

func (h *handler) completeArchive(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[completeTransferRequest](w, r, h.log)
	if !ok {
		return
	}
	receipt, err := h.side.Transfers.CompleteArchiveTransfer(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(req.InvestigationID), req.RemoteTxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *handler) exportForReactivation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[caseTransferRequest](w, r, h.log)
	if !ok {
		return
	}
	pkg, err := h.side.Transfers.ExportCaseForReactivation(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(req.InvestigationID), req.CourtOrder)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pkg)
}

func (h *handler) importReactivated(w http.ResponseWriter, r *http.Request) {
	pkg, ok := httputil.Decode[transfer.CaseExportPackage](w, r, h.log)
	if !ok {
		return
	}
	record, err := h.side.Transfers.ImportReactivatedCase(r.Context(), middleware.Actor(r.Context()), pkg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *handler) completeReactivation(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[completeTransferRequest](w, r, h.log)
	if !ok {
		return
	}
	receipt, err := h.side.Transfers.CompleteReactivationTransfer(r.Context(), middleware.Actor(r.Context()),
		id.CaseID(req.InvestigationID), req.RemoteTxID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}
