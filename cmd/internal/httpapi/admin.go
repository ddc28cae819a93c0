package httpapi

import (
	"net/http"
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
)

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	b, err := h.deps.Ledger.CreateBatch(r.Context(), ledger.CreateBatchInput{Name: req.Name, Deadline: req.Deadline})
	if err != nil {
		h.writeAppError(w, r, "http.admin.batches.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchResponse(b))
}

func (h *Handler) handleIssueCredentials(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	creds, err := h.deps.Ledger.IssueCredentials(r.Context(), ledger.IssueInput{
		BatchID:           r.PathValue("id"),
		Count:             req.Count,
		MaxOrders:         req.MaxOrders,
		MaxItemsPerOrder:  req.MaxItemsPerOrder,
		AllowedVariantIDs: req.AllowedVariantIDs,
	})
	if err != nil {
		h.writeAppError(w, r, "http.admin.credentials.issue", err)
		return
	}
	out := credentialsEnvelope{Credentials: make([]credentialResponse, 0, len(creds))}
	for _, c := range creds {
		out.Credentials = append(out.Credentials, toCredentialResponse(c))
	}
	h.log.Info("http.admin.credentials.issued", "batch_id", r.PathValue("id"), "count", len(creds), "by", principal(r).UserID)
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleCancelCredential(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Ledger.Cancel(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeAppError(w, r, "http.admin.credentials.cancel", err)
		return
	}
	h.log.Info("http.admin.credentials.cancelled", "credential_id", c.ID, "by", principal(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefreshCredentials(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Ledger.RefreshStatuses(r.Context(), time.Now().UTC())
	if err != nil {
		h.writeAppError(w, r, "http.admin.credentials.refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		ExpiredCredentials: res.ExpiredCredentials,
		UsedUpCredentials:  res.UsedUpCredentials,
		ExpiredBatches:     res.ExpiredBatches,
	})
}

func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	vs, err := h.deps.Inventory.List(r.Context())
	if err != nil {
		h.writeAppError(w, r, "http.admin.variants.list", err)
		return
	}
	out := make([]variantResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, toVariantResponse(v))
	}
	writeJSON(w, http.StatusOK, variantsEnvelope{Variants: out})
}

func (h *Handler) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	var req createVariantRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	v, err := h.deps.Inventory.CreateVariant(r.Context(), inventory.CreateInput{
		ProductID:        req.ProductID,
		Specification:    req.Specification,
		Stock:            req.Stock,
		MaxOrderQuantity: req.MaxOrderQuantity,
		PriceCents:       req.PriceCents,
	})
	if err != nil {
		h.writeAppError(w, r, "http.admin.variants.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVariantResponse(v))
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	v, err := h.deps.Inventory.Restock(r.Context(), r.PathValue("id"), req.Delta)
	if err != nil {
		h.writeAppError(w, r, "http.admin.variants.restock", err)
		return
	}
	writeJSON(w, http.StatusOK, toVariantResponse(v))
}
