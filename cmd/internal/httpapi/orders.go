package httpapi

import (
	"net/http"
	"strings"

	"kiln/cmd/internal/order"
)

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	lines := make([]order.LineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, order.LineRequest{VariantID: it.VariantID, Quantity: it.Quantity})
	}

	p := principal(r)
	placed, err := h.deps.Engine.PlaceOrder(r.Context(), order.PlaceInput{
		OwnerID:         p.UserID,
		InvitationCode:  req.InvitationCode,
		Lines:           lines,
		ShippingAddress: req.ShippingAddress,
		ContactInfo:     req.ContactInfo,
		RequestID:       requestID,
	})
	if err != nil {
		h.writeAppError(w, r, "http.orders.place", err)
		return
	}
	writeJSON(w, http.StatusCreated, orderEnvelope{Order: toOrderResponse(placed)})
}

func (h *Handler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	orders, err := h.deps.Reader.ListByOwner(r.Context(), principal(r).UserID)
	if err != nil {
		h.writeAppError(w, r, "http.orders.list", err)
		return
	}
	writeJSON(w, http.StatusOK, ordersEnvelope{Orders: toOrderList(orders)})
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.deps.Reader.ListAll(r.Context())
	if err != nil {
		h.writeAppError(w, r, "http.orders.list_all", err)
		return
	}
	writeJSON(w, http.StatusOK, ordersEnvelope{Orders: toOrderList(orders)})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.deps.Reader.Get(r.Context(), r.PathValue("id"), principal(r).Scope())
	if err != nil {
		h.writeAppError(w, r, "http.orders.get", err)
		return
	}
	writeJSON(w, http.StatusOK, orderEnvelope{Order: toOrderResponse(o)})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	// Scope check first so foreign orders answer Forbidden, not their history.
	if _, err := h.deps.Reader.Get(ctx, id, principal(r).Scope()); err != nil {
		h.writeAppError(w, r, "http.orders.history", err)
		return
	}
	entries, err := h.deps.Tracker.History(ctx, id)
	if err != nil {
		h.writeAppError(w, r, "http.orders.history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyEnvelope{StatusHistory: toHistory(entries)})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.deps.Tracker.SetStatus(r.Context(), id, order.Status(req.Status), req.Message); err != nil {
		h.writeAppError(w, r, "http.orders.set_status", err)
		return
	}
	h.log.Info("http.orders.status_set", "order_id", id, "status", req.Status, "by", principal(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Tracker.ShipOrder(r.Context(), id); err != nil {
		h.writeAppError(w, r, "http.orders.ship", err)
		return
	}
	h.log.Info("http.orders.shipped", "order_id", id, "by", principal(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	o, err := h.deps.Reader.Get(r.Context(), r.PathValue("id"), p.Scope())
	if err != nil {
		h.writeAppError(w, r, "http.orders.events", err)
		return
	}
	h.deps.Events.Serve(w, r, p.UserID, o.ID)
}
