package httpapi

import "net/http"

func (h *Handler) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req verificationIssueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	exp, err := h.deps.Verify.Issue(r.Context(), req.Email)
	if err != nil {
		h.writeAppError(w, r, "http.verify.issue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationIssuedResponse{ExpiresAt: exp})
}

func (h *Handler) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verificationVerifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := h.deps.Verify.Verify(r.Context(), req.Email, req.Code); err != nil {
		h.writeAppError(w, r, "http.verify.consume", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
