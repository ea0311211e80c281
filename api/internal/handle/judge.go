package handle

import (
	"net/http"

	"code-mentor/api/internal/mentor"
)

func (h *Handle) JudgeCompetition(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req mentor.JudgeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	out, err := h.svc.Judge(ctx, req)
	if err != nil {
		h.fail(w, r, err, "Unable to judge competition")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
