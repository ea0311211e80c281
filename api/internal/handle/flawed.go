package handle

import (
	"net/http"

	"code-mentor/api/internal/mentor"
)

func (h *Handle) GenerateFlawedCode(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req mentor.CodeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	out, err := h.svc.GenerateFlawed(ctx, req)
	if err != nil {
		h.fail(w, r, err, "Unable to generate flawed code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"flawed_code": out})
}
