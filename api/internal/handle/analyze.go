package handle

import (
	"errors"
	"io"
	"net/http"
)

const maxReportSize = 32 << 20

// AnalyzeSonarQube accepts a multipart upload in field "file" and an optional llm_name form value.
func (h *Handle) AnalyzeSonarQube(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxReportSize+1<<20)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		writeError(w, http.StatusBadRequest, "bad upload: "+err.Error())
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxReportSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	out, err := h.svc.AnalyzeReport(ctx, hdr.Filename, raw, r.FormValue("llm_name"))
	if err != nil {
		h.fail(w, r, err, "Unable to process SonarQube analysis")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
