package handle

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"code-mentor/api/internal/prompt"
)

type updatePromptReq struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type updatePromptResp struct {
	OK      bool   `json:"ok"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Updated string `json:"updated"`
}

// UpdatePrompt replaces one prompt template at runtime. It exists only when an
// admin token and a prompt directory are configured.
func (h *Handle) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	if h.adminToken == "" || h.prompts == nil || h.prompts.Dir() == "" {
		http.NotFound(w, r)
		return
	}
	if !postOnly(w, r) {
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updatePromptReq
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "name and text are required")
		return
	}

	path, err := h.prompts.Update(req.Name, req.Text)
	switch {
	case errors.Is(err, prompt.ErrUnknown):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, prompt.ErrTemplate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Str("prompt", req.Name).Msg("update prompt")
		writeError(w, http.StatusInternalServerError, "Unable to update prompt")
		return
	}

	hlog.FromRequest(r).Info().Str("prompt", req.Name).Str("path", path).Msg("prompt updated")
	writeJSON(w, http.StatusOK, updatePromptResp{
		OK:      true,
		Name:    strings.TrimSuffix(strings.TrimSpace(req.Name), ".tmpl"),
		Path:    path,
		Size:    len(req.Text),
		Updated: time.Now().UTC().Format(time.RFC3339),
	})
}
