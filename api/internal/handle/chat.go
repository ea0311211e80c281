package handle

import (
	"net/http"

	"code-mentor/api/internal/mentor"
)

type chatReq struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResp struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

// StartChat seeds a conversation with the posted code and returns its handle.
func (h *Handle) StartChat(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req mentor.CodeRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	out, err := h.svc.StartConversation(ctx, req)
	if err != nil {
		h.fail(w, r, err, "Unable to start chat")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handle) Chat(w http.ResponseWriter, r *http.Request) {
	if !postOnly(w, r) {
		return
	}
	var req chatReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	reply, err := h.svc.SendMessage(ctx, req.ConversationID, req.Message)
	if err != nil {
		h.fail(w, r, err, "Unable to process chat message")
		return
	}
	writeJSON(w, http.StatusOK, chatResp{ConversationID: req.ConversationID, Response: reply})
}
