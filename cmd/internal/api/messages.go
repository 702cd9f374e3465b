package api

import (
	"errors"
	"net/http"
	"strings"

	"parley/cmd/internal/chat"
)

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	friendID, err := pathID(r, "friendID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if !h.requireUser(w, r, friendID, "api.history") {
		return
	}

	caller := principal(r)
	msgs, err := h.chat.ConversationHistory(r.Context(), caller.UserID, friendID)
	if err != nil {
		h.log.Error("api.history.fail", "user_id", caller.UserID, "friend_id", friendID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	friendID, err := pathID(r, "friendID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req sendMessageRequest
	if err := decodeRequest(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := chat.ValidateContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, "empty_content", "Message content cannot be empty")
		return
	}
	if !h.requireUser(w, r, friendID, "api.send") {
		return
	}

	caller := principal(r)
	stored, err := h.chat.Send(r.Context(), chat.Message{
		SenderID:   caller.UserID,
		ReceiverID: friendID,
		Content:    strings.TrimSpace(req.Content),
	})
	if err != nil {
		if errors.Is(err, chat.ErrNotPermitted) {
			writeError(w, http.StatusForbidden, "forbidden", "not permitted to message this user")
			return
		}
		h.log.Error("api.send.fail", "user_id", caller.UserID, "friend_id", friendID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(stored))
}

func (h *Handler) handleAllMessages(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	msgs, err := h.chat.AllMessagesForUser(r.Context(), caller.UserID)
	if err != nil {
		h.log.Error("api.messages.fail", "user_id", caller.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	var req markDeliveredRequest
	if err := decodeRequest(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	if err := h.chat.MarkAsDelivered(r.Context(), req.IDs); err != nil {
		h.log.Error("api.delivered.fail", "user_id", principal(r).UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
