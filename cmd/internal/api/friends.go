package api

import (
	"errors"
	"net/http"
	"strings"

	"parley/cmd/internal/friends"
)

func (h *Handler) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req addFriendRequest
	if err := decodeRequest(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, addFriendResponse{Message: "Invalid request body."})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, addFriendResponse{Message: "Username cannot be empty."})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, addFriendResponse{Message: validationMessage(err)})
		return
	}

	caller := principal(r)
	if req.Username == caller.Username {
		writeJSON(w, http.StatusBadRequest, addFriendResponse{Message: "Cannot add yourself as friend."})
		return
	}

	err := h.friends.AddFriend(r.Context(), caller.Username, req.Username)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, addFriendResponse{
			Success: true,
			Message: "Successfully added " + req.Username + " as friend!",
		})
	case errors.Is(err, friends.ErrUnknownUser),
		errors.Is(err, friends.ErrAlreadyFriends),
		errors.Is(err, friends.ErrSelfFriend):
		writeJSON(w, http.StatusOK, addFriendResponse{
			Message: "Failed to add friend. User may not exist or already friends.",
		})
	default:
		h.log.Error("api.friends.add.fail", "user_id", caller.UserID, "target", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, addFriendResponse{Message: "Internal server error."})
	}
}

func (h *Handler) handleListFriends(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	list, err := h.friends.GetFriends(r.Context(), caller.UserID)
	if err != nil {
		h.log.Error("api.friends.list.fail", "user_id", caller.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toFriendResponses(list))
}

func (h *Handler) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	friendID, err := pathID(r, "friendID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	caller := principal(r)
	if err := h.friends.RemoveFriend(r.Context(), caller.UserID, friendID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	friendID, err := pathID(r, "friendID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var req categoryRequest
	if err := decodeRequest(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	caller := principal(r)
	err = h.friends.SetCategory(r.Context(), caller.UserID, friendID, req.Category)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, friends.ErrNotFriends):
		writeError(w, http.StatusNotFound, "not_friends", "not friends with this user")
	case errors.Is(err, friends.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.log.Error("api.friends.category.fail", "user_id", caller.UserID, "friend_id", friendID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
