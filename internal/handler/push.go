package handler

import (
	"net/http"

	"github.com/jobchat/internal/middleware"
	"github.com/jobchat/internal/push"
)

// PushHandler управляет Web Push подписками пользователя.
type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

type subscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type vapidResponse struct {
	PublicKey string `json:"publicKey"`
	Enabled   bool   `json:"enabled"`
}

func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	key := h.notifier.PublicKey()
	writeJSON(w, http.StatusOK, vapidResponse{PublicKey: key, Enabled: key != ""})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.notifier.Subscribe(r.Context(), middleware.GetUserID(r.Context()), req.Subscription); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.notifier.Unsubscribe(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
